// Package artifact downloads, verifies and installs the artifacts crash
// manages: the proxy core executable, its geo databases and a Web UI bundle.
//
// # Install Model
//
// Every install follows the same steps:
//   - Take the per-kind install lock without waiting (InstallInProgress on contention)
//   - Resolve the platform artifact and the mirror candidate URLs
//   - Download into .staging, trying each candidate with a bounded retry budget
//   - Check the payload's content type and, when the operator installed a
//     keyring, its detached OpenPGP signature
//   - Extract fully inside .staging
//   - Swap into place with a rename, keeping the previous generation as .old
//   - Record the result in manifest.json
//
// A journal written before the swap lets the next install of the same kind
// roll back a swap that was interrupted half way.
//
// # Usage
//
//	inst, err := artifact.NewInstaller(artifact.Config{
//	    Layout:   layout.New(root),
//	    Detector: platform.NewDetector(),
//	})
//	if err != nil {
//	    return err
//	}
//
//	res, err := inst.Install(ctx, artifact.KindCore, artifact.Selection{
//	    Core:     platform.CoreMihomo,
//	    Strategy: mirror.GhProxy,
//	}, false)
//
// # Architecture
//
//   - Installer: orchestration of lock, download, verify, extract and swap
//   - Downloader: mirror fallback with per-URL retry and content checks
//   - Verifier: OpenPGP detached signatures and SHA256 digests
//   - Extractor: tar.gz and zip extraction with path traversal guards
//   - Manifest: persisted record of installed artifacts
package artifact
