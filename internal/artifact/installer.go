package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	crasherr "github.com/ZebulonRouseFrantzich/crash/internal/errors"
	"github.com/ZebulonRouseFrantzich/crash/internal/layout"
	"github.com/ZebulonRouseFrantzich/crash/internal/logging"
	"github.com/ZebulonRouseFrantzich/crash/internal/mirror"
	"github.com/ZebulonRouseFrantzich/crash/internal/platform"
	"github.com/ZebulonRouseFrantzich/crash/internal/transaction"
)

// CandidatesFunc expands a resource into ordered download URLs.
type CandidatesFunc func(res mirror.Resource, strategy mirror.Strategy) []string

// Config holds configuration for the installer
type Config struct {
	// Layout is the managed install root (required).
	Layout *layout.Layout
	// Detector identifies the host (required for core installs).
	Detector platform.Detector
	// Downloader defaults to NewDownloader with the installer's logger.
	Downloader *Downloader
	// Candidates defaults to mirror.ResolveResource.
	Candidates CandidatesFunc
	Logger     *zap.Logger
}

// Installer orchestrates download, verification, extraction and the swap
// into place for every artifact kind.
type Installer struct {
	layout     *layout.Layout
	detector   platform.Detector
	downloader *Downloader
	verifier   *Verifier
	candidates CandidatesFunc
	logger     *zap.Logger
}

// NewInstaller creates a new installer
func NewInstaller(cfg Config) (*Installer, error) {
	if cfg.Layout == nil || cfg.Layout.Root == "" {
		return nil, fmt.Errorf("layout is required")
	}
	if cfg.Detector == nil {
		return nil, fmt.Errorf("detector is required")
	}

	logger := logging.OrNop(cfg.Logger).Named("artifact")
	dl := cfg.Downloader
	if dl == nil {
		dl = NewDownloader(WithLogger(logger))
	}
	candidates := cfg.Candidates
	if candidates == nil {
		candidates = mirror.ResolveResource
	}

	return &Installer{
		layout:     cfg.Layout,
		detector:   cfg.Detector,
		downloader: dl,
		verifier:   NewVerifier(cfg.Layout.Keyring()),
		candidates: candidates,
		logger:     logger,
	}, nil
}

// IsInstalled reports whether the artifact of kind for sel is present.
// It never touches the network.
func (i *Installer) IsInstalled(kind Kind, sel Selection) (bool, error) {
	sel = sel.withDefaults()

	switch kind {
	case KindCore:
		return isExecutableFile(i.layout.CoreBinary(sel.Core), i.layout.GOOS)
	case KindUI:
		entries, err := os.ReadDir(i.layout.UIBundle(sel.UI.String()))
		if err != nil {
			if os.IsNotExist(err) {
				return false, nil
			}
			return false, fmt.Errorf("read ui dir: %w", err)
		}
		return len(entries) > 0, nil
	case KindGeo:
		for _, name := range sel.Core.GeoFiles() {
			ok, err := isRegularFile(i.layout.GeoDatabase(geoFileName(name)))
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	default:
		return false, crasherr.Validation("check installed", "unknown artifact kind %q", kind)
	}
}

// Install installs the artifact of kind for sel. When it is already
// present and force is false, Install returns at once without touching the
// network.
func (i *Installer) Install(ctx context.Context, kind Kind, sel Selection, force bool) (*InstallResult, error) {
	start := time.Now()
	sel = sel.withDefaults()
	result := &InstallResult{Kind: kind}

	if kind == KindGeo && len(sel.Core.GeoFiles()) == 0 {
		i.logger.Info("core uses no geo databases", zap.Stringer("core", sel.Core))
		result.Skipped = true
		return result, nil
	}

	if !force {
		installed, err := i.IsInstalled(kind, sel)
		if err != nil {
			return nil, crasherr.Wrap(crasherr.KindIO, "install "+kind.String(), err)
		}
		if installed {
			i.logger.Info("already installed", zap.Stringer("kind", kind))
			result.Skipped = true
			result.Duration = time.Since(start)
			return result, nil
		}
	}

	lock, err := transaction.TryAcquire(i.layout.LocksDir(), "install-"+kind.String())
	if err != nil {
		if errors.Is(err, transaction.ErrLocked) {
			return nil, crasherr.New(crasherr.KindInstallInProgress, "install "+kind.String(),
				fmt.Sprintf("another %s install is running", kind), err).
				WithResource(transaction.LockPath(i.layout.LocksDir(), "install-"+kind.String()))
		}
		return nil, crasherr.IO("install "+kind.String(), i.layout.LocksDir(), err)
	}
	defer lock.Release()

	restored, err := i.recover(kind)
	if err != nil {
		return nil, crasherr.Wrap(crasherr.KindIO, "recover "+kind.String(), err)
	}
	result.Restored = restored

	txn := transaction.NewInstall(kind.String())
	stage := filepath.Join(i.layout.StagingDir(), txn.ID)
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return nil, crasherr.IO("install "+kind.String(), stage, err)
	}
	defer os.RemoveAll(stage)

	var artifacts []InstalledArtifact
	switch kind {
	case KindCore:
		artifacts, err = i.installCore(ctx, txn, stage, sel)
	case KindUI:
		artifacts, err = i.installUI(ctx, txn, stage, sel)
	case KindGeo:
		artifacts, err = i.installGeo(ctx, txn, stage, sel, force)
	default:
		err = crasherr.Validation("install", "unknown artifact kind %q", kind)
	}
	if err != nil {
		return nil, err
	}

	if len(artifacts) > 0 {
		if err := i.record(artifacts); err != nil {
			return nil, err
		}
	}

	result.Artifacts = artifacts
	result.Duration = time.Since(start)
	i.logger.Info("install complete",
		zap.Stringer("kind", kind),
		zap.Int("artifacts", len(artifacts)),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// InstallAll installs the core, its UI bundle and its geo databases in
// that order, stopping at the first failure.
func (i *Installer) InstallAll(ctx context.Context, sel Selection, force bool) ([]*InstallResult, error) {
	var results []*InstallResult
	for _, kind := range Kinds {
		res, err := i.Install(ctx, kind, sel, force)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Installed lists the manifest entries of kind, or every entry when kind
// is empty.
func (i *Installer) Installed(kind Kind) ([]InstalledArtifact, error) {
	m, err := LoadManifest(i.layout.Manifest())
	if err != nil {
		return nil, crasherr.IO("read manifest", i.layout.Manifest(), err)
	}
	return m.List(kind), nil
}

func (i *Installer) installCore(ctx context.Context, txn *transaction.InstallTxn, stage string, sel Selection) ([]InstalledArtifact, error) {
	const op = "install core"

	info, err := i.detector.Detect(ctx)
	if err != nil {
		return nil, crasherr.Wrap(crasherr.KindInternal, op, fmt.Errorf("detect platform: %w", err))
	}
	art, err := platform.Resolve(sel.Core, info)
	if err != nil {
		return nil, err
	}

	res := mirror.Release{
		Owner: platform.AssetOwner,
		Repo:  platform.AssetRepo,
		Tag:   platform.AssetTag,
		Name:  art.AssetName,
	}
	expect := ContentArchive
	if art.Format == platform.FormatRaw {
		expect = ContentExecutable
	}

	fetched, verified, err := i.fetchVerified(ctx, res, sel.Strategy, filepath.Join(stage, art.AssetName), expect)
	if err != nil {
		return nil, err
	}

	extractDir := filepath.Join(stage, "extract")
	if err := Extract(fetched.Path, extractDir, art.Format, art.ExeName); err != nil {
		return nil, crasherr.New(crasherr.KindValidation, op, "extract archive", err).WithResource(art.AssetName)
	}
	exe, err := FindExecutable(extractDir, art.MemberPrefix, art.ExeName)
	if err != nil {
		return nil, crasherr.New(crasherr.KindValidation, op, "locate executable", err).WithResource(art.AssetName)
	}
	if err := checkFileContent(exe, ContentExecutable); err != nil {
		return nil, crasherr.New(crasherr.KindValidation, op, "archive member is not an executable", err).
			WithResource(filepath.Base(exe))
	}
	if err := SetExecutable(exe); err != nil {
		return nil, crasherr.IO(op, exe, err)
	}

	target := i.layout.CoreBinary(sel.Core)
	if err := i.commit(txn, []staged{{from: exe, to: target}}); err != nil {
		return nil, crasherr.IO(op, target, err)
	}

	return []InstalledArtifact{{
		Kind:        KindCore,
		Name:        sel.Core.String(),
		Version:     versionOf(art.AssetName, fetched.ETag),
		Path:        target,
		SHA256:      fetched.SHA256,
		Size:        fetched.Size,
		Source:      fetched.URL,
		Verified:    verified.String(),
		InstalledAt: time.Now().UTC(),
	}}, nil
}

func (i *Installer) installUI(ctx context.Context, txn *transaction.InstallTxn, stage string, sel Selection) ([]InstalledArtifact, error) {
	const op = "install ui"

	res := mirror.File{
		Owner: platform.AssetOwner,
		Repo:  platform.AssetRepo,
		Ref:   platform.AssetBranch,
		Path:  sel.UI.Archive(),
	}
	fetched, verified, err := i.fetchVerified(ctx, res, sel.Strategy, filepath.Join(stage, sel.UI.Archive()), ContentArchive)
	if err != nil {
		return nil, err
	}

	extractDir := filepath.Join(stage, "extract")
	if err := ExtractTarGz(fetched.Path, extractDir); err != nil {
		return nil, crasherr.New(crasherr.KindValidation, op, "extract bundle", err).WithResource(sel.UI.Archive())
	}
	root, err := contentRoot(extractDir)
	if err != nil {
		return nil, crasherr.IO(op, extractDir, err)
	}

	target := i.layout.UIBundle(sel.UI.String())
	if err := i.commit(txn, []staged{{from: root, to: target}}); err != nil {
		return nil, crasherr.IO(op, target, err)
	}

	return []InstalledArtifact{{
		Kind:        KindUI,
		Name:        sel.UI.String(),
		Version:     versionOf("", fetched.ETag),
		Path:        target,
		SHA256:      fetched.SHA256,
		Size:        fetched.Size,
		Source:      fetched.URL,
		Verified:    verified.String(),
		InstalledAt: time.Now().UTC(),
	}}, nil
}

func (i *Installer) installGeo(ctx context.Context, txn *transaction.InstallTxn, stage string, sel Selection, force bool) ([]InstalledArtifact, error) {
	const op = "install geo"

	var (
		items     []staged
		artifacts []InstalledArtifact
	)
	for _, archive := range sel.Core.GeoFiles() {
		name := geoFileName(archive)
		target := i.layout.GeoDatabase(name)

		if !force {
			if ok, _ := isRegularFile(target); ok {
				i.logger.Debug("geo database present", zap.String("name", name))
				continue
			}
		}

		res := mirror.File{
			Owner: platform.AssetOwner,
			Repo:  platform.AssetRepo,
			Ref:   platform.AssetBranch,
			Path:  archive,
		}
		fetched, verified, err := i.fetchVerified(ctx, res, sel.Strategy, filepath.Join(stage, archive), ContentArchive)
		if err != nil {
			return nil, err
		}

		extractDir := filepath.Join(stage, name+".d")
		if err := ExtractTarGz(fetched.Path, extractDir); err != nil {
			return nil, crasherr.New(crasherr.KindValidation, op, "extract database", err).WithResource(archive)
		}
		member, err := findMember(extractDir, name)
		if err != nil {
			return nil, crasherr.New(crasherr.KindValidation, op, "locate database", err).WithResource(archive)
		}

		items = append(items, staged{from: member, to: target})
		artifacts = append(artifacts, InstalledArtifact{
			Kind:        KindGeo,
			Name:        name,
			Version:     versionOf("", fetched.ETag),
			Path:        target,
			SHA256:      fetched.SHA256,
			Size:        fetched.Size,
			Source:      fetched.URL,
			Verified:    verified.String(),
			InstalledAt: time.Now().UTC(),
		})
	}

	if len(items) == 0 {
		return nil, nil
	}
	if err := i.commit(txn, items); err != nil {
		return nil, crasherr.IO(op, i.layout.DataDir(), err)
	}
	return artifacts, nil
}

// fetchVerified downloads res and checks its optional sidecars: a SHA256
// digest file when one is published, and a detached signature when the
// operator installed a keyring.
func (i *Installer) fetchVerified(ctx context.Context, res mirror.Resource, strategy mirror.Strategy, dest string, expect Content) (*FetchResult, VerificationMethod, error) {
	fetched, err := i.downloader.Fetch(ctx, i.candidates(res, strategy), dest, expect)
	if err != nil {
		return nil, VerificationContent, err
	}

	if sum, ok := i.fetchDigest(ctx, res, strategy, dest+".sha256"); ok {
		if !strings.EqualFold(sum, fetched.SHA256) {
			return nil, VerificationContent, crasherr.New(crasherr.KindValidation, "verify",
				"checksum mismatch", fmt.Errorf("expected %s, got %s", sum, fetched.SHA256)).
				WithResource(filepath.Base(dest))
		}
	}

	if !i.verifier.Enabled() {
		return fetched, VerificationContent, nil
	}

	sigPath := dest + ".asc"
	if _, err := i.downloader.Fetch(ctx, i.candidates(sidecar(res, ".asc"), strategy), sigPath, ContentAny); err != nil {
		return nil, VerificationContent, crasherr.New(crasherr.KindValidation, "verify",
			"keyring installed but signature unavailable", err).WithResource(filepath.Base(dest))
	}
	if err := i.verifier.VerifySignature(fetched.Path, sigPath); err != nil {
		return nil, VerificationContent, crasherr.New(crasherr.KindValidation, "verify",
			"signature verification failed", err).WithResource(filepath.Base(dest))
	}
	return fetched, VerificationGPG, nil
}

// fetchDigest downloads the published SHA256 sidecar of res, if any.
func (i *Installer) fetchDigest(ctx context.Context, res mirror.Resource, strategy mirror.Strategy, dest string) (string, bool) {
	if _, err := i.downloader.probe().Fetch(ctx, i.candidates(sidecar(res, ".sha256"), strategy), dest, ContentText); err != nil {
		i.logger.Debug("no checksum sidecar", zap.String("resource", res.URL()), zap.Error(err))
		return "", false
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		return "", false
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 || len(fields[0]) != 64 {
		return "", false
	}
	return fields[0], true
}

// staged is one path to move into place.
type staged struct {
	from string
	to   string
}

// commit journals and performs the swaps. A failed swap is rolled back
// before commit returns; swaps that completed before it are kept.
func (i *Installer) commit(txn *transaction.InstallTxn, items []staged) error {
	dir := i.layout.TxnDir()
	for _, it := range items {
		txn.AddSwap(it.from, it.to, it.to+".old")
	}
	if err := txn.Save(dir); err != nil {
		return err
	}

	for idx := range txn.Swaps {
		s := txn.Swaps[idx]
		txn.MarkSwap(idx, transaction.StateInProgress, nil)
		if err := txn.Save(dir); err != nil {
			return err
		}

		if err := swapInto(s.Staged, s.Target, s.Backup); err != nil {
			txn.MarkSwap(idx, transaction.StateFailed, err)
			if _, rerr := txn.Rollback(); rerr != nil {
				i.logger.Error("rollback failed", zap.String("target", s.Target), zap.Error(rerr))
			}
			_ = txn.Remove(dir)
			return err
		}
		txn.MarkSwap(idx, transaction.StateCompleted, nil)
		i.logger.Debug("swapped into place", zap.String("target", s.Target))
	}

	return txn.Remove(dir)
}

// recover rolls back journals left by an interrupted install of kind.
func (i *Installer) recover(kind Kind) ([]string, error) {
	txns, err := transaction.Pending(i.layout.TxnDir(), kind.String())
	if err != nil {
		return nil, err
	}

	var restored []string
	for _, txn := range txns {
		r, err := txn.Rollback()
		restored = append(restored, r...)
		if err != nil {
			return restored, err
		}
		if err := txn.Remove(i.layout.TxnDir()); err != nil {
			return restored, err
		}
		i.logger.Warn("rolled back interrupted install",
			zap.String("txn", txn.ID),
			zap.Strings("restored", r))
	}
	return restored, nil
}

func (i *Installer) record(artifacts []InstalledArtifact) error {
	m, err := LoadManifest(i.layout.Manifest())
	if err != nil {
		return crasherr.IO("record install", i.layout.Manifest(), err)
	}
	for _, a := range artifacts {
		m.Record(a)
	}
	if err := m.Save(); err != nil {
		return crasherr.IO("record install", i.layout.Manifest(), err)
	}
	return nil
}

// swapInto moves staged onto target, keeping the previous target as
// backup. A regular file target is never absent: the old content is linked
// (or copied) to backup and staged is renamed over it. Directories cannot be
// renamed over, so they are moved aside first.
func swapInto(stagedPath, target, backup string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if err := os.RemoveAll(backup); err != nil {
		return fmt.Errorf("remove previous backup: %w", err)
	}

	info, err := os.Lstat(target)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return fmt.Errorf("inspect %s: %w", target, err)
	case info.IsDir():
		return swapDir(stagedPath, target, backup)
	default:
		if err := preserve(target, backup, info.Mode().Perm()); err != nil {
			return fmt.Errorf("back up %s: %w", target, err)
		}
	}

	if err := os.Rename(stagedPath, target); err != nil {
		return fmt.Errorf("move into place: %w", err)
	}
	return nil
}

// preserve keeps the current content of target at backup without touching
// target.
func preserve(target, backup string, perm os.FileMode) error {
	if err := os.Link(target, backup); err == nil {
		return nil
	}
	return copyFile(target, backup, perm)
}

func swapDir(stagedPath, target, backup string) error {
	if err := os.Rename(target, backup); err != nil {
		return fmt.Errorf("back up %s: %w", target, err)
	}
	if err := os.Rename(stagedPath, target); err != nil {
		_ = os.Rename(backup, target)
		return fmt.Errorf("move into place: %w", err)
	}
	return nil
}

// sidecar returns the resource published next to res with suffix.
func sidecar(res mirror.Resource, suffix string) mirror.Resource {
	switch r := res.(type) {
	case mirror.Release:
		r.Name += suffix
		return r
	case mirror.File:
		r.Path += suffix
		return r
	default:
		return res
	}
}

// findMember returns the extracted file called name, or the only regular
// file when the archive holds exactly one.
func findMember(dir, name string) (string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	for _, f := range files {
		if filepath.Base(f) == name {
			return f, nil
		}
	}
	if len(files) == 1 {
		return files[0], nil
	}
	return "", fmt.Errorf("%s not found in archive", name)
}

// geoFileName strips the archive suffix from a geo asset name.
func geoFileName(archive string) string {
	return strings.TrimSuffix(strings.TrimSuffix(archive, ".tar.gz"), ".tgz")
}

var versionPattern = regexp.MustCompile(`v?(\d+\.\d+\.\d+)`)

// versionOf derives a version label from an asset name, falling back to
// the response ETag and then the release tag.
func versionOf(asset, etag string) string {
	if m := versionPattern.FindStringSubmatch(asset); m != nil {
		return m[1]
	}
	if etag = strings.Trim(strings.TrimPrefix(etag, "W/"), `"`); etag != "" {
		return etag
	}
	return platform.AssetTag
}

func isRegularFile(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func isExecutableFile(path, goos string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat binary: %w", err)
	}
	if !info.Mode().IsRegular() {
		return false, nil
	}
	if goos == "windows" {
		return true, nil
	}
	return info.Mode().Perm()&0o111 != 0, nil
}
