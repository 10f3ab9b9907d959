// Package config owns crash's persisted settings and the active core
// configuration document.
//
// # Settings
//
// settings.json holds the subscription URL, the mirror strategy, the
// selected core and the Web controller parameters:
//
//	{
//	  "url": "https://example.com/sub.yaml",
//	  "proxy": "gh-proxy",
//	  "core": "mihomo",
//	  "web": {"ui": "metacubexd", "host": ":9090", "secret": ""}
//	}
//
// The document is validated against an embedded JSON schema on every load
// and save, then by Settings.Validate for rules a schema cannot express.
// A missing file yields the defaults.
//
// # Core Documents
//
// The active document is config.yaml for Mihomo and Clash and config.json
// for sing-box. A fetched document replaces it only after it parses and
// carries the top-level keys the core needs; otherwise the active document
// is left byte-for-byte unchanged. The replaced document is kept as a
// single .bak generation for Rollback.
//
// Before a document is written it is patched for the core:
//   - Mihomo: a default tun block is appended when none is configured
//   - Clash: RULE-SET rules are commented out
//   - sing-box: string server ports become numbers and the clash_api
//     controller settings are merged in
package config
