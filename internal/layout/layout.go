// Package layout names every path crash manages under its install root.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/ZebulonRouseFrantzich/crash/internal/platform"
)

// EnvHome overrides the install root.
const EnvHome = "CRASH_HOME"

// Layout resolves managed paths relative to Root.
type Layout struct {
	Root string
	// GOOS selects executable suffixes; defaults to runtime.GOOS.
	GOOS string
}

// New returns a layout rooted at root.
func New(root string) *Layout {
	return &Layout{Root: root, GOOS: runtime.GOOS}
}

// DefaultRoot returns $CRASH_HOME or <user config dir>/crash.
func DefaultRoot() (string, error) {
	if home := os.Getenv(EnvHome); home != "" {
		return home, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate user config dir: %w", err)
	}
	return filepath.Join(dir, "crash"), nil
}

func (l *Layout) path(elem ...string) string {
	return filepath.Join(append([]string{l.Root}, elem...)...)
}

// Settings is the persisted settings document.
func (l *Layout) Settings() string { return l.path("settings.json") }

// CoreBinary is the installed executable of core.
func (l *Layout) CoreBinary(core platform.Core) string {
	goos := l.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	return l.path(core.ExeName(goos))
}

// ConfigDocument is the active configuration document of core.
func (l *Layout) ConfigDocument(core platform.Core) string {
	return l.path(core.ConfigFileName())
}

// DataDir is the core's home directory, passed as -d (-D for sing-box).
// The core resolves its geo databases and the dashboard path against it.
func (l *Layout) DataDir() string { return l.Root }

// GeoDatabase is the path the core reads the geo database name from.
func (l *Layout) GeoDatabase(name string) string {
	return filepath.Join(l.DataDir(), name)
}

// UIDir holds extracted UI bundles.
func (l *Layout) UIDir() string { return l.path("ui") }

// UIBundle is the directory of one extracted UI bundle.
func (l *Layout) UIBundle(name string) string { return l.path("ui", name) }

// ServiceState is the supervisor's persisted record.
func (l *Layout) ServiceState() string { return l.path("service.json") }

// Manifest records installed artifacts.
func (l *Layout) Manifest() string { return l.path("manifest.json") }

// Keyring is an optional operator-provided OpenPGP keyring. When present,
// downloaded artifacts must carry a valid detached signature.
func (l *Layout) Keyring() string { return l.path("trusted.asc") }

// LocksDir holds advisory lock sentinels.
func (l *Layout) LocksDir() string { return l.path("locks") }

// LogsDir holds crash and core logs.
func (l *Layout) LogsDir() string { return l.path("logs") }

// CoreLog receives the core's stdout and stderr.
func (l *Layout) CoreLog() string { return l.path("logs", "core.log") }

// StagingDir holds in-flight downloads and extractions.
func (l *Layout) StagingDir() string { return l.path(".staging") }

// TxnDir holds install journals.
func (l *Layout) TxnDir() string { return l.path("txn") }

// Ensure creates the root and its fixed subdirectories.
func (l *Layout) Ensure() error {
	for _, dir := range []string{l.Root, l.UIDir(), l.LocksDir(), l.LogsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
