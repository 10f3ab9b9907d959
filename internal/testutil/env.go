// Package testutil provides utilities for testing crash in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ZebulonRouseFrantzich/crash/internal/layout"
)

// SetupTestEnv points crash at a fresh install root for the duration of the
// test and returns its layout. Tests using it never touch the user's real
// install root.
//
// The directory is removed by t.TempDir() when the test ends.
func SetupTestEnv(t *testing.T) *layout.Layout {
	t.Helper()

	tmpDir := t.TempDir()
	root := filepath.Join(tmpDir, "crash")

	t.Setenv(layout.EnvHome, root)
	t.Setenv("CRASH_LOG_LEVEL", "error")

	// Keep os.UserConfigDir away from the real profile as well
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	t.Setenv("HOME", filepath.Join(tmpDir, "home"))

	for _, dir := range []string{root, filepath.Join(tmpDir, "xdg"), filepath.Join(tmpDir, "home")} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}

	l := layout.New(root)
	if err := l.Ensure(); err != nil {
		t.Fatalf("failed to prepare install root: %v", err)
	}
	return l
}
