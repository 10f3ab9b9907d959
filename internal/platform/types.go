// Package platform identifies the host crash runs on and maps it to the
// release artifact of each supported proxy core.
//
// Detection combines runtime.GOOS/GOARCH with gopsutil's distribution data
// to tell glibc and musl Linux hosts apart. Artifact selection is a plain
// lookup table keyed by (core, os, arch, libc); a host with no entry is
// rejected instead of guessed.
package platform

import (
	"context"
	"fmt"
)

// Linux distribution family constants.
// These represent canonical family names for grouping related distributions.
const (
	FamilyDebian  = "debian"  // Debian, Ubuntu, Linux Mint
	FamilyRHEL    = "rhel"    // RHEL, CentOS, Rocky Linux, AlmaLinux
	FamilyFedora  = "fedora"  // Fedora
	FamilySUSE    = "suse"    // openSUSE, SLES
	FamilyArch    = "arch"    // Arch Linux, Manjaro
	FamilyAlpine  = "alpine"  // Alpine Linux
	FamilyGentoo  = "gentoo"  // Gentoo
	FamilyOpenWrt = "openwrt" // OpenWrt routers
	FamilyUnknown = "unknown" // Unrecognized distributions
)

// Libc identifies the C library a Linux host links against.
type Libc string

const (
	LibcNone Libc = ""     // non-Linux hosts
	LibcGNU  Libc = "gnu"  // glibc
	LibcMusl Libc = "musl" // musl (Alpine, OpenWrt)
)

// Info contains platform detection information.
type Info struct {
	OS       string // "linux", "darwin", "windows"
	Arch     string // "amd64", "arm64" (normalized)
	ArchRaw  string // original GOARCH
	Libc     Libc   // Linux only
	Platform string // distro ID (Linux only, e.g., "ubuntu", "alpine")
	Family   string // canonical family (e.g., "debian", "alpine")
	Version  string // distro version (Linux only, e.g., "22.04")
}

// Key renders the canonical platform key used in logs and error messages,
// e.g. "os=linux,arch=arm64,libc=musl".
func (i *Info) Key() string {
	if i.Libc == LibcNone {
		return fmt.Sprintf("os=%s,arch=%s", i.OS, i.Arch)
	}
	return fmt.Sprintf("os=%s,arch=%s,libc=%s", i.OS, i.Arch, i.Libc)
}

// IsLinux returns true if the platform is Linux.
func (i *Info) IsLinux() bool {
	return i.OS == "linux"
}

// IsWindows returns true if the platform is Windows.
func (i *Info) IsWindows() bool {
	return i.OS == "windows"
}

// IsAlpine returns true if the Linux distribution is Alpine.
func (i *Info) IsAlpine() bool {
	return i.OS == "linux" && i.Family == FamilyAlpine
}

// ExeSuffix returns ".exe" on Windows and "" elsewhere.
func (i *Info) ExeSuffix() string {
	if i.IsWindows() {
		return ".exe"
	}
	return ""
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}
