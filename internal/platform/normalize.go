package platform

import (
	"fmt"
	"strings"
)

// familyMap maps distribution names to their canonical family names.
// This is used to normalize variations of family strings from gopsutil.
var familyMap = map[string]string{
	"debian":   FamilyDebian,
	"ubuntu":   FamilyDebian, // gopsutil might return ubuntu as family
	"rhel":     FamilyRHEL,
	"centos":   FamilyRHEL,
	"rocky":    FamilyRHEL,
	"fedora":   FamilyFedora,
	"suse":     FamilySUSE,
	"opensuse": FamilySUSE,
	"arch":     FamilyArch,
	"manjaro":  FamilyArch,
	"alpine":   FamilyAlpine,
	"gentoo":   FamilyGentoo,
	"openwrt":  FamilyOpenWrt,
}

// archMap maps GOARCH and uname spellings to normalized architecture names.
var archMap = map[string]string{
	"amd64":   "amd64",
	"x86_64":  "amd64",
	"arm64":   "arm64",
	"aarch64": "arm64",
	"386":     "386",
	"i386":    "386",
	"i686":    "386",
	"arm":     "arm",
	"armv7l":  "arm",
	"riscv64": "riscv64",
	"mips":    "mips",
	"mipsle":  "mipsle",
}

// normalizeArch converts GOARCH values to normalized architecture names.
// Whether a release exists for the result is decided by the artifact table.
func normalizeArch(arch string) (string, error) {
	if normalized, ok := archMap[strings.ToLower(strings.TrimSpace(arch))]; ok {
		return normalized, nil
	}
	return "", fmt.Errorf("unknown architecture: %q", arch)
}

// normalizePlatform converts platform IDs to lowercase for consistency.
func normalizePlatform(platform string) string {
	return strings.ToLower(strings.TrimSpace(platform))
}

// mapFamily maps distribution family strings to canonical family names.
// Uses a package-level lookup table for explicit mapping.
func mapFamily(family string) string {
	normalized := strings.ToLower(strings.TrimSpace(family))
	if canonical, ok := familyMap[normalized]; ok {
		return canonical
	}

	// Return "unknown" for unrecognized families
	return FamilyUnknown
}
