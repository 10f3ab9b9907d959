package platform

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/shirou/gopsutil/v4/host"
)

// muslLoaderGlob matches the musl dynamic loader, which only exists on
// musl-based systems.
const muslLoaderGlob = "/lib/ld-musl-*"

// RealDetector implements Detector using actual platform detection.
type RealDetector struct {
	// goos and goarch default to the running binary's values.
	goos   string
	goarch string
	// hasMuslLoader reports whether a musl loader exists on disk.
	hasMuslLoader func() bool
}

// NewDetector creates a new platform detector.
func NewDetector() Detector {
	return &RealDetector{
		goos:          runtime.GOOS,
		goarch:        runtime.GOARCH,
		hasMuslLoader: muslLoaderPresent,
	}
}

// Detect performs platform detection and returns platform information.
//
// On Linux, distribution detection failures fall back to a glibc host with
// empty distro fields; a cancelled context is always a hard failure. An
// architecture outside the normalisation table is reported as-is so the
// artifact lookup can reject it with a precise message.
func (d *RealDetector) Detect(ctx context.Context) (*Info, error) {
	info := &Info{
		OS:      d.goos,
		ArchRaw: d.goarch,
	}

	arch, err := normalizeArch(d.goarch)
	if err != nil {
		arch = normalizePlatform(d.goarch)
	}
	info.Arch = arch

	if d.goos != "linux" {
		return info, nil
	}

	info.Libc = LibcGNU
	platform, family, version, err := host.PlatformInformationWithContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
		}
		if d.hasMuslLoader != nil && d.hasMuslLoader() {
			info.Libc = LibcMusl
		}
		return info, nil
	}

	platform = normalizePlatform(platform)
	if platform != "" {
		info.Platform = platform
		info.Family = mapFamily(family)
		if info.Family == FamilyUnknown {
			// gopsutil reports some distros (alpine, openwrt) with an empty
			// family, so retry with the platform id.
			info.Family = mapFamily(platform)
		}
		info.Version = normalizePlatform(version)
	}

	info.Libc = detectLibc(info.Family, d.hasMuslLoader)
	return info, nil
}

// detectLibc picks musl for musl-native families or when the musl loader is
// present, and glibc otherwise.
func detectLibc(family string, hasMuslLoader func() bool) Libc {
	switch family {
	case FamilyAlpine, FamilyOpenWrt:
		return LibcMusl
	}
	if hasMuslLoader != nil && hasMuslLoader() {
		return LibcMusl
	}
	return LibcGNU
}

func muslLoaderPresent() bool {
	matches, err := filepath.Glob(muslLoaderGlob)
	return err == nil && len(matches) > 0
}
