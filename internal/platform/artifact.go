package platform

import (
	"fmt"
	"sort"
	"strings"

	crasherr "github.com/ZebulonRouseFrantzich/crash/internal/errors"
)

// Release coordinates of the asset repository every artifact is published
// to. Core builds are release assets; geo databases and UI bundles are
// files on the default branch.
const (
	AssetOwner  = "ahaoboy"
	AssetRepo   = "crash-assets"
	AssetTag    = "nightly"
	AssetBranch = "main"
)

// ArchiveFormat describes how an asset is packed.
type ArchiveFormat string

const (
	FormatTarGz ArchiveFormat = "tar.gz"
	FormatZip   ArchiveFormat = "zip"
	FormatRaw   ArchiveFormat = "none"
)

// Artifact is the resolved release asset for one core on one host.
type Artifact struct {
	Core      Core
	AssetName string        // release asset file name
	Format    ArchiveFormat // packing of the asset
	ExeName   string        // installed executable name
	// MemberPrefix matches the executable inside the archive; release
	// archives name it with a version or platform suffix.
	MemberPrefix string
}

type tableKey struct {
	core Core
	os   string
	arch string
	libc Libc
}

// releaseTable is the complete list of supported (core, platform) pairs.
// Go cores are statically linked, so Linux entries list both libcs
// explicitly rather than falling back from one to the other.
var releaseTable = map[tableKey]string{
	{CoreMihomo, "linux", "amd64", LibcGNU}:    "mihomo-linux-amd64-v1.19.15.tar.gz",
	{CoreMihomo, "linux", "amd64", LibcMusl}:   "mihomo-linux-amd64-v1.19.15.tar.gz",
	{CoreMihomo, "linux", "arm64", LibcGNU}:    "mihomo-linux-arm64-v1.19.15.tar.gz",
	{CoreMihomo, "linux", "arm64", LibcMusl}:   "mihomo-linux-arm64-v1.19.15.tar.gz",
	{CoreMihomo, "darwin", "amd64", LibcNone}:  "mihomo-darwin-amd64-v1.19.15.tar.gz",
	{CoreMihomo, "darwin", "arm64", LibcNone}:  "mihomo-darwin-arm64-v1.19.15.tar.gz",
	{CoreMihomo, "windows", "amd64", LibcNone}: "mihomo-windows-amd64-v1.19.15.tar.gz",

	{CoreClash, "linux", "amd64", LibcGNU}:  "clash-linux-amd64.tar.gz",
	{CoreClash, "linux", "amd64", LibcMusl}: "clash-linux-amd64.tar.gz",
	{CoreClash, "linux", "arm64", LibcGNU}:  "clash-linux-arm64.tar.gz",
	{CoreClash, "linux", "arm64", LibcMusl}: "clash-linux-arm64.tar.gz",

	{CoreSingbox, "linux", "amd64", LibcGNU}:    "sing-box-1.12.12-linux-amd64.tar.gz",
	{CoreSingbox, "linux", "amd64", LibcMusl}:   "sing-box-1.12.12-linux-amd64.tar.gz",
	{CoreSingbox, "linux", "arm64", LibcGNU}:    "sing-box-1.12.12-linux-arm64.tar.gz",
	{CoreSingbox, "linux", "arm64", LibcMusl}:   "sing-box-1.12.12-linux-arm64.tar.gz",
	{CoreSingbox, "windows", "amd64", LibcNone}: "sing-box-1.12.12-windows-amd64.tar.gz",
}

// Resolve maps a core and host to its release artifact. Hosts without an
// entry fail with an UnsupportedPlatform error; the caller must not attempt
// any download in that case.
func Resolve(core Core, info *Info) (*Artifact, error) {
	if info == nil {
		return nil, crasherr.New(crasherr.KindInternal, "resolve artifact", "platform info is nil", nil)
	}
	if !core.Valid() {
		return nil, crasherr.Validation("resolve artifact", "unknown core %q", core)
	}

	asset, ok := releaseTable[tableKey{core, info.OS, info.Arch, info.Libc}]
	if !ok {
		return nil, crasherr.New(crasherr.KindUnsupportedPlatform, "resolve artifact",
			fmt.Sprintf("no %s build for %s", core, info.Key()), nil).
			WithContext("core", core).
			WithContext("platform", info.Key()).
			WithContext("supported", strings.Join(SupportedPlatforms(core), "; "))
	}

	return &Artifact{
		Core:         core,
		AssetName:    asset,
		Format:       formatOf(asset),
		ExeName:      core.ExeName(info.OS),
		MemberPrefix: core.memberPrefix(),
	}, nil
}

// SupportedPlatforms lists the platform keys with a build of core.
func SupportedPlatforms(core Core) []string {
	var keys []string
	for k := range releaseTable {
		if k.core != core {
			continue
		}
		info := Info{OS: k.os, Arch: k.arch, Libc: k.libc}
		keys = append(keys, info.Key())
	}
	sort.Strings(keys)
	return keys
}

func formatOf(asset string) ArchiveFormat {
	switch {
	case strings.HasSuffix(asset, ".tar.gz"), strings.HasSuffix(asset, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(asset, ".zip"):
		return FormatZip
	default:
		return FormatRaw
	}
}
