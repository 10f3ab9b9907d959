package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	crasherr "github.com/ZebulonRouseFrantzich/crash/internal/errors"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		core      Core
		info      Info
		wantAsset string
		wantExe   string
	}{
		{
			name:      "mihomo linux arm64 musl",
			core:      CoreMihomo,
			info:      Info{OS: "linux", Arch: "arm64", Libc: LibcMusl},
			wantAsset: "mihomo-linux-arm64-v1.19.15.tar.gz",
			wantExe:   "mihomo",
		},
		{
			name:      "mihomo windows amd64",
			core:      CoreMihomo,
			info:      Info{OS: "windows", Arch: "amd64"},
			wantAsset: "mihomo-windows-amd64-v1.19.15.tar.gz",
			wantExe:   "mihomo.exe",
		},
		{
			name:      "clash linux amd64 gnu",
			core:      CoreClash,
			info:      Info{OS: "linux", Arch: "amd64", Libc: LibcGNU},
			wantAsset: "clash-linux-amd64.tar.gz",
			wantExe:   "clash",
		},
		{
			name:      "singbox windows",
			core:      CoreSingbox,
			info:      Info{OS: "windows", Arch: "amd64"},
			wantAsset: "sing-box-1.12.12-windows-amd64.tar.gz",
			wantExe:   "singbox.exe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.core, &tt.info)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAsset, got.AssetName)
			assert.Equal(t, tt.wantExe, got.ExeName)
			assert.Equal(t, FormatTarGz, got.Format)
		})
	}
}

func TestResolveUnsupported(t *testing.T) {
	tests := []struct {
		name string
		core Core
		info Info
	}{
		{"clash on darwin", CoreClash, Info{OS: "darwin", Arch: "arm64"}},
		{"windows arm64", CoreMihomo, Info{OS: "windows", Arch: "arm64"}},
		{"linux 386", CoreSingbox, Info{OS: "linux", Arch: "386", Libc: LibcGNU}},
		{"linux without libc", CoreMihomo, Info{OS: "linux", Arch: "amd64"}},
		{"freebsd", CoreMihomo, Info{OS: "freebsd", Arch: "amd64"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.core, &tt.info)
			assert.Nil(t, got)
			require.Error(t, err)
			assert.True(t, crasherr.IsUnsupportedPlatform(err), "got %v", err)
			assert.Contains(t, err.Error(), tt.info.Key())
		})
	}
}

func TestResolveRejectsBadInput(t *testing.T) {
	_, err := Resolve(CoreMihomo, nil)
	assert.Equal(t, crasherr.KindInternal, crasherr.KindOf(err))

	_, err = Resolve(Core("v2ray"), &Info{OS: "linux", Arch: "amd64", Libc: LibcGNU})
	assert.Equal(t, crasherr.KindValidation, crasherr.KindOf(err))
}

func TestSupportedPlatforms(t *testing.T) {
	clash := SupportedPlatforms(CoreClash)
	assert.Equal(t, []string{
		"os=linux,arch=amd64,libc=gnu",
		"os=linux,arch=amd64,libc=musl",
		"os=linux,arch=arm64,libc=gnu",
		"os=linux,arch=arm64,libc=musl",
	}, clash)
}

func TestParseCore(t *testing.T) {
	tests := []struct {
		in      string
		want    Core
		wantErr bool
	}{
		{"mihomo", CoreMihomo, false},
		{"Clash", CoreClash, false},
		{"sing-box", CoreSingbox, false},
		{"singbox", CoreSingbox, false},
		{"", DefaultCore, false},
		{"v2ray", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCore(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoreDocuments(t *testing.T) {
	assert.Equal(t, "config.yaml", CoreMihomo.ConfigFileName())
	assert.Equal(t, "config.json", CoreSingbox.ConfigFileName())
	assert.Len(t, CoreClash.GeoFiles(), 3)
	assert.Empty(t, CoreSingbox.GeoFiles())
}

func TestLaunchArgs(t *testing.T) {
	got := CoreMihomo.LaunchArgs(Launch{
		ConfigPath: "/c/config.yaml",
		DataDir:    "/c",
		Controller: ":9090",
		Secret:     "s3cret",
		UIDir:      "/c/ui/yacd",
	})
	assert.Equal(t, []string{
		"-f", "/c/config.yaml", "-d", "/c",
		"-ext-ctl", ":9090", "-ext-ui", "/c/ui/yacd", "-secret", "s3cret",
	}, got)

	noUI := CoreClash.LaunchArgs(Launch{ConfigPath: "/c/config.yaml", DataDir: "/c"})
	assert.Equal(t, []string{"-f", "/c/config.yaml", "-d", "/c"}, noUI)

	singbox := CoreSingbox.LaunchArgs(Launch{ConfigPath: "/c/config.json", DataDir: "/c", Secret: "ignored"})
	assert.Equal(t, []string{"run", "-c", "/c/config.json", "-D", "/c"}, singbox)
}
