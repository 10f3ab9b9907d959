package mirror

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	releaseURL = "https://github.com/ahaoboy/crash-assets/releases/download/nightly/mihomo-linux-amd64-v1.19.15.tar.gz"
	rawURL     = "https://github.com/ahaoboy/crash-assets/raw/main/geoip.dat.tar.gz"
)

func TestResolveDirect(t *testing.T) {
	assert.Equal(t, []string{releaseURL}, Resolve(releaseURL, Direct))
	assert.Equal(t, []string{rawURL}, Resolve(rawURL, ""))
}

func TestResolveRelease(t *testing.T) {
	tests := []struct {
		name     string
		strategy Strategy
		want     []string
	}{
		{
			name:     "gh-proxy preferred",
			strategy: GhProxy,
			want: []string{
				"https://gh-proxy.com/" + releaseURL,
				"https://xget.xi-xu.me/gh/ahaoboy/crash-assets/releases/download/nightly/mihomo-linux-amd64-v1.19.15.tar.gz",
				releaseURL,
			},
		},
		{
			name:     "xget preferred",
			strategy: Xget,
			want: []string{
				"https://xget.xi-xu.me/gh/ahaoboy/crash-assets/releases/download/nightly/mihomo-linux-amd64-v1.19.15.tar.gz",
				"https://gh-proxy.com/" + releaseURL,
				releaseURL,
			},
		},
		{
			name:     "jsdelivr cannot serve releases",
			strategy: Jsdelivr,
			want: []string{
				"https://gh-proxy.com/" + releaseURL,
				"https://xget.xi-xu.me/gh/ahaoboy/crash-assets/releases/download/nightly/mihomo-linux-amd64-v1.19.15.tar.gz",
				releaseURL,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(releaseURL, tt.strategy))
		})
	}
}

func TestResolveRawFile(t *testing.T) {
	got := Resolve(rawURL, Jsdelivr)
	assert.Equal(t, []string{
		"https://cdn.jsdelivr.net/gh/ahaoboy/crash-assets@main/geoip.dat.tar.gz",
		"https://gh-proxy.com/" + rawURL,
		"https://xget.xi-xu.me/gh/ahaoboy/crash-assets/raw/main/geoip.dat.tar.gz",
		rawURL,
	}, got)
}

func TestResolveInvariants(t *testing.T) {
	for _, canonical := range []string{releaseURL, rawURL} {
		for _, s := range Strategies {
			got := Resolve(canonical, s)
			require.NotEmpty(t, got)
			assert.Equal(t, canonical, got[len(got)-1], "canonical must be last for %s", s)

			seen := map[string]bool{}
			for _, u := range got {
				assert.False(t, seen[u], "duplicate %s for %s", u, s)
				seen[u] = true
			}
		}
	}
}

func TestResolveNonGitHub(t *testing.T) {
	for _, u := range []string{
		"https://example.com/sub.yaml",
		"http://github.com/a/b/raw/main/x",
		"not a url",
	} {
		assert.Equal(t, []string{u}, Resolve(u, GhProxy), u)
	}
}

func TestResourceURLs(t *testing.T) {
	r := Release{Owner: "ahaoboy", Repo: "crash-assets", Tag: "nightly", Name: "mihomo-linux-amd64-v1.19.15.tar.gz"}
	assert.Equal(t, releaseURL, r.URL())

	f := File{Owner: "ahaoboy", Repo: "crash-assets", Ref: "main", Path: "/geoip.dat.tar.gz"}
	assert.Equal(t, rawURL, f.URL())

	assert.Equal(t, Resolve(rawURL, Xget), ResolveResource(f, Xget))
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"direct", Direct, false},
		{"GhProxy", GhProxy, false},
		{"gh-proxy", GhProxy, false},
		{"XGET", Xget, false},
		{"jsdelivr", Jsdelivr, false},
		{"", Direct, false},
		{"fastgit", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStrategy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
