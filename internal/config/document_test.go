package config

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	crasherr "github.com/ZebulonRouseFrantzich/crash/internal/errors"
	"github.com/ZebulonRouseFrantzich/crash/internal/platform"
)

const mihomoDoc = `mixed-port: 7890
proxies:
  - name: hk
    type: ss
    server: 1.2.3.4
    port: 443
proxy-groups:
  - name: auto
    type: select
    proxies: [hk]
rules:
  - MATCH,auto
`

const singboxDoc = `{
  "outbounds": [
    {"type": "shadowsocks", "tag": "hk", "server": "1.2.3.4", "server_port": "443"},
    {"type": "direct", "tag": "direct"}
  ]
}`

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name  string
		core  platform.Core
		doc   string
		valid bool
	}{
		{"mihomo with proxies", platform.CoreMihomo, mihomoDoc, true},
		{"clash with providers only", platform.CoreClash, "proxy-providers:\n  p: {type: http}\n", true},
		{"empty proxies list", platform.CoreMihomo, "proxies: []\n", true},
		{"null proxies", platform.CoreMihomo, "proxies:\n", false},
		{"no proxy keys", platform.CoreMihomo, "mixed-port: 7890\nrules: []\n", false},
		{"yaml list", platform.CoreMihomo, "- a\n- b\n", false},
		{"html page", platform.CoreMihomo, "<html><body>502</body></html>", false},
		{"empty", platform.CoreClash, "", false},
		{"broken yaml", platform.CoreMihomo, "proxies: [\n", false},
		{"singbox", platform.CoreSingbox, singboxDoc, true},
		{"singbox no outbounds", platform.CoreSingbox, `{"inbounds": []}`, false},
		{"singbox outbounds object", platform.CoreSingbox, `{"outbounds": {}}`, false},
		{"singbox array", platform.CoreSingbox, `[1,2]`, false},
		{"singbox yaml", platform.CoreSingbox, mihomoDoc, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument(tt.core, []byte(tt.doc))
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, crasherr.IsInvalidConfigDocument(err), "got %v", err)
		})
	}
}

func TestPatchMihomoAppendsTun(t *testing.T) {
	out := string(Patch(platform.CoreMihomo, []byte(mihomoDoc), Controller{}))

	assert.True(t, strings.HasPrefix(out, mihomoDoc))
	assert.Contains(t, out, "# Crash default tun\ntun:\n  enable: true")
	assert.NoError(t, ValidateDocument(platform.CoreMihomo, []byte(out)))
}

func TestPatchMihomoKeepsExistingTun(t *testing.T) {
	doc := mihomoDoc + "tun:\n  enable: false\n"
	out := Patch(platform.CoreMihomo, []byte(doc), Controller{})
	assert.Equal(t, doc, string(out))
}

func TestPatchClashCommentsRuleSets(t *testing.T) {
	doc := "proxies: []\nrules:\n  - 'RULE-SET,ads,REJECT'\n  - 'MATCH,DIRECT'\n"
	out := string(Patch(platform.CoreClash, []byte(doc), Controller{}))

	assert.Contains(t, out, "#- 'RULE-SET,ads,REJECT'")
	assert.Contains(t, out, "  - 'MATCH,DIRECT'")
}

func TestPatchSingbox(t *testing.T) {
	out := Patch(platform.CoreSingbox, []byte(singboxDoc), Controller{
		Host:   "127.0.0.1:9090",
		Secret: "s3cret",
		UIPath: "ui/metacubexd",
	})

	var doc struct {
		Outbounds []struct {
			ServerPort any `json:"server_port"`
		} `json:"outbounds"`
		Experimental struct {
			CacheFile struct {
				Enabled bool `json:"enabled"`
			} `json:"cache_file"`
			ClashAPI struct {
				ExternalController string `json:"external_controller"`
				ExternalUI         string `json:"external_ui"`
				Secret             string `json:"secret"`
			} `json:"clash_api"`
		} `json:"experimental"`
	}
	require.NoError(t, json.Unmarshal(out, &doc))

	assert.Equal(t, float64(443), doc.Outbounds[0].ServerPort)
	assert.Nil(t, doc.Outbounds[1].ServerPort)
	assert.True(t, doc.Experimental.CacheFile.Enabled)
	assert.Equal(t, "127.0.0.1:9090", doc.Experimental.ClashAPI.ExternalController)
	assert.Equal(t, "ui/metacubexd", doc.Experimental.ClashAPI.ExternalUI)
	assert.Equal(t, "s3cret", doc.Experimental.ClashAPI.Secret)
}

func TestPatchSingboxKeepsExistingKeys(t *testing.T) {
	doc := `{"outbounds":[],"experimental":{"clash_api":{"external_controller":"0.0.0.0:1234","default_mode":"rule"}}}`
	out := Patch(platform.CoreSingbox, []byte(doc), Controller{Host: ":9090", Secret: "x"})

	var got struct {
		Experimental map[string]map[string]any `json:"experimental"`
	}
	require.NoError(t, json.Unmarshal(out, &got))
	api := got.Experimental["clash_api"]
	assert.Equal(t, "0.0.0.0:1234", api["external_controller"])
	assert.Equal(t, "rule", api["default_mode"])
	assert.Equal(t, "x", api["secret"])
	assert.Equal(t, true, got.Experimental["cache_file"]["enabled"])
}

func TestPatchSingboxPreservesLargeNumbersAndHTML(t *testing.T) {
	doc := `{"outbounds":[],"route":{"mark":18446744073709551615,"note":"<a&b>"}}`
	out := string(Patch(platform.CoreSingbox, []byte(doc), Controller{}))

	assert.Contains(t, out, "18446744073709551615")
	assert.Contains(t, out, `"<a&b>"`)
}

func TestPatchUnparseableSingboxUnchanged(t *testing.T) {
	doc := []byte("not json")
	assert.Equal(t, doc, Patch(platform.CoreSingbox, doc, Controller{}))
}
