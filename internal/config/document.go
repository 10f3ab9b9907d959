package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	crasherr "github.com/ZebulonRouseFrantzich/crash/internal/errors"
	"github.com/ZebulonRouseFrantzich/crash/internal/platform"
)

// proxyKeys are the top-level YAML keys of which a usable Mihomo or Clash
// document carries at least one.
var proxyKeys = []string{"proxies", "proxy-providers", "proxy-groups"}

// ValidateDocument checks that data is structurally a configuration
// document for core. It does not interpret proxy rules.
func ValidateDocument(core platform.Core, data []byte) error {
	const op = "validate config document"

	var err error
	switch core.ConfigFormat() {
	case platform.FormatJSON:
		err = validateJSONDocument(data)
	default:
		err = validateYAMLDocument(data)
	}
	if err != nil {
		return crasherr.New(crasherr.KindInvalidConfigDocument, op,
			fmt.Sprintf("not a valid %s document", core), err)
	}
	return nil
}

func validateYAMLDocument(data []byte) error {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return fmt.Errorf("document is empty")
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return fmt.Errorf("top level is not a mapping")
	}

	for i := 0; i+1 < len(doc.Content); i += 2 {
		key, value := doc.Content[i], doc.Content[i+1]
		for _, want := range proxyKeys {
			if key.Value == want && !isNull(value) {
				return nil
			}
		}
	}
	return fmt.Errorf("missing all of %s", strings.Join(proxyKeys, ", "))
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}

func validateJSONDocument(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse json object: %w", err)
	}
	raw, ok := doc["outbounds"]
	if !ok {
		return fmt.Errorf("missing outbounds")
	}
	var outbounds []json.RawMessage
	if err := json.Unmarshal(raw, &outbounds); err != nil || outbounds == nil {
		return fmt.Errorf("outbounds is not an array")
	}
	return nil
}

// Controller is the external controller the core exposes.
type Controller struct {
	Host   string // e.g. ":9090"
	Secret string
	UIPath string // dashboard directory, relative to the core's data dir
}

// mihomoTun is appended to Mihomo documents that configure no tun device.
const mihomoTun = `
# Crash default tun
tun:
  enable: true
  device: Meta
  stack: gVisor
  dns-hijack:
    - 0.0.0.0:53
  auto-route: true
  auto-detect-interface: true
  gso-max-size: 65536
  file-descriptor: 0
  recvmsgx: true
`

// Patch adapts a validated document to crash's runtime conventions for
// core. Documents that cannot be patched are returned unchanged.
func Patch(core platform.Core, data []byte, ctl Controller) []byte {
	switch core {
	case platform.CoreMihomo:
		return patchMihomo(data)
	case platform.CoreClash:
		return bytes.ReplaceAll(data, []byte("- 'RULE-SET,"), []byte("#- 'RULE-SET,"))
	case platform.CoreSingbox:
		return patchSingbox(data, ctl)
	default:
		return data
	}
}

func patchMihomo(data []byte) []byte {
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "tun") {
			return data
		}
	}
	out := make([]byte, 0, len(data)+len(mihomoTun)+1)
	out = append(out, data...)
	out = append(out, '\n')
	return append(out, mihomoTun...)
}

func patchSingbox(data []byte, ctl Controller) []byte {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return data
	}

	// sing-box rejects string ports
	if outbounds, ok := doc["outbounds"].([]any); ok {
		for _, item := range outbounds {
			ob, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if s, ok := ob["server_port"].(string); ok {
				if n, err := strconv.ParseUint(s, 10, 64); err == nil {
					ob["server_port"] = n
				}
			}
		}
	}

	host := ctl.Host
	if host == "" {
		host = DefaultHost
	}
	mergeMissing(doc, map[string]any{
		"experimental": map[string]any{
			"cache_file": map[string]any{"enabled": true},
			"clash_api": map[string]any{
				"external_controller": host,
				"external_ui":         ctl.UIPath,
				"secret":              ctl.Secret,
			},
		},
	})

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return data
	}
	return buf.Bytes()
}

// mergeMissing copies keys of src absent from dst, recursing into objects
// present in both. Values already in dst win.
func mergeMissing(dst, src map[string]any) {
	for k, v := range src {
		existing, ok := dst[k]
		if !ok {
			dst[k] = v
			continue
		}
		dstMap, dok := existing.(map[string]any)
		srcMap, sok := v.(map[string]any)
		if dok && sok {
			mergeMissing(dstMap, srcMap)
		}
	}
}
