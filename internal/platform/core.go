package platform

import (
	"fmt"
	"strings"
)

// Core identifies a supported proxy core.
type Core string

const (
	CoreMihomo  Core = "mihomo"
	CoreClash   Core = "clash"
	CoreSingbox Core = "singbox"
)

// DefaultCore is used when settings do not name one.
const DefaultCore = CoreMihomo

// Cores lists every supported core in display order.
var Cores = []Core{CoreMihomo, CoreClash, CoreSingbox}

// ConfigFormat is the syntax of a core's configuration document.
type ConfigFormat string

const (
	FormatYAML ConfigFormat = "yaml"
	FormatJSON ConfigFormat = "json"
)

// ParseCore accepts core names case-insensitively, including "sing-box".
func ParseCore(s string) (Core, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mihomo", "clash.meta", "meta":
		return CoreMihomo, nil
	case "clash":
		return CoreClash, nil
	case "singbox", "sing-box":
		return CoreSingbox, nil
	case "":
		return DefaultCore, nil
	default:
		return "", fmt.Errorf("unknown core %q (want one of mihomo, clash, singbox)", s)
	}
}

func (c Core) String() string {
	return string(c)
}

// UnmarshalText decodes any spelling ParseCore accepts.
func (c *Core) UnmarshalText(text []byte) error {
	parsed, err := ParseCore(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Valid reports whether c is one of Cores.
func (c Core) Valid() bool {
	for _, known := range Cores {
		if c == known {
			return true
		}
	}
	return false
}

// ExeName returns the installed executable name for the given OS.
func (c Core) ExeName(goos string) string {
	if goos == "windows" {
		return string(c) + ".exe"
	}
	return string(c)
}

// memberPrefix is the prefix of the executable's file name inside release
// archives.
func (c Core) memberPrefix() string {
	if c == CoreSingbox {
		return "sing-box"
	}
	return string(c)
}

// ConfigFormat returns the document syntax the core reads.
func (c Core) ConfigFormat() ConfigFormat {
	if c == CoreSingbox {
		return FormatJSON
	}
	return FormatYAML
}

// ConfigFileName returns the active configuration document name.
func (c Core) ConfigFileName() string {
	return "config." + string(c.ConfigFormat())
}

// GeoFiles returns the geo database archives the core needs. sing-box
// embeds its rule sets and needs none.
func (c Core) GeoFiles() []string {
	switch c {
	case CoreMihomo, CoreClash:
		return []string{
			"geoip.metadb.tar.gz",
			"geoip.dat.tar.gz",
			"geosite.dat.tar.gz",
		}
	default:
		return nil
	}
}

// Launch holds the paths and controller settings a core is started with.
type Launch struct {
	ConfigPath string
	DataDir    string
	Controller string // external controller address, e.g. ":9090"
	Secret     string
	UIDir      string
}

// LaunchArgs builds the core's argv without the executable. sing-box reads
// its controller settings from the document itself.
func (c Core) LaunchArgs(l Launch) []string {
	if c == CoreSingbox {
		return []string{"run", "-c", l.ConfigPath, "-D", l.DataDir}
	}
	args := []string{"-f", l.ConfigPath, "-d", l.DataDir}
	if l.Controller != "" {
		args = append(args, "-ext-ctl", l.Controller)
	}
	if l.UIDir != "" {
		args = append(args, "-ext-ui", l.UIDir)
	}
	if l.Secret != "" {
		args = append(args, "-secret", l.Secret)
	}
	return args
}
