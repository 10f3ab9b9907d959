package artifact

import (
	"fmt"
	"strings"
	"time"

	"github.com/ZebulonRouseFrantzich/crash/internal/mirror"
	"github.com/ZebulonRouseFrantzich/crash/internal/platform"
)

// Kind is a class of installable artifact.
type Kind string

const (
	KindCore Kind = "core"
	KindGeo  Kind = "geo"
	KindUI   Kind = "ui"
)

// Kinds lists every kind in the order InstallAll installs them.
var Kinds = []Kind{KindCore, KindUI, KindGeo}

// String returns the string representation of the kind
func (k Kind) String() string {
	return string(k)
}

// UI is a Web dashboard bundle.
type UI string

const (
	UIMetacubexd UI = "metacubexd"
	UIZashboard  UI = "zashboard"
	UIYacd       UI = "yacd"
)

// DefaultUI is used when settings do not name one.
const DefaultUI = UIMetacubexd

// UIs lists every supported dashboard.
var UIs = []UI{UIMetacubexd, UIZashboard, UIYacd}

// ParseUI accepts dashboard names case-insensitively.
func ParseUI(s string) (UI, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return DefaultUI, nil
	}
	for _, ui := range UIs {
		if string(ui) == name {
			return ui, nil
		}
	}
	return "", fmt.Errorf("unknown ui %q (want one of metacubexd, zashboard, yacd)", s)
}

func (u UI) String() string {
	return string(u)
}

// UnmarshalText decodes any spelling ParseUI accepts.
func (u *UI) UnmarshalText(text []byte) error {
	parsed, err := ParseUI(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Archive is the bundle's file name in the asset repository.
func (u UI) Archive() string {
	return string(u) + ".tar.gz"
}

// Selection is what to install, taken from the persisted settings.
type Selection struct {
	Core     platform.Core
	UI       UI
	Strategy mirror.Strategy
}

func (s Selection) withDefaults() Selection {
	if s.Core == "" {
		s.Core = platform.DefaultCore
	}
	if s.UI == "" {
		s.UI = DefaultUI
	}
	if s.Strategy == "" {
		s.Strategy = mirror.Direct
	}
	return s
}

// InstalledArtifact is one installed file or directory.
type InstalledArtifact struct {
	Kind        Kind      `json:"kind"`
	Name        string    `json:"name"`
	Version     string    `json:"version,omitempty"`
	Path        string    `json:"path"`
	SHA256      string    `json:"sha256"` // digest of the downloaded asset
	Size        int64     `json:"size"`
	Source      string    `json:"source"` // URL that served the asset
	Verified    string    `json:"verified"`
	InstalledAt time.Time `json:"installed_at"`
}

// InstallResult summarises one Install call.
type InstallResult struct {
	Kind      Kind
	Skipped   bool // already installed and not forced
	Artifacts []InstalledArtifact
	// Restored lists targets recovered from an interrupted earlier install.
	Restored []string
	Duration time.Duration
}

// Attempt is one failed candidate URL.
type Attempt struct {
	URL string
	Err error
}

// FetchResult describes a successful download.
type FetchResult struct {
	URL          string // candidate that succeeded
	Path         string
	Size         int64
	SHA256       string
	ETag         string
	LastModified string
	Failed       []Attempt // candidates tried before URL
}

// VerificationMethod indicates how a download was verified
type VerificationMethod int

const (
	// VerificationContent indicates only the payload type was checked
	VerificationContent VerificationMethod = iota
	// VerificationGPG indicates GPG signature verification was used
	VerificationGPG
)

// String returns the string representation of the verification method
func (v VerificationMethod) String() string {
	switch v {
	case VerificationContent:
		return "content"
	case VerificationGPG:
		return "gpg"
	default:
		return "unknown"
	}
}
