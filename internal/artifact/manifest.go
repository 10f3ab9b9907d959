package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/ZebulonRouseFrantzich/crash/internal/transaction"
)

const manifestVersion = 1

// Manifest records the artifacts currently installed under the root.
type Manifest struct {
	Version   int                 `json:"version"`
	Artifacts []InstalledArtifact `json:"artifacts"`
	path      string
}

// LoadManifest reads the manifest at path. A missing file yields an empty
// manifest.
func LoadManifest(path string) (*Manifest, error) {
	m := &Manifest{Version: manifestVersion, path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	m.path = path
	return m, nil
}

// Record replaces the entry with the same kind and name, or adds it.
func (m *Manifest) Record(a InstalledArtifact) {
	for i := range m.Artifacts {
		if m.Artifacts[i].Kind == a.Kind && m.Artifacts[i].Name == a.Name {
			m.Artifacts[i] = a
			return
		}
	}
	m.Artifacts = append(m.Artifacts, a)
}

// Forget drops every entry of kind.
func (m *Manifest) Forget(kind Kind) {
	kept := m.Artifacts[:0]
	for _, a := range m.Artifacts {
		if a.Kind != kind {
			kept = append(kept, a)
		}
	}
	m.Artifacts = kept
}

// Get returns the entry for kind and name.
func (m *Manifest) Get(kind Kind, name string) (InstalledArtifact, bool) {
	for _, a := range m.Artifacts {
		if a.Kind == kind && a.Name == name {
			return a, true
		}
	}
	return InstalledArtifact{}, false
}

// List returns the entries of kind, or all entries when kind is empty,
// ordered by kind then name.
func (m *Manifest) List(kind Kind) []InstalledArtifact {
	var out []InstalledArtifact
	for _, a := range m.Artifacts {
		if kind == "" || a.Kind == kind {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Save writes the manifest atomically.
func (m *Manifest) Save() error {
	if m.path == "" {
		return fmt.Errorf("manifest has no path")
	}
	m.Version = manifestVersion

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return transaction.WriteFile(m.path, data, 0o644)
}
