// Package mirror rewrites canonical GitHub download URLs into ordered lists
// of candidate URLs for a chosen mirror strategy.
//
// Rewrites are pure string functions; nothing here touches the network.
// The canonical URL is always the last candidate, so a download can fall
// back to GitHub itself when every mirror fails.
package mirror

import (
	"fmt"
	"net/url"
	"strings"
)

// Strategy selects how GitHub URLs are rewritten.
type Strategy string

const (
	Direct   Strategy = "direct"
	GhProxy  Strategy = "gh-proxy"
	Xget     Strategy = "xget"
	Jsdelivr Strategy = "jsdelivr"
)

// Strategies lists every strategy in fallback order. When a non-direct
// strategy is preferred, the others follow in this order.
var Strategies = []Strategy{Direct, GhProxy, Xget, Jsdelivr}

// Mirror endpoints.
const (
	ghProxyPrefix  = "https://gh-proxy.com/"
	xgetPrefix     = "https://xget.xi-xu.me/gh/"
	jsdelivrPrefix = "https://cdn.jsdelivr.net/gh/"
)

// ParseStrategy accepts the CLI spellings of a strategy case-insensitively.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "direct", "github":
		return Direct, nil
	case "gh-proxy", "ghproxy":
		return GhProxy, nil
	case "xget":
		return Xget, nil
	case "jsdelivr", "jsdelivr-cdn":
		return Jsdelivr, nil
	default:
		return "", fmt.Errorf("unknown mirror strategy %q (want one of direct, gh-proxy, xget, jsdelivr)", s)
	}
}

func (s Strategy) String() string {
	return string(s)
}

// UnmarshalText decodes any spelling ParseStrategy accepts.
func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Resource is a downloadable file hosted on GitHub.
type Resource interface {
	// URL returns the canonical GitHub URL.
	URL() string
}

// Release is an asset attached to a tagged release.
type Release struct {
	Owner string
	Repo  string
	Tag   string
	Name  string
}

// URL returns https://github.com/<owner>/<repo>/releases/download/<tag>/<name>.
func (r Release) URL() string {
	return fmt.Sprintf("https://github.com/%s/%s/releases/download/%s/%s", r.Owner, r.Repo, r.Tag, r.Name)
}

// File is a file in a repository at a branch, tag or commit.
type File struct {
	Owner string
	Repo  string
	Ref   string
	Path  string
}

// URL returns https://github.com/<owner>/<repo>/raw/<ref>/<path>.
func (f File) URL() string {
	return fmt.Sprintf("https://github.com/%s/%s/raw/%s/%s", f.Owner, f.Repo, f.Ref, strings.TrimPrefix(f.Path, "/"))
}

// Resolve returns the ordered candidate URLs for canonical under the given
// strategy. Direct yields only the canonical URL. Any other strategy yields
// its own rewrite first, then the remaining mirrors' rewrites, then the
// canonical URL. Mirrors that cannot serve the URL contribute nothing and
// duplicates are dropped. URLs not hosted on GitHub are returned unchanged.
func Resolve(canonical string, strategy Strategy) []string {
	if strategy == Direct || strategy == "" {
		return []string{canonical}
	}

	parsed, ok := parseGitHub(canonical)
	if !ok {
		return []string{canonical}
	}

	order := make([]Strategy, 0, len(Strategies))
	order = append(order, strategy)
	for _, s := range Strategies {
		if s != strategy && s != Direct {
			order = append(order, s)
		}
	}

	seen := make(map[string]bool, len(order)+1)
	candidates := make([]string, 0, len(order)+1)
	for _, s := range order {
		rewritten, ok := rewrite(parsed, s)
		if !ok || rewritten == canonical || seen[rewritten] {
			continue
		}
		seen[rewritten] = true
		candidates = append(candidates, rewritten)
	}
	return append(candidates, canonical)
}

// ResolveResource is Resolve applied to r's canonical URL.
func ResolveResource(r Resource, strategy Strategy) []string {
	return Resolve(r.URL(), strategy)
}

// githubURL is a canonical URL split into the parts mirrors care about.
type githubURL struct {
	canonical string
	owner     string
	repo      string
	// kind is "releases", "raw" or "" for anything else on github.com.
	kind string
	ref  string // raw only
	path string // raw only
}

func parseGitHub(raw string) (githubURL, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || !strings.EqualFold(u.Host, "github.com") {
		return githubURL{}, false
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return githubURL{}, false
	}

	g := githubURL{canonical: raw, owner: parts[0], repo: parts[1]}
	switch {
	case len(parts) >= 6 && parts[2] == "releases" && parts[3] == "download":
		g.kind = "releases"
	case len(parts) >= 5 && (parts[2] == "raw" || parts[2] == "blob"):
		g.kind = "raw"
		g.ref = parts[3]
		g.path = strings.Join(parts[4:], "/")
	}
	return g, true
}

// rewrite applies one strategy. The second result is false when the
// mirror cannot serve this kind of URL.
func rewrite(g githubURL, s Strategy) (string, bool) {
	switch s {
	case GhProxy:
		return ghProxyPrefix + g.canonical, true
	case Xget:
		return xgetPrefix + strings.TrimPrefix(g.canonical, "https://github.com/"), true
	case Jsdelivr:
		// jsDelivr mirrors repository contents only, never release assets.
		if g.kind != "raw" {
			return "", false
		}
		return fmt.Sprintf("%s%s/%s@%s/%s", jsdelivrPrefix, g.owner, g.repo, g.ref, g.path), true
	default:
		return "", false
	}
}
