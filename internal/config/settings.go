package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ZebulonRouseFrantzich/crash/internal/artifact"
	crasherr "github.com/ZebulonRouseFrantzich/crash/internal/errors"
	"github.com/ZebulonRouseFrantzich/crash/internal/mirror"
	"github.com/ZebulonRouseFrantzich/crash/internal/platform"
	"github.com/ZebulonRouseFrantzich/crash/internal/transaction"
)

// DefaultHost is the controller address used when none is configured.
const DefaultHost = ":9090"

// MaxURLLength bounds the subscription URL.
const MaxURLLength = 4096

// Settings is the persisted settings document.
type Settings struct {
	// Subscription URL of the core document
	URL string `json:"url"`

	// Mirror strategy for GitHub downloads
	Proxy mirror.Strategy `json:"proxy"`

	// Proxy core to install and run
	Core platform.Core `json:"core"`

	// Web controller and dashboard
	Web Web `json:"web"`
}

// Web holds the external controller parameters passed to the core.
type Web struct {
	UI     artifact.UI `json:"ui"`
	Host   string      `json:"host"`
	Secret string      `json:"secret"`
}

// Default returns the settings used before anything is configured.
func Default() *Settings {
	return &Settings{
		Proxy: mirror.Direct,
		Core:  platform.DefaultCore,
		Web: Web{
			UI:   artifact.DefaultUI,
			Host: DefaultHost,
		},
	}
}

// Selection returns what the installer should fetch for these settings.
func (s *Settings) Selection() artifact.Selection {
	return artifact.Selection{
		Core:     s.Core,
		UI:       s.Web.UI,
		Strategy: s.Proxy,
	}
}

// Validate checks the rules the schema cannot express.
func (s *Settings) Validate() error {
	if s.URL != "" {
		if err := validateURL(s.URL); err != nil {
			return &ValidationError{Field: "url", Message: err.Error()}
		}
	}
	if _, err := mirror.ParseStrategy(string(s.Proxy)); err != nil {
		return &ValidationError{Field: "proxy", Message: err.Error()}
	}
	if !s.Core.Valid() {
		return &ValidationError{Field: "core", Message: fmt.Sprintf("unknown core %q", s.Core)}
	}
	if _, err := artifact.ParseUI(string(s.Web.UI)); err != nil {
		return &ValidationError{Field: "web.ui", Message: err.Error()}
	}
	if err := validateHost(s.Web.Host); err != nil {
		return &ValidationError{Field: "web.host", Message: err.Error()}
	}
	return nil
}

// ValidationError represents a settings validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return "settings validation failed for " + e.Field + ": " + e.Message
	}
	return "settings validation failed: " + e.Message
}

// validateURL accepts absolute http and https URLs.
func validateURL(raw string) error {
	if len(raw) > MaxURLLength {
		return fmt.Errorf("url too long (%d chars, max %d)", len(raw), MaxURLLength)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("url must use https:// or http:// scheme (got: %q)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url has no host")
	}
	return nil
}

// validateHost accepts "addr:port" and ":port".
func validateHost(host string) error {
	if !strings.Contains(host, ":") {
		return fmt.Errorf("host %q must be addr:port or :port", host)
	}
	_, port, err := net.SplitHostPort(host)
	if err != nil {
		return fmt.Errorf("invalid host %q: %w", host, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}

//go:embed settings.schema.json
var schemaJSON []byte

const schemaURL = "https://github.com/ZebulonRouseFrantzich/crash/settings.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("parse settings schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add settings schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// validateSchema checks a raw settings document against the schema.
func validateSchema(data []byte) error {
	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parse settings: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// Load reads the settings at path. A missing file yields Default.
func Load(path string) (*Settings, error) {
	const op = "load settings"

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, crasherr.IO(op, path, err)
	}

	if err := validateSchema(data); err != nil {
		return nil, crasherr.New(crasherr.KindValidation, op, "invalid settings document", err).WithResource(path)
	}

	s := Default()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, crasherr.New(crasherr.KindValidation, op, "invalid settings document", err).WithResource(path)
	}
	if err := s.Validate(); err != nil {
		return nil, crasherr.New(crasherr.KindValidation, op, "invalid settings document", err).WithResource(path)
	}
	return s, nil
}

// Save validates s and writes it to path atomically.
func (s *Settings) Save(path string) error {
	const op = "save settings"

	if err := s.Validate(); err != nil {
		return crasherr.New(crasherr.KindValidation, op, "invalid settings", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return crasherr.Wrap(crasherr.KindInternal, op, err)
	}
	if err := validateSchema(data); err != nil {
		return crasherr.New(crasherr.KindValidation, op, "invalid settings", err)
	}
	if err := transaction.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return crasherr.IO(op, path, err)
	}
	return nil
}
