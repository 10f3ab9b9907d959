package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/ZebulonRouseFrantzich/crash/internal/config"
	"github.com/ZebulonRouseFrantzich/crash/internal/platform"
)

const probeTimeout = time.Second

// Report is a point-in-time view of the core.
type Report struct {
	State     State
	Core      platform.Core
	PID       int
	Exe       string
	LaunchID  string
	StartedAt time.Time
	Uptime    time.Duration
	// RSS is the resident set size in bytes, 0 when unknown.
	RSS uint64

	Controller string // address probed, e.g. "127.0.0.1:9090"
	Reachable  bool
	Version    string // reported by the controller
	ProbeError string
}

// Status reports the core's state without changing anything on disk.
func (s *Supervisor) Status(ctx context.Context) (*Report, error) {
	settings, err := config.Load(s.layout.Settings())
	if err != nil {
		return nil, err
	}

	rec, state := s.resolve(ctx)
	report := &Report{State: state, Core: settings.Core}
	if rec != nil {
		report.PID = rec.PID
		report.Exe = rec.Exe
		report.LaunchID = rec.LaunchID
		report.StartedAt = rec.StartedAt
		if rec.Core != "" {
			report.Core = rec.Core
		}
	}
	if state == StateStopped || state == StateUnknown {
		return report, nil
	}

	if !rec.StartedAt.IsZero() {
		report.Uptime = s.clock.Now().Sub(rec.StartedAt).Truncate(time.Second)
	}
	if p, err := process.NewProcessWithContext(ctx, int32(rec.PID)); err == nil {
		if mem, err := p.MemoryInfoWithContext(ctx); err == nil {
			report.RSS = mem.RSS
		}
	}

	report.Controller = probeAddr(settings.Web.Host)
	version, err := s.probe(ctx, report.Controller, settings.Web.Secret)
	if err != nil {
		report.ProbeError = err.Error()
	} else {
		report.Reachable = true
		report.Version = version
	}
	return report, nil
}

// State resolves the core's state from the record alone. Unlike Status it
// never probes the controller.
func (s *Supervisor) State(ctx context.Context) State {
	_, state := s.resolve(ctx)
	return state
}

// probeAddr maps a listen address to one a local client can dial.
func probeAddr(host string) string {
	h, port, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	switch h {
	case "", "0.0.0.0", "*":
		h = "127.0.0.1"
	case "::":
		h = "::1"
	}
	return net.JoinHostPort(h, port)
}

// probe asks the controller for its version.
func (s *Supervisor) probe(ctx context.Context, addr, secret string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/version", nil)
	if err != nil {
		return "", err
	}
	if secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("controller answered %s", resp.Status)
	}
	var body struct {
		Version string `json:"version"`
		Meta    bool   `json:"meta"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return "", fmt.Errorf("decode controller version: %w", err)
	}
	if body.Meta && !strings.Contains(strings.ToLower(body.Version), "meta") {
		return body.Version + " (meta)", nil
	}
	return body.Version, nil
}

// Lines renders the report for the terminal.
func (r *Report) Lines() []string {
	lines := []string{fmt.Sprintf("state:      %s", r.State)}
	if r.Core != "" {
		lines = append(lines, fmt.Sprintf("core:       %s", r.Core))
	}
	if r.PID > 0 {
		lines = append(lines, fmt.Sprintf("pid:        %d", r.PID))
	}
	if r.State == StateStopped || r.State == StateUnknown {
		return lines
	}
	if !r.StartedAt.IsZero() {
		lines = append(lines, fmt.Sprintf("started:    %s (up %s)",
			humanize.Time(r.StartedAt), humanizeDuration(r.Uptime)))
	}
	if r.RSS > 0 {
		lines = append(lines, fmt.Sprintf("memory:     %s", humanize.IBytes(r.RSS)))
	}
	switch {
	case r.Reachable:
		lines = append(lines, fmt.Sprintf("controller: %s (version %s)", r.Controller, r.Version))
	case r.Controller != "":
		lines = append(lines, fmt.Sprintf("controller: %s unreachable: %s", r.Controller, r.ProbeError))
	}
	return lines
}

func humanizeDuration(d time.Duration) string {
	if d < time.Minute {
		return d.Truncate(time.Second).String()
	}
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	if days > 0 {
		return fmt.Sprintf("%dd%s", days, d.Truncate(time.Minute))
	}
	return d.Truncate(time.Minute).String()
}
