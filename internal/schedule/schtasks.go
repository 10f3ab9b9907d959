package schedule

import (
	"context"
	"errors"
	"strings"
)

// Schtasks manages jobs in the Windows Task Scheduler.
type Schtasks struct {
	runner Runner
}

// NewSchtasks creates a Task Scheduler backend.
func NewSchtasks(r Runner) *Schtasks {
	return &Schtasks{runner: r}
}

// Install creates or overwrites each task.
func (s *Schtasks) Install(ctx context.Context, exe string, tasks []Task) error {
	for _, t := range tasks {
		trigger, err := cronToTrigger(t.Spec)
		if err != nil {
			return err
		}
		args := []string{"/Create", "/F", "/TN", t.Name, "/TR", commandLine(exe, t.Args)}
		args = append(args, trigger.Args()...)
		if _, err := s.runner.Run(ctx, nil, "schtasks", args...); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes the named tasks that exist.
func (s *Schtasks) Remove(ctx context.Context, names []string) error {
	for _, name := range names {
		entry, err := s.query(ctx, name)
		if err != nil {
			return err
		}
		if entry == nil {
			continue
		}
		if _, err := s.runner.Run(ctx, nil, "schtasks", "/Delete", "/TN", name, "/F"); err != nil {
			return err
		}
	}
	return nil
}

// List returns the named tasks that exist.
func (s *Schtasks) List(ctx context.Context, names []string) ([]Entry, error) {
	var entries []Entry
	for _, name := range names {
		entry, err := s.query(ctx, name)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			entries = append(entries, *entry)
		}
	}
	return entries, nil
}

// query returns nil when the task does not exist.
func (s *Schtasks) query(ctx context.Context, name string) (*Entry, error) {
	out, err := s.runner.Run(ctx, nil, "schtasks", "/Query", "/TN", name, "/FO", "LIST", "/V")
	if err != nil {
		var re *RunError
		if errors.As(err, &re) && re.ExitCode == 1 {
			return nil, nil
		}
		return nil, err
	}

	entry := &Entry{Name: name}
	for _, line := range strings.Split(string(out), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Task To Run":
			entry.Command = value
		case "Schedule Type":
			entry.Spec = value
		}
	}
	return entry, nil
}

// commandLine quotes exe and args for the /TR argument.
func commandLine(exe string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	for _, a := range append([]string{exe}, args...) {
		if a == "" || strings.ContainsAny(a, " \t\"") {
			a = `"` + strings.ReplaceAll(a, `"`, `\"`) + `"`
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}
