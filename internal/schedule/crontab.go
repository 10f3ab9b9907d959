package schedule

import (
	"context"
	"errors"
	"strings"
)

// markerPrefix tags every line crash owns in a crontab. The task name
// follows it.
const markerPrefix = "# crash:"

// discardOutput keeps cron from mailing job output; crash logs to its own
// file.
const discardOutput = ">/dev/null 2>&1"

// Crontab manages jobs in the invoking user's crontab.
type Crontab struct {
	runner Runner
}

// NewCrontab creates a crontab backend.
func NewCrontab(r Runner) *Crontab {
	return &Crontab{runner: r}
}

func (c *Crontab) read(ctx context.Context) (string, error) {
	out, err := c.runner.Run(ctx, nil, "crontab", "-l")
	if err != nil {
		var re *RunError
		if errors.As(err, &re) && strings.Contains(strings.ToLower(re.Output), "no crontab") {
			return "", nil
		}
		return "", err
	}
	return string(out), nil
}

func (c *Crontab) write(ctx context.Context, content string) error {
	_, err := c.runner.Run(ctx, []byte(content), "crontab", "-")
	return err
}

// Install adds or replaces the entries of tasks. Lines crash does not own
// are kept as they are.
func (c *Crontab) Install(ctx context.Context, exe string, tasks []Task) error {
	current, err := c.read(ctx)
	if err != nil {
		return err
	}

	lines := withoutTasks(current, Names(tasks))
	for _, t := range tasks {
		lines = append(lines, cronLine(exe, t))
	}
	return c.replace(ctx, current, lines)
}

// Remove deletes the entries of the named tasks.
func (c *Crontab) Remove(ctx context.Context, names []string) error {
	current, err := c.read(ctx)
	if err != nil {
		return err
	}
	return c.replace(ctx, current, withoutTasks(current, names))
}

// replace writes lines unless they equal current.
func (c *Crontab) replace(ctx context.Context, current string, lines []string) error {
	content := strings.Join(lines, "\n")
	if content != "" {
		content += "\n"
	}
	if content == normalizeCrontab(current) {
		return nil
	}
	return c.write(ctx, content)
}

// List returns the entries crash owns.
func (c *Crontab) List(ctx context.Context, names []string) ([]Entry, error) {
	current, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	var entries []Entry
	for _, line := range strings.Split(current, "\n") {
		name, ok := lineTask(line)
		if !ok || !want[name] {
			continue
		}
		body := strings.TrimSpace(line[:strings.LastIndex(line, markerPrefix)])
		fields := strings.Fields(body)
		if len(fields) < 6 {
			continue
		}
		spec := strings.Join(fields[:5], " ")
		entries = append(entries, Entry{
			Name:    name,
			Spec:    spec,
			Command: cronUnescape(strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(body, spec), discardOutput))),
		})
	}
	return entries, nil
}

// lineTask returns the task name a crontab line is tagged with.
func lineTask(line string) (string, bool) {
	i := strings.LastIndex(line, markerPrefix)
	if i < 0 {
		return "", false
	}
	name := strings.TrimSpace(line[i+len(markerPrefix):])
	return name, name != ""
}

// withoutTasks returns the lines of content not tagged with one of names.
// Blank lines are kept except at the end.
func withoutTasks(content string, names []string) []string {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	var kept []string
	for _, line := range strings.Split(content, "\n") {
		if name, ok := lineTask(line); ok && drop[name] {
			continue
		}
		kept = append(kept, line)
	}
	for len(kept) > 0 && strings.TrimSpace(kept[len(kept)-1]) == "" {
		kept = kept[:len(kept)-1]
	}
	return kept
}

func normalizeCrontab(content string) string {
	lines := withoutTasks(content, nil)
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func cronLine(exe string, t Task) string {
	parts := []string{t.Spec, shellQuote(exe)}
	for _, a := range t.Args {
		parts = append(parts, shellQuote(a))
	}
	parts = append(parts, discardOutput, markerPrefix+t.Name)
	return cronEscape(strings.Join(parts, " "))
}

// cronEscape escapes %, which cron turns into a newline even inside quotes.
func cronEscape(s string) string {
	return strings.ReplaceAll(s, "%", `\%`)
}

func cronUnescape(s string) string {
	return strings.ReplaceAll(s, `\%`, "%")
}

// shellQuote quotes s for /bin/sh unless it is made of safe characters.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			strings.ContainsRune("-_./:=@+", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
