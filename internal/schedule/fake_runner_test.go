package schedule

import (
	"context"
	"strings"
	"sync"
)

// call is one recorded command.
type call struct {
	Name  string
	Args  []string
	Stdin string
}

func (c call) String() string {
	return c.Name + " " + strings.Join(c.Args, " ")
}

// fakeRunner records commands and answers them with respond.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []call
	respond func(c call) ([]byte, error)
}

func (f *fakeRunner) Run(_ context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	c := call{Name: name, Args: args, Stdin: string(stdin)}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	if f.respond == nil {
		return nil, nil
	}
	return f.respond(c)
}

func (f *fakeRunner) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

// fakeCrontab is an in-memory crontab behind the crontab command.
type fakeCrontab struct {
	fakeRunner
	content string
	exists  bool
	writes  int
}

func newFakeCrontab(initial string) *fakeCrontab {
	fc := &fakeCrontab{content: initial, exists: initial != ""}
	fc.respond = func(c call) ([]byte, error) {
		switch strings.Join(c.Args, " ") {
		case "-l":
			if !fc.exists {
				return []byte("no crontab for tester\n"), &RunError{
					Command: "crontab", ExitCode: 1, Output: "no crontab for tester",
				}
			}
			return []byte(fc.content), nil
		case "-":
			fc.content = c.Stdin
			fc.exists = true
			fc.writes++
			return nil, nil
		}
		return nil, &RunError{Command: "crontab", ExitCode: 2, Output: "usage"}
	}
	return fc
}
