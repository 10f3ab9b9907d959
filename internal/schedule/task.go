package schedule

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"

	crasherr "github.com/ZebulonRouseFrantzich/crash/internal/errors"
)

const (
	MaintenanceTask = "crash-maintenance"
	HealthcheckTask = "crash-healthcheck"
)

// Task is one periodic job.
type Task struct {
	Name string
	// Spec is a standard five-field cron expression.
	Spec string
	// Args are passed to the crash executable.
	Args []string
}

// Entry is a job found in the scheduler.
type Entry struct {
	Name    string
	Spec    string
	Command string
}

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]{0,63}$`)

// Validate checks the name and the cron expression.
func (t Task) Validate() error {
	if !namePattern.MatchString(t.Name) {
		return crasherr.Validation("validate task", "invalid task name %q", t.Name)
	}
	if _, err := cron.ParseStandard(t.Spec); err != nil {
		return crasherr.New(crasherr.KindValidation, "validate task",
			fmt.Sprintf("invalid cron expression %q", t.Spec), err).WithResource(t.Name)
	}
	if len(strings.Fields(t.Spec)) != 5 {
		// ParseStandard also accepts descriptors like @daily, which schtasks
		// cannot express.
		return crasherr.Validation("validate task", "cron expression %q must have five fields", t.Spec)
	}
	return nil
}

// DefaultTasks returns the managed jobs. Each passes --home so scheduled
// runs use the same install root as the invocation that registered them.
func DefaultTasks(home string) []Task {
	global := []string{"--home", home}
	return []Task{
		{
			Name: MaintenanceTask,
			Spec: "0 3 * * 3",
			Args: append(append([]string{}, global...), "run-task"),
		},
		{
			Name: HealthcheckTask,
			Spec: "*/5 * * * *",
			Args: append(append([]string{}, global...), "start"),
		},
	}
}

// Names returns the task names.
func Names(tasks []Task) []string {
	names := make([]string, len(tasks))
	for i, t := range tasks {
		names[i] = t.Name
	}
	return names
}
