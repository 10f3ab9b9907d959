// Package schedule registers crash's periodic jobs with the operating
// system's scheduler: crontab on Unix-like systems and Task Scheduler
// (schtasks) on Windows.
//
// Two jobs are managed:
//
//	crash-maintenance  0 3 * * 3    crash run-task  (config, geo, restart)
//	crash-healthcheck  */5 * * * *  crash start     (restart a dead core)
//
// Installing is idempotent: each job is identified by name, so a second
// install updates the existing trigger in place. Removing a job that is not
// installed is a no-op. All external commands go through a Runner so the
// backends can be tested without touching the real scheduler.
package schedule
