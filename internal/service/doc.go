// Package service supervises the proxy core as a detached background
// process.
//
// A started core outlives the crash invocation that launched it, so its
// identity is persisted in service.json: pid, executable, the create time
// the operating system reports for the pid, and a launch id. Every later
// invocation re-derives the state from that record and the live process
// table:
//
//   - no record: Stopped
//   - pid alive, create time within one second of the record and the same
//     executable: the recorded state (Starting, Running or Stopping)
//   - anything else: Unknown, a stale record left by a core that died or a
//     pid that was reused
//
// Start, Stop and Restart serialize on the "service" lock. A second
// invocation waits a few seconds for the first to finish and then acts on
// the state it left, so two concurrent starts both succeed with one core.
package service
