// Package session manages nbq session directories.
//
// # Overview
//
// A session groups one worker lock, one durable state record, one queue of
// snapshots and the run directories produced by executing them. Sessions live
// under the base directory (NBQ_HOME, default ./nbqueue) and are named by a
// sortable UTC timestamp with a random suffix, so lexical order is creation
// order.
//
// # Layout
//
//	<base>/<session-id>/
//	  state.json   durable queue, history, current item, stop flag
//	  state.lock   flock serializing state read-modify-write
//	  lock.pid     worker pid, present only while a worker runs
//	  latest_run   symlink to the most recent run directory
//	  queue/       snapshots of enqueued sources
//	  output/      reserved for exported artifacts
//	  logs/        output of detached workers
//	  <run-id>/    source.<ext>, input.ipynb (scripts only), executed.ipynb,
//	               run.log, status.json
//
// # Resolution
//
// Resolve picks the session a command should act on:
//
//  1. the session whose lock names a live worker,
//  2. otherwise the latest session if it still has queued or running work
//     or a stop request nobody has restarted from,
//  3. otherwise a freshly created session.
//
// Resolution runs under a flock on <base>/.resolve.lock so concurrent adds
// with no session converge on the same new one.
package session
