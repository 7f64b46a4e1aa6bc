// Package pipeline schedules discovered images through stability, decision,
// and write stages with a fixed pool of workers.
//
// The Coordinator owns an unbounded in-memory queue and the ledger. Producers
// (the initial sweep and the live watcher) call Submit, which never blocks.
// Each work item moves through
//
//	Discovered -> Stabilizing -> Deciding -> Writing -> Completed | Failed
//
// Stability timeouts and decision failures are requeued with exponential
// backoff until their retry budgets run out. Write failures are terminal and
// leave the source in place. A source that vanishes while waiting is dropped
// without recording anything.
//
// Workers never hold the ledger lock while blocked; the InProgress marker is
// what keeps a second worker from claiming the same path.
package pipeline
