// Package worker contains the step executors and the worker pools that
// drain the task queues.
//
// Each queue gets its own Pool with its own concurrency, retry, and rate
// settings. Executors perform the work (document extraction, AI completion,
// actions) and report outcomes to the orchestrator; the pool only decides
// whether a failed job is retried.
package worker
