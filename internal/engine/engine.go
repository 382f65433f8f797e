// Package engine implements the run orchestrator: the state machine that
// owns run lifecycle, dispatches step jobs to the task queues, and applies
// step results reported back by the executors.
package engine
