// Package persistence provides storage for workflows, runs, run logs, and
// AI output audit records, with in-memory, SQLite, and Redis backends.
package persistence
