// Package store declares the persistence interfaces the sync engine works
// against: tasks and their remote references, list bindings and their
// committed snapshots, tombstones, pending triggers, jobs and sealed
// credentials. SQL implementations live in internal/platform/postgres.
package store
