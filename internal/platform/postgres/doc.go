// Package postgres implements the internal/store interfaces with
// database/sql. The queries are written to run unchanged on PostgreSQL (pgx)
// and SQLite, so the same stores back both the server deployment and the
// embedded single-file database. Schema changes ship as goose migrations.
package postgres
