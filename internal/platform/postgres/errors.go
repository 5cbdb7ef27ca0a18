package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ncruces/go-sqlite3"
	"github.com/phrazzld/tasksync/internal/store"
)

// PostgreSQL error codes
const (
	// uniqueViolationCode is the PostgreSQL error code for unique constraint violations
	uniqueViolationCode = "23505"

	// foreignKeyViolationCode is the PostgreSQL error code for foreign key violations
	foreignKeyViolationCode = "23503"

	// checkViolationCode is the PostgreSQL error code for check constraint violations
	checkViolationCode = "23514"

	// notNullViolationCode is the PostgreSQL error code for not null violations
	notNullViolationCode = "23502"
)

// constraintKind classifies constraint failures of either backend.
type constraintKind int

const (
	constraintNone constraintKind = iota
	constraintUnique
	constraintForeignKey
	constraintCheck
	constraintNotNull
)

// classify inspects PostgreSQL and SQLite driver errors. The second result
// names the violated constraint or column when the driver reports one.
func classify(err error) (constraintKind, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolationCode:
			return constraintUnique, pgErr.ConstraintName
		case foreignKeyViolationCode:
			return constraintForeignKey, pgErr.ConstraintName
		case checkViolationCode:
			return constraintCheck, pgErr.ConstraintName
		case notNullViolationCode:
			return constraintNotNull, pgErr.ColumnName
		}
		return constraintNone, ""
	}

	var liteErr *sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.ExtendedCode() {
		case sqlite3.CONSTRAINT_UNIQUE, sqlite3.CONSTRAINT_PRIMARYKEY:
			return constraintUnique, ""
		case sqlite3.CONSTRAINT_FOREIGNKEY:
			return constraintForeignKey, ""
		case sqlite3.CONSTRAINT_CHECK:
			return constraintCheck, ""
		case sqlite3.CONSTRAINT_NOTNULL:
			return constraintNotNull, ""
		}
	}
	return constraintNone, ""
}

// MapError maps a database error to an appropriate store error, keeping
// the original in the chain. It understands both PostgreSQL and SQLite
// constraint failures.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}

	switch kind, name := classify(err); kind {
	case constraintUnique:
		return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
	case constraintForeignKey:
		return fmt.Errorf("%w: foreign key violation (%s): %v", store.ErrInvalidEntity, name, err)
	case constraintCheck:
		return fmt.Errorf("%w: check constraint violation (%s): %v", store.ErrInvalidEntity, name, err)
	case constraintNotNull:
		return fmt.Errorf("%w: not null violation (%s): %v", store.ErrInvalidEntity, name, err)
	}

	return err
}

// IsUniqueViolation reports whether err is a unique or primary key
// constraint violation.
func IsUniqueViolation(err error) bool {
	kind, _ := classify(err)
	return kind == constraintUnique
}

// IsForeignKeyViolation reports whether err is a foreign key violation.
func IsForeignKeyViolation(err error) bool {
	kind, _ := classify(err)
	return kind == constraintForeignKey
}

// CheckRowsAffected returns notFound when result affected no rows.
func CheckRowsAffected(result sql.Result, notFound error) error {
	if result == nil {
		return fmt.Errorf("nil result provided to CheckRowsAffected")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if notFound == nil {
			return store.ErrNotFound
		}
		return notFound
	}
	return nil
}

// MapUniqueViolation replaces a unique violation with specific, keeping
// the driver error for diagnostics. Other errors go through MapError.
func MapUniqueViolation(err error, specific error) error {
	if !IsUniqueViolation(err) {
		return MapError(err)
	}
	return fmt.Errorf("%w: %v", specific, err)
}
