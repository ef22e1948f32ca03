package db

import (
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

var (
	pgDetailKey     = regexp.MustCompile(`Key \(([^)]+)\)=`)
	sqliteUniqueKey = regexp.MustCompile(`UNIQUE constraint failed: ([\w.]+(?:, [\w.]+)*)`)
	mysqlUniqueKey  = regexp.MustCompile(`for key '([^']+)'`)
)

// DuplicateKeyField returns the column that caused a unique violation, or
// "" when the driver error does not name one. Composite keys return the
// first column.
func DuplicateKeyField(err error) string {
	if !IsDuplicateKeyErr(err) {
		return ""
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if m := pgDetailKey.FindStringSubmatch(pgErr.Detail); m != nil {
			return firstColumn(m[1])
		}
		return columnFromConstraint(pgErr.ConstraintName)
	}

	msg := err.Error()
	if m := sqliteUniqueKey.FindStringSubmatch(msg); m != nil {
		return firstColumn(m[1])
	}
	if m := mysqlUniqueKey.FindStringSubmatch(msg); m != nil {
		return columnFromConstraint(m[1])
	}
	if m := pgDetailKey.FindStringSubmatch(msg); m != nil {
		return firstColumn(m[1])
	}
	return ""
}

func firstColumn(raw string) string {
	col := strings.TrimSpace(strings.Split(raw, ",")[0])
	if idx := strings.LastIndex(col, "."); idx >= 0 {
		col = col[idx+1:]
	}
	// Expression indexes report e.g. lower(url).
	if open := strings.Index(col, "("); open >= 0 {
		col = strings.TrimSuffix(col[open+1:], ")")
	}
	return strings.TrimSpace(col)
}

// columnFromConstraint maps uq_<table>_<column> index names to the column.
func columnFromConstraint(name string) string {
	name = strings.TrimSpace(name)
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	for _, table := range []string{"registrations", "trackers", "idempotency_records", "outbox_events"} {
		prefix := "uq_" + table + "_"
		if strings.HasPrefix(name, prefix) {
			return strings.TrimPrefix(name, prefix)
		}
	}
	return name
}
