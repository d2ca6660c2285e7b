// Package repository persists templates, broadcasts, the delivery ledger and
// API keys in SQLite.
package repository

import (
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned by mutations addressing a missing row.
// Lookups return (nil, nil) instead.
var ErrNotFound = errors.New("not found")

type scanner interface {
	Scan(dest ...any) error
}

// expectOne returns notFound unless exactly one row was affected
func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
