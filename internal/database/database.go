// Package database provides the shared SQL connection and small cross-driver
// compatibility helpers. Queries are written with `?` placeholders and rebound
// per driver via sqlx.
package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Open connects with the given driver and DSN and applies pool settings.
func Open(driver, dsn string, maxOpen, maxIdle int, connMaxLifetime time.Duration) (*sqlx.DB, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if connMaxLifetime > 0 {
		db.SetConnMaxLifetime(connMaxLifetime)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// ForUpdate returns the row-lock suffix for the driver, or "" where the
// driver serializes writes itself (sqlite).
func ForUpdate(driver string) string {
	if strings.HasPrefix(driver, "sqlite") {
		return ""
	}
	return " FOR UPDATE"
}

// UsesReturning reports whether INSERT ... RETURNING id is the way to obtain
// generated keys on this driver. MySQL and sqlite use LastInsertId instead.
func UsesReturning(driver string) bool {
	return driver == "postgres" || driver == "pgx"
}
