//go:build sqlite

package main

// sqlite support, for development and small sites.

import (
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newDialector(dsn string) gorm.Dialector {
	if !strings.Contains(dsn, "_busy_timeout") {
		dsn = mergeOptions(dsn, "_busy_timeout=5000")
	}
	return &sqlite.Dialector{
		DSN: dsn,
	}
}

func configureDB(db *gorm.DB) error {
	// enable foreign key constraints
	return db.Exec("PRAGMA foreign_keys = ON").Error
}

// mergeOptions appends the options to the DSN.
func mergeOptions(dsn, options string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + options
	}
	return dsn + "?" + options
}
