//go:build !sqlite_cgo
// +build !sqlite_cgo

package store

import (
	// Pure Go SQLite driver
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQL driver name for the pure Go build
	DriverName = "sqlite"
)
