//go:build sqlite_cgo
// +build sqlite_cgo

package store

import (
	// CGO-based SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQL driver name for the cgo build
	DriverName = "sqlite3"
)
