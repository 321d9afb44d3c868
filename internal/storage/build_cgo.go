//go:build sqlite_vec && !purego

package storage

// Compiled with CGO and the sqlite_vec tag. Registers the sqlite-vec
// extension so vector similarity runs inside SQLite.
//
// Build command:
//   CGO_ENABLED=1 go build -tags "sqlite_vec,sqlite_fts5" ./...
//
// Driver used: github.com/mattn/go-sqlite3

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// VectorExtensionAvailable indicates if vec_distance_cosine can be used in SQL
	VectorExtensionAvailable = true

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)

func init() {
	vec.Auto()
}
