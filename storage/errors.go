package storage

import "errors"

// Storage error constants
var (
	// ErrDatabaseClosed is returned when attempting to use a closed database
	// connection.
	ErrDatabaseClosed = errors.New("database is closed")
)
