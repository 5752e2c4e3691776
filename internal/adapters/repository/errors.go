package repository

import "errors"

// Sentinel kinds for ledger errors.
var (
	ErrNotFound  = errors.New("waste type not found")
	ErrMigration = errors.New("ledger migration failed")
	ErrClosed    = errors.New("ledger closed")
)
