package sqlite

import "errors"

var (
	ErrEmptyPath               = errors.New("sqlite: database path is empty")
	ErrFailedToOpenDB          = errors.New("sqlite: failed to open database")
	ErrFailedToApplyMigrations = errors.New("sqlite: failed to apply migrations")
	ErrHealthcheckFailed       = errors.New("sqlite: healthcheck failed")
)
