package db

import "errors"

var (
	errEmptyDSN      = errors.New("db: DATABASE_URL is empty")
	errNotConfigured = errors.New("db: not configured")
)
