package db

import "errors"

// Error kinds used across the engine. Wrap with fmt.Errorf("...: %w", ...)
// and match with errors.Is.
var (
	ErrConnectionFailed     = errors.New("connection failed")
	ErrQueryFailed          = errors.New("query failed")
	ErrSchemaIncompatible   = errors.New("schema incompatible")
	ErrMissingKey           = errors.New("missing primary key")
	ErrConfigurationInvalid = errors.New("configuration invalid")
	ErrFatal                = errors.New("fatal error")
)
