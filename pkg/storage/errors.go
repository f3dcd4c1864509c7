package storage

import "errors"

// Sentinel errors returned by the store types, grounded on the teacher's
// pkg/services/errors.go sentinel-error idiom.
var (
	ErrNotFound      = errors.New("storage: not found")
	ErrAlreadyExists = errors.New("storage: already exists")
	ErrInvalidInput  = errors.New("storage: invalid input")
)
