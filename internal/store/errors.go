package store

import "errors"

// ErrNotFound indicates a missing user or credential.
var ErrNotFound = errors.New("record not found")
