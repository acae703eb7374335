package repository

import "errors"

// Sentinel kinds for store errors. Domain-level outcomes use the kinds of
// the model package.
var (
	ErrDuplicate       = errors.New("record already exists")
	ErrTreeFinal       = errors.New("event tree is final")
	ErrAttemptExists   = errors.New("claim has an open attempt")
	ErrAttemptMismatch = errors.New("attempt does not hold the claim")
)
