package table

import "errors"

var (
	// ErrDuplicateKey is returned when inserting a key that is already live.
	ErrDuplicateKey = errors.New("table: duplicate key")

	// ErrInvariant indicates the files are in a state the algorithms never produce.
	ErrInvariant = errors.New("table: invariant violated")
)
