package isam

import (
	"errors"

	"github.com/cabewaldrop/isamdb/internal/table"
)

var (
	// ErrInvalidKey is returned when inserting a negative key.
	ErrInvalidKey = errors.New("isam: invalid key (negative)")

	// ErrDuplicateKey is returned when inserting a key that is already live.
	ErrDuplicateKey = table.ErrDuplicateKey

	// ErrInvariant indicates a state the engine never produces on its own.
	ErrInvariant = table.ErrInvariant

	// ErrInvalidOption is returned by Open for out-of-range options.
	ErrInvalidOption = errors.New("isam: invalid option")
)
