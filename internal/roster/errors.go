package roster

import "errors"

var (
	// ErrNotFound is returned when a member or record lookup has no result.
	ErrNotFound = errors.New("not found")

	// ErrAmbiguous is returned when a lookup matches more than one member.
	ErrAmbiguous = errors.New("ambiguous")

	// ErrInvalidInput is returned for malformed caller input such as an
	// unparseable timestamp or an empty identifier.
	ErrInvalidInput = errors.New("invalid input")
)
