package metadata

import "errors"

var (
	// ErrMetadataSyntax marks a header line that could not be parsed.
	ErrMetadataSyntax = errors.New("metadata syntax error")
	// ErrDuplicateResource marks a second @resource with an already used name.
	ErrDuplicateResource = errors.New("duplicate resource name")
)
