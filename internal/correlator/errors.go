package correlator

import "errors"

var (
	// ErrDuplicateID is returned by Register when the id was already
	// pending. The new entry replaces the old one.
	ErrDuplicateID = errors.New("correlator: async id already pending")

	// ErrEmptyID is returned by Register for an empty id.
	ErrEmptyID = errors.New("correlator: async id is empty")
)
