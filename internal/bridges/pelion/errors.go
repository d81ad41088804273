package pelion

import "errors"

// Domain errors for the bridge package.
var (
	// ErrInvalidCommand is returned when a command message cannot be decoded.
	ErrInvalidCommand = errors.New("pelion: invalid command")

	// ErrInvalidTopic is returned for a command on a malformed topic.
	ErrInvalidTopic = errors.New("pelion: invalid command topic")
)
