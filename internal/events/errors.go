package events

import "errors"

// ErrUnknownEvent is returned by Handle for a frame whose type has no handler.
var ErrUnknownEvent = errors.New("unknown event type")

// ErrValidation is returned when the data of a frame is malformed or misses a
// required field. It is always wrapped with the offending detail:
//
//	if errors.Is(err, events.ErrValidation) { ... }
var ErrValidation = errors.New("validation failed")

// ErrDuplicateChat is returned by NewChat when a private chat between the two
// requested users already exists.
var ErrDuplicateChat = errors.New("private chat already exists")
