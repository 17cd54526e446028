package relay

import "errors"

var (
	ErrTooManyConnections = errors.New("too many connections")
	// ErrSessionFull is returned when a session already holds its maximum
	// number of participants (two for a call).
	ErrSessionFull = errors.New("session full")
	ErrHubClosed   = errors.New("hub closed")
)
