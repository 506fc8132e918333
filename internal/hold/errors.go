package hold

import "errors"

var (
	ErrChannelUnavailable = errors.New("channel unavailable, wait for reconnect")
	ErrHeldByOther        = errors.New("table is held by another customer")
	ErrUnknownTable       = errors.New("unknown table")
	ErrNotToggleable      = errors.New("table is not available")
	ErrNoIdentity         = errors.New("identity required")
)
