package session

import "errors"

var (
	ErrEnqueuerNil = errors.New("session: enqueuer cannot be nil")
	ErrClosed      = errors.New("session: manager is closed")
)
