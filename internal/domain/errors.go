package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrLockHeld       = errors.New("lock already held")
	ErrLockLost       = errors.New("lock lost")
	ErrWSDisconnect   = errors.New("websocket disconnected")
	ErrMalformedFrame = errors.New("malformed frame")
	ErrPersistence    = errors.New("persistence failed")
	ErrInvalidTrade   = errors.New("invalid trade parameters")
)
