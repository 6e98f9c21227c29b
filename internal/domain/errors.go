package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrExchange      = errors.New("exchange error")
	ErrStalePrice    = errors.New("stale price")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrCooldown      = errors.New("symbol in cooldown")
	ErrRiskRejected  = errors.New("risk check rejected")
	ErrLockHeld      = errors.New("lock already held")
)
