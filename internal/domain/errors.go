package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrInvalidListing   = errors.New("invalid listing")
	ErrAdapterNotFound  = errors.New("adapter not found")
	ErrIteratorDone     = errors.New("iterator done")
	ErrQueueFull        = errors.New("job queue full")
	ErrJobNotFound      = errors.New("job not found")
	ErrWSDisconnect     = errors.New("websocket disconnected")
	ErrLockHeld         = errors.New("lock held")
)
