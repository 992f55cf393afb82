package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateOrder    = errors.New("order already exists")
	ErrDuplicatePosition = errors.New("position already exists")
	ErrInsufficientCash  = errors.New("insufficient cash")
	ErrTradingDisabled   = errors.New("trading is disabled")
	ErrRateLimited       = errors.New("rate limited")
	ErrWSDisconnect      = errors.New("websocket disconnected")
	ErrInvalidSignal     = errors.New("invalid signal parameters")
)
