package domain

import "errors"

var (
	ErrRewardNotFound      = errors.New("reward not found")
	ErrMalformedPayload    = errors.New("malformed webhook payload")
	ErrTooManyClients      = errors.New("too many overlay clients")
	ErrBroadcasterStopped  = errors.New("broadcaster stopped")
	ErrInvalidOverlayToken = errors.New("invalid overlay token")
)
