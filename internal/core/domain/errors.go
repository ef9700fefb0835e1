package domain

import "errors"

var (
	ErrAuthenticationRejected = errors.New("authentication rejected")
	ErrDuplicateConnection    = errors.New("duplicate connection id")
	ErrConnectionClosed       = errors.New("connection closed")
	ErrPushTimeout            = errors.New("push timed out")
)
