package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full, message dropped")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry-related errors
var (
	ErrNilConnection = errors.New("connection cannot be nil")
	ErrNoIdentity    = errors.New("connection identity must be set before registration")
	ErrNotConnected  = errors.New("no live connection for user and role")
)
