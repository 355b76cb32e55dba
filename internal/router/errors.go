package router

import "errors"

var (
	// ErrTargetOffline means the command was accepted but the learner has
	// no live connection. It is recorded, not retried: commands are
	// fire-and-forget to the currently connected session only.
	ErrTargetOffline = errors.New("target learner is not connected")
)
