package domain

import "errors"

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrConnectionClosing  = errors.New("connection is closing")
	ErrIdentityMismatch   = errors.New("connection already bound to another identity")
	ErrRoomNotJoined      = errors.New("must join room first")
	ErrAccessDenied       = errors.New("access denied")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrMessageNotFound    = errors.New("message not found")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionFull        = errors.New("session is full")
	ErrNotParticipant     = errors.New("not a session participant")
)
