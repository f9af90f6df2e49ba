package domain

import "errors"

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNotInRoom    = errors.New("connection not in the room")
	ErrNotFound     = errors.New("not found")

	ErrInvalidInput    = errors.New("invalid input")
	ErrTooLarge        = errors.New("payload too large")
	ErrUnauthorized    = errors.New("not allowed by room lock")
	ErrInvalidIdentity = errors.New("identity could not be verified")

	ErrScreenShareActive = errors.New("screen share is active")
	ErrResourceActive    = errors.New("virtual browser is active")
	ErrResourceBusy      = errors.New("virtual browser already assigned or assigning")
	ErrNoResource        = errors.New("no virtual browser to stop")
	ErrAssignCancelled   = errors.New("virtual browser assignment cancelled")
	ErrAllocationFailed  = errors.New("virtual browser allocation failed")
	ErrAbuseRejected     = errors.New("request rejected by abuse check")

	ErrStoreDisabled = errors.New("blob store is not configured")
)
