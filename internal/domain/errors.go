package domain

import "errors"

// Sentinel errors for the application. All of these are recoverable: the
// operation that raised them is aborted, any open transaction rolls back,
// and only the originating caller is notified.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrNotMember    = errors.New("not a member of this chat")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("resource already exists")
	ErrUnauthorized = errors.New("unauthorized access")
	ErrValidation   = errors.New("invalid input")
)
