package types

import "errors"

// Graph and codec errors.
var (
	// ErrInvalidFormat is returned when bytes cannot be parsed as a key,
	// value, link, identifier, or ticket.
	ErrInvalidFormat = errors.New("invalid format, could not parse bytes")

	// ErrKindMismatch is returned when a typed accessor or a navigation
	// operation meets a value of the wrong kind.
	ErrKindMismatch = errors.New("value kind mismatch")

	// ErrAbsent is returned where absence is an error, such as a missing
	// DNS TXT record during a cross-instance lookup.
	ErrAbsent = errors.New("absent")
)

// Profile errors.
var (
	ErrUsernameConflict   = errors.New("username already taken")
	ErrDomainMismatch     = errors.New("username domain does not match this instance's domain")
	ErrNotFound           = errors.New("not found")
	ErrUnsupportedVersion = errors.New("unsupported import/export format version")
)

// Document store errors.
var (
	ErrDocNotFound     = errors.New("doc does not exist")
	ErrReadOnly        = errors.New("namespace is not writable with the held capability")
	ErrStoreClosed     = errors.New("store is closed")
	ErrAuthorUnknown   = errors.New("author is not known to this store")
	ErrAlreadyAttached = errors.New("backend already attached")
)
