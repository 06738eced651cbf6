package cache

import "errors"

// Errors returned by Item and Cache operations. Callers should use
// errors.Is against these rather than comparing strings.
var (
	// ErrNotFound is returned when the remote store has confirmed the
	// object does not exist, or when an error during probing was treated
	// as not-found per the negative-cache window (see Item.Exists).
	ErrNotFound = errors.New("cache: item not found")

	// ErrExpired is returned when an operation is attempted against an
	// Item that has already transitioned to the Expired state.
	ErrExpired = errors.New("cache: item expired")

	// ErrDisposed is returned by Cache methods after Close has run.
	ErrDisposed = errors.New("cache: disposed")

	// ErrInvalidState is returned when an operation is attempted from a
	// state that does not support it (e.g. GetLocalReader before any
	// download has ever been requested).
	ErrInvalidState = errors.New("cache: invalid item state for operation")
)
