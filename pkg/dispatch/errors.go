package dispatch

import "errors"

var (
	// ErrUnauthorized means the caller did not present the shared secret.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidBody means the request body is not valid JSON of the
	// expected shape.
	ErrInvalidBody = errors.New("invalid request body")

	// ErrMissingContent means title or body is empty.
	ErrMissingContent = errors.New("title and body are required")

	// ErrNoAudience means none of token, tokens, topic or all was given.
	ErrNoAudience = errors.New("token, tokens, topic or all is required")

	// ErrBackendInit means the delivery backend could not be initialized.
	ErrBackendInit = errors.New("delivery backend initialization failed")

	// ErrDirectoryLookup means the recipient directory could not be read.
	ErrDirectoryLookup = errors.New("recipient directory lookup failed")

	// ErrDispatch means a send call to the delivery backend failed.
	ErrDispatch = errors.New("notification dispatch failed")
)
