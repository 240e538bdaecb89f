package remote

import "errors"

var (
	// ErrRecordNotFound indicates no record exists with the given ID.
	ErrRecordNotFound = errors.New("remote: record not found")

	// ErrUnauthorized indicates the store rejected the access token.
	ErrUnauthorized = errors.New("remote: unauthorized")

	// ErrUnavailable indicates the store could not be reached or answered
	// with a server error.
	ErrUnavailable = errors.New("remote: store unavailable")
)
