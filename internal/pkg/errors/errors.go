package errors

import "errors"

// Sentinels shared across layers. Services wrap them with context; the HTTP
// layer maps them onto status codes with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
)
