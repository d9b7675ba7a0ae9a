package services

import "errors"

// Stable error kinds for the chat store; handlers map these onto HTTP
// status codes and the socket layer onto error frames.
var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrValidation = errors.New("validation failed")
)
