package api

import "errors"

var (
	// ErrUnauthorized means the backend rejected the credentials (401).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound means the resource does not exist (404).
	ErrNotFound = errors.New("not found")

	// ErrServerError covers every 5xx response.
	ErrServerError = errors.New("server error")

	// ErrRequestRejected covers the remaining non-2xx responses.
	ErrRequestRejected = errors.New("request rejected")

	// ErrNetworkError means no response was received.
	ErrNetworkError = errors.New("network error")

	ErrEmptyQuery  = errors.New("search query is empty")
	ErrInvalidPeer = errors.New("peer id must be positive")
)
