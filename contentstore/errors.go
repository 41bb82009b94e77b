package contentstore

import "errors"

var (
	// ErrNotFound indicates no content exists at the given address.
	ErrNotFound = errors.New("contentstore: content not found")

	// ErrEmptyContent indicates an attempt to store an empty blob.
	ErrEmptyContent = errors.New("contentstore: content is empty")

	// ErrInvalidAddress indicates the address is not in the store's format.
	ErrInvalidAddress = errors.New("contentstore: invalid address")

	// ErrInvalidBaseDir indicates the base directory path is invalid.
	ErrInvalidBaseDir = errors.New("contentstore: invalid base directory")

	// ErrIntegrity indicates stored bytes no longer hash to their address.
	ErrIntegrity = errors.New("contentstore: content does not match address")

	// ErrIOFailure indicates a local file read/write error.
	ErrIOFailure = errors.New("contentstore: I/O failure")

	// ErrUnavailable indicates a remote store could not be reached or
	// answered with an unexpected status.
	ErrUnavailable = errors.New("contentstore: store unavailable")

	// ErrResponseTooLarge indicates a remote store returned more than
	// MaxResponseSize bytes.
	ErrResponseTooLarge = errors.New("contentstore: response exceeds maximum size")
)
