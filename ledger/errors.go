package ledger

import "errors"

var (
	// ErrNotFound indicates no record exists for the fid.
	ErrNotFound = errors.New("ledger: certificate not found")

	// ErrDuplicate indicates a record already exists for the fid.
	ErrDuplicate = errors.New("ledger: certificate already exists")

	// ErrInvalidArgument indicates an empty or malformed argument.
	ErrInvalidArgument = errors.New("ledger: invalid argument")

	// ErrInactive indicates a mutation of a deactivated record.
	ErrInactive = errors.New("ledger: certificate is inactive")

	// ErrUnauthorized indicates the actor is not the record's issuer or could
	// not prove it holds the issuer's key.
	ErrUnauthorized = errors.New("ledger: actor is not the issuer")

	// ErrConnectionFailed indicates the client could not reach the ledger node.
	ErrConnectionFailed = errors.New("ledger: connection failed")

	// ErrInvalidResponse indicates the node returned a malformed or unexpected response.
	ErrInvalidResponse = errors.New("ledger: invalid response")
)
