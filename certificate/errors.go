package certificate

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitfsorg/certvault-go/contentstore"
	"github.com/bitfsorg/certvault-go/emailcheck"
	"github.com/bitfsorg/certvault-go/envelope"
	"github.com/bitfsorg/certvault-go/ledger"
)

var (
	// ErrAddressMismatch indicates the caller's expected content address
	// differs from the ledger's pointer. No store fetch is made.
	ErrAddressMismatch = errors.New("certificate: content address does not match ledger")

	// ErrInvalidRequest indicates a request field is missing or malformed.
	ErrInvalidRequest = errors.New("certificate: invalid request")
)

// Steps named in StepError.
const (
	StepValidate         = "validate"
	StepCheckEmail       = "check-email"
	StepEncode           = "encode"
	StepStorePut         = "store-put"
	StepStoreGet         = "store-get"
	StepDecode           = "decode"
	StepLedgerCreate     = "ledger-create"
	StepLedgerRead       = "ledger-read"
	StepLedgerUpdate     = "ledger-update"
	StepLedgerDeactivate = "ledger-deactivate"
	StepLedgerVerify     = "ledger-verify"
	StepLedgerLookup     = "ledger-lookup"
)

// StepError records which step of an operation failed.
type StepError struct {
	Op   string
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("certificate: %s: %s: %v", e.Op, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func stepErr(op, step string, err error) error {
	return &StepError{Op: op, Step: step, Err: err}
}

// Outcome is the structured result class of an operation.
type Outcome string

const (
	OutcomeOK              Outcome = "ok"
	OutcomeNotFound        Outcome = "not-found"
	OutcomeInactive        Outcome = "inactive"
	OutcomeIntegrity       Outcome = "integrity"
	OutcomeMalformed       Outcome = "malformed"
	OutcomeUnauthorized    Outcome = "unauthorized"
	OutcomeDuplicate       Outcome = "duplicate"
	OutcomeAddressMismatch Outcome = "address-mismatch"
	OutcomeInvalidArgument Outcome = "invalid-argument"
	OutcomeUnavailable     Outcome = "unavailable"
	OutcomeInternal        Outcome = "internal"
)

// Classify maps an error from any layer to an Outcome. A nil error is
// OutcomeOK.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrAddressMismatch):
		return OutcomeAddressMismatch
	case errors.Is(err, envelope.ErrIntegrity), errors.Is(err, contentstore.ErrIntegrity):
		return OutcomeIntegrity
	case errors.Is(err, envelope.ErrMalformed):
		return OutcomeMalformed
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, contentstore.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ledger.ErrInactive):
		return OutcomeInactive
	case errors.Is(err, ledger.ErrUnauthorized):
		return OutcomeUnauthorized
	case errors.Is(err, ledger.ErrDuplicate):
		return OutcomeDuplicate
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ledger.ErrInvalidArgument),
		errors.Is(err, envelope.ErrEmptyName),
		errors.Is(err, envelope.ErrNameTooLong),
		errors.Is(err, contentstore.ErrInvalidAddress),
		errors.Is(err, emailcheck.ErrInvalidEmail),
		errors.Is(err, emailcheck.ErrNoMailDomain):
		return OutcomeInvalidArgument
	case errors.Is(err, ledger.ErrConnectionFailed),
		errors.Is(err, ledger.ErrInvalidResponse),
		errors.Is(err, contentstore.ErrUnavailable),
		errors.Is(err, emailcheck.ErrLookupFailed),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return OutcomeUnavailable
	default:
		return OutcomeInternal
	}
}
