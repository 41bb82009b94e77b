package api

import (
	"encoding/json"
	"net/http"

	"github.com/bitfsorg/certvault-go/certificate"
)

// Error is the JSON error payload. Code is a certificate.Outcome or one of
// the request-level codes below.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Request-level error codes.
const (
	CodeBadRequest  = "bad-request"
	CodeTooLarge    = "too-large"
	CodeRateLimited = "rate-limited"
)

// statusFor maps an outcome to an HTTP status.
func statusFor(o certificate.Outcome) int {
	switch o {
	case certificate.OutcomeNotFound:
		return http.StatusNotFound
	case certificate.OutcomeInactive:
		return http.StatusGone
	case certificate.OutcomeUnauthorized:
		return http.StatusForbidden
	case certificate.OutcomeDuplicate, certificate.OutcomeAddressMismatch:
		return http.StatusConflict
	case certificate.OutcomeInvalidArgument:
		return http.StatusBadRequest
	case certificate.OutcomeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, Error{Code: code, Message: msg})
}
