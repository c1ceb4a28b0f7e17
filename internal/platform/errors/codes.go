// Package errors provides structured error handling for the gate service.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Ticket verification errors
	CodeTicketSignatureInvalid Code = "TICKET_SIGNATURE_INVALID"
	CodeTicketExpired          Code = "TICKET_EXPIRED"
	CodeTicketIssuerMismatch   Code = "TICKET_ISSUER_MISMATCH"
	CodeTicketAudienceMismatch Code = "TICKET_AUDIENCE_MISMATCH"
	CodeTicketMalformed        Code = "TICKET_MALFORMED"
	CodeTicketChannelMismatch  Code = "TICKET_CHANNEL_MISMATCH"

	// Configuration errors
	CodeGateNotConfigured Code = "GATE_NOT_CONFIGURED"
	CodeAdminDisabled     Code = "ADMIN_DISABLED"

	// Admin editor errors
	CodeAdminUnauthorized     Code = "ADMIN_UNAUTHORIZED"
	CodeAdminInvalidOperation Code = "ADMIN_INVALID_OPERATION"
	CodeAdminInvalidModel     Code = "ADMIN_INVALID_MODEL"

	// Allowlist source errors
	CodeAllowlistSourceUnavailable Code = "ALLOWLIST_SOURCE_UNAVAILABLE"
	CodeAllowlistParse             Code = "ALLOWLIST_PARSE"

	// Request errors
	CodeRequestInvalid Code = "REQUEST_INVALID"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Unauthorized - ticket verification and admin credential failures.
	// Ticket failures share one status so responses do not reveal which
	// check rejected the token.
	case CodeTicketSignatureInvalid,
		CodeTicketExpired,
		CodeTicketIssuerMismatch,
		CodeTicketAudienceMismatch,
		CodeTicketMalformed,
		CodeTicketChannelMismatch,
		CodeAdminUnauthorized:
		return http.StatusUnauthorized

	// Service unavailable - the gate is missing required configuration.
	case CodeGateNotConfigured,
		CodeAdminDisabled:
		return http.StatusServiceUnavailable

	// Bad request - malformed input.
	case CodeAdminInvalidOperation,
		CodeAdminInvalidModel,
		CodeRequestInvalid:
		return http.StatusBadRequest

	// Bad gateway - upstream policy source failures. These are absorbed
	// before the service boundary in normal operation.
	case CodeAllowlistSourceUnavailable,
		CodeAllowlistParse:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
