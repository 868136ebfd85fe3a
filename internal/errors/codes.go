package errors

import "net/http"

// Code is a machine-readable error code surfaced in API responses.
type Code string

const (
	CodeValidation          Code = "validation_failed"
	CodeInvalidCredentials  Code = "invalid_credentials"
	CodeMissingToken        Code = "missing_token"
	CodeInvalidToken        Code = "invalid_token"
	CodeForbidden           Code = "forbidden"
	CodeNotFound            Code = "not_found"
	CodeConflict            Code = "conflict"
	CodeMissingEmail        Code = "missing_email"
	CodeRateLimited         Code = "rate_limited"
	CodeUpstreamUnavailable Code = "upstream_unavailable"
	CodeInternal            Code = "internal"
)

// HTTPStatus maps the code to the status written on the wire.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation, CodeMissingEmail:
		return http.StatusUnprocessableEntity
	case CodeInvalidCredentials, CodeMissingToken, CodeInvalidToken:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
