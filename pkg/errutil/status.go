package errutil

import "net/http"

// CoreStatus classifies a domain failure independently of the transport.
type CoreStatus string

const (
	StatusBadRequest       CoreStatus = "bad_request"
	StatusValidationFailed CoreStatus = "validation_failed"
	StatusUnauthorized     CoreStatus = "unauthorized"
	StatusForbidden        CoreStatus = "forbidden"
	StatusNotFound         CoreStatus = "not_found"
	StatusConflict         CoreStatus = "conflict"
	StatusInternal         CoreStatus = "internal"
	StatusNotImplemented   CoreStatus = "not_implemented"
)

// HTTPStatus maps the CoreStatus to an HTTP status code.
func (s CoreStatus) HTTPStatus() int {
	switch s {
	case StatusBadRequest:
		return http.StatusBadRequest
	case StatusValidationFailed:
		return http.StatusUnprocessableEntity
	case StatusUnauthorized:
		return http.StatusUnauthorized
	case StatusForbidden:
		return http.StatusForbidden
	case StatusNotFound:
		return http.StatusNotFound
	case StatusConflict:
		return http.StatusConflict
	case StatusNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
