// Package handler maps domain errors onto HTTP responses shared by the
// API and webhook surfaces.
package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/arpeggiohq/arpeggio/internal/domain"
)

// statusFromCode maps domain error codes to HTTP status codes.
func statusFromCode(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized
	case domain.EPAYMENT:
		return http.StatusPaymentRequired
	case domain.ENOTFOUND:
		return http.StatusNotFound
	case domain.ECONFLICT:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ErrorResponse writes a domain error as JSON. Internal details never reach
// the caller; domain.ErrorMessage substitutes a generic message for them.
func ErrorResponse(c echo.Context, err error) error {
	code := domain.ErrorCode(err)
	return c.JSON(statusFromCode(code), ErrorBody{
		Error: domain.ErrorMessage(err),
		Code:  code,
	})
}
