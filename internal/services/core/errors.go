// Copyright (c) The localcloud Authors
// SPDX-License-Identifier: MPL-2.0

// Package core carries the pieces shared by every simulated service:
// AWS query-protocol request parsing, XML response rendering and the
// error type that maps onto AWS API error codes.
package core

import (
	"fmt"
	"net/http"
)

// APIError is an error that renders as an AWS API error response. Code
// is the AWS error code the SDKs match on, so its exact spelling is
// part of the simulated contract.
type APIError struct {
	Code    string
	Message string
	Status  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError returns an APIError with HTTP status 400, which is what the
// query protocol uses for almost every client error.
func NewError(code, format string, args ...any) *APIError {
	return &APIError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Status:  http.StatusBadRequest,
	}
}

// NewNotFoundError returns an APIError with HTTP status 404.
func NewNotFoundError(code, format string, args ...any) *APIError {
	return &APIError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Status:  http.StatusNotFound,
	}
}

// ValidationError is the generic parameter validation failure.
func ValidationError(format string, args ...any) *APIError {
	return NewError("ValidationError", format, args...)
}
