// Package auth gates the status-report path with short-lived tokens.
//
// It makes no per-worker identity claims: any holder of a currently valid
// token may report status.
package auth

import (
	"errors"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator validates an authentication token.
type Validator interface {
	Validate(token string) error
}
