package challenge

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

type Solver interface {
	Solve(ctx context.Context, c *Context) (string, error)
}

type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNetwork    ErrorKind = "network"
	KindAPI        ErrorKind = "api"
	KindTimeout    ErrorKind = "timeout"
)

type SolverError struct {
	Kind ErrorKind
	Code string
	Err  error
}

func (e *SolverError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("solver %s error %s: %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("solver %s error: %v", e.Kind, e.Err)
}

func (e *SolverError) Unwrap() error {
	return e.Err
}

var fatalCodes = []string{
	"ERROR_ZERO_BALANCE",
	"ERROR_KEY_DOES_NOT_EXIST",
	"ERROR_WRONG_USER_KEY",
	"ERROR_WRONG_GOOGLEKEY",
	"ERROR_IP_NOT_ALLOWED",
	"ERROR_IP_BANNED",
	"ERROR_CAPTCHA_UNSOLVABLE",
}

// Unsolvable reports whether asking the service again cannot help: the
// request was rejected, the account is unusable, or the service gave up.
func Unsolvable(err error) bool {
	var se *SolverError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Kind {
	case KindValidation:
		return true
	case KindAPI:
		return slices.Contains(fatalCodes, se.Code)
	default:
		return false
	}
}
