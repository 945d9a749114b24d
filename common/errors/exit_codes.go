package errors

import "github.com/pkg/errors"

type ExitCode int

const (
	ConfigFailureExitCode ExitCode = 64

	// Startup failures
	DBInitFailureExitCode          = 70
	RecoveryFailureExitCode        = 71
	EventsInitFailureExitCode      = 72
	AdminServerFailureExitCode     = 73
	NodeSourceSetupFailureExitCode = 74
)

type ExitCodeError struct {
	code ExitCode
	error
}

func NewError(err error, exitCode ExitCode) *ExitCodeError {
	if err == nil {
		return nil
	}
	return &ExitCodeError{exitCode, err}
}

func (e *ExitCodeError) GetExitCode() ExitCode {
	if e == nil {
		return 0
	}
	return e.code
}

func (e *ExitCodeError) Unwrap() error {
	return e.error
}

// ExitCodeOf returns the exit code carried by err, or 1 for any other failure.
func ExitCodeOf(err error) ExitCode {
	if err == nil {
		return 0
	}
	var ec *ExitCodeError
	if errors.As(err, &ec) {
		return ec.GetExitCode()
	}
	return 1
}
