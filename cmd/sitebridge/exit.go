package main

import "fmt"

// Exit codes.
const (
	exitToolFailed    = 2
	exitHumanRequired = 3
	exitConfig        = 4
	exitLoad          = 5
)

// ExitError is an error that carries a specific process exit code.
// RunE returns it to signal the desired exit code to main.
type ExitError struct {
	Message string
	Code    int
}

func (e *ExitError) Error() string {
	return e.Message
}

func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}
