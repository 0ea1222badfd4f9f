package main

import "fmt"

// exitCodeError carries a specific process exit status. Its message has
// already been printed by the command that returned it.
type exitCodeError struct {
	Code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

func exitCode(code int) error {
	return &exitCodeError{Code: code}
}
