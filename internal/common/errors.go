package common

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages. Handlers map these onto HTTP
// status codes; everything else surfaces as an internal error.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
)

// StageError marks a pipeline stage that could not produce output. It is
// fatal to the job: the orchestrator transitions the job to failed and
// never retries.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Wrap annotates err with a message, preserving the chain.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
