package task

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("invalid submission")
	ErrStorage    = errors.New("storage error")
	ErrNotFound   = errors.New("task not found")
	ErrBusy       = errors.New("too many tasks in flight")
)

func newErrExtNotAllowed(ext string) error {
	if ext == "" {
		ext = "(none)"
	}
	return fmt.Errorf("%w: extension not allowed: %s", ErrValidation, ext)
}
