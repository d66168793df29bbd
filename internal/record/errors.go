package record

import "errors"

var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyFinal  = errors.New("record already in a terminal state")
	ErrDuplicateID   = errors.New("record id already exists")
	ErrNilDB         = errors.New("nil db")
	ErrUnknownDriver = errors.New("unknown database driver")
)
