package repository

import (
	"errors"

	"gorm.io/gorm"
)

// StoreError wraps any failure to read or write the state store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return "failed to " + e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}

	return &StoreError{Op: op, Err: err}
}

func notFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
