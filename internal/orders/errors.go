package orders

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated   = errors.New("sign in required")
	ErrForbidden         = errors.New("not allowed")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrNotFound          = errors.New("order not found")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrStaleTransition   = errors.New("order status changed concurrently")
	ErrPartialSubmission = errors.New("some orders could not be placed")
)

// PersistenceError wraps a storage failure. Its message is not meant for
// end users.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// persistence wraps err unless it already is one of the domain errors.
func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrNotFound, ErrIllegalTransition, ErrStaleTransition, ErrForbidden} {
		if errors.Is(err, known) {
			return err
		}
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
