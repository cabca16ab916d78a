// Package fault classifies pipeline errors: transient remote faults
// are retried by the task layer, validation faults are rejected at the
// request boundary, conflicts and not-founds map straight to HTTP
// status codes.
package fault

import (
	"errors"
	"fmt"
)

// Transient marks faults worth retrying: connectivity loss to the git
// backend or detection service, and storage integrity conflicts during
// concurrent job updates.
type Transient struct {
	Op  string
	Err error
}

func (t *Transient) Error() string {
	return fmt.Sprintf("%v: %v", t.Op, t.Err)
}

func (t *Transient) Unwrap() error {
	return t.Err
}

// NewTransient wraps err as a retryable fault.
func NewTransient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Transient{Op: op, Err: err}
}

// IsTransient reports whether any error in the chain is retryable.
func IsTransient(err error) bool {
	var t *Transient
	return errors.As(err, &t)
}

// Validation carries a human-readable message plus optional
// machine-readable field errors. Never retried.
type Validation struct {
	Message string
	Fields  map[string]string
}

func (v *Validation) Error() string {
	return v.Message
}

// NewValidation builds a validation fault from a format string.
func NewValidation(format string, args ...interface{}) error {
	return &Validation{Message: fmt.Sprintf(format, args...)}
}

// NewFieldValidation builds a validation fault naming the offending field.
func NewFieldValidation(field, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	return &Validation{Message: msg, Fields: map[string]string{field: msg}}
}

// IsValidation reports whether err is a validation fault, returning it.
func IsValidation(err error) (*Validation, bool) {
	var v *Validation
	ok := errors.As(err, &v)
	return v, ok
}

// Conflict signals a stage or precondition mismatch (HTTP 409).
type Conflict struct {
	Message string
}

func (c *Conflict) Error() string {
	return c.Message
}

// NewConflict builds a conflict fault from a format string.
func NewConflict(format string, args ...interface{}) error {
	return &Conflict{Message: fmt.Sprintf(format, args...)}
}

// IsConflict reports whether err is a conflict fault.
func IsConflict(err error) bool {
	var c *Conflict
	return errors.As(err, &c)
}

// Forbidden signals a destructive operation attempted without its
// confirmation header (HTTP 403).
type Forbidden struct {
	Message string
}

func (f *Forbidden) Error() string {
	return f.Message
}

// NewForbidden builds a forbidden fault from a format string.
func NewForbidden(format string, args ...interface{}) error {
	return &Forbidden{Message: fmt.Sprintf(format, args...)}
}

// IsForbidden reports whether err is a forbidden fault.
func IsForbidden(err error) bool {
	var f *Forbidden
	return errors.As(err, &f)
}

// ErrNotFound signals an unknown entity guid (HTTP 404).
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err signals an unknown entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
