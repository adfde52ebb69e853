package engine

import "fmt"

// ForbiddenError covers secret mismatches and missing secrets. The message
// is deliberately uniform so callers cannot tell a wrong secret apart from
// an entity that never had one.
type ForbiddenError struct {
	Entity string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("not authorized to modify this %s", e.Entity)
}

// ConflictError reports an illegal state transition without echoing the
// current state.
type ConflictError struct {
	Op string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s not possible in the bounty's current state", e.Op)
}

// ValidationError carries field-level detail; it is safe to expose.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}
