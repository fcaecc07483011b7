/*
errors.go - Error taxonomy for the billing engine

PURPOSE:
  All error types in one place. Callers classify with errors.Is against
  the sentinels; structured errors carry context and unwrap to them.

ERROR CATEGORIES:
  1. Lookup:     ErrNotFound (missing record OR cross-tenant access)
  2. Input:      ErrValidation
  3. State:      ErrInvalidStateTransition, ErrAlreadySettled
  4. Generation: ErrGenerationExhausted (operator alert, not user error)
  5. Delivery:   ErrDispatchFailed (warning only, never fails a call)

HTTP MAPPING (see api/handlers.go):
  NotFound -> 404, Validation -> 400, AlreadySettled / InvalidStateTransition
  -> 409, GenerationExhausted and everything else -> 500.
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound covers absent tenants, invoices, claims and receipts, and
	// any attempt to reach another tenant's record.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidStateTransition is returned when a lifecycle move is not allowed.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrAlreadySettled is returned when settling an invoice that is already PAID.
	// errors.Is(err, ErrInvalidStateTransition) also holds for it.
	ErrAlreadySettled = errors.New("invoice already settled")

	// ErrGenerationExhausted is returned when no unused code was found within
	// the retry bound.
	ErrGenerationExhausted = errors.New("code generation exhausted")

	// ErrDispatchFailed is returned by dispatchers when delivery fails.
	ErrDispatchFailed = errors.New("notification dispatch failed")

	// ErrDuplicate is returned by stores on a unique-constraint violation.
	ErrDuplicate = errors.New("duplicate record")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError names what was looked up.
type NotFoundError struct {
	Kind string // "invoice", "claim", ...
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func notFound(kind, key string) error {
	return &NotFoundError{Kind: kind, Key: key}
}

// TransitionError describes a refused lifecycle move.
type TransitionError struct {
	Entity string // "invoice" or "claim"
	ID     string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	if e.From == string(InvoicePaid) && e.Entity == "invoice" {
		return fmt.Sprintf("invoice %s is already paid", e.ID)
	}
	return fmt.Sprintf("%s %s cannot move from %s to %s", e.Entity, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

// Is lets an already-paid invoice match ErrAlreadySettled while still
// unwrapping to ErrInvalidStateTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrAlreadySettled && e.Entity == "invoice" && e.From == string(InvoicePaid)
}

// GenerationError reports an exhausted code search. Scope names the
// namespace that ran out, e.g. "tenant org-a" for invoice codes.
type GenerationError struct {
	Prefix   string
	Scope    string
	Attempts int
}

func (e *GenerationError) Error() string {
	if e.Scope == "" {
		return fmt.Sprintf("no unused %s code after %d attempts", e.Prefix, e.Attempts)
	}
	return fmt.Sprintf("no unused %s code in %s after %d attempts", e.Prefix, e.Scope, e.Attempts)
}

func (e *GenerationError) Unwrap() error { return ErrGenerationExhausted }

// DispatchError wraps a delivery failure.
type DispatchError struct {
	To  string
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s failed: %v", e.To, e.Err)
}

func (e *DispatchError) Unwrap() []error { return []error{ErrDispatchFailed, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true for state-machine refusals.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidStateTransition) || errors.Is(err, ErrDuplicate)
}

// IsClientError returns true if the error is due to the caller's input or
// the current state of the records, not a server fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || IsNotFound(err) || IsConflict(err)
}
