package billing

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Sentinel error classes. Concrete errors unwrap to one of these.
var (
	ErrValidation = errors.New("billing: validation failed")
	ErrConflict   = errors.New("billing: conflict")
	ErrNotFound   = errors.New("billing: not found")
	ErrInvariant  = errors.New("billing: invariant violation")
)

var (
	// ErrDuplicateInvoice is returned when (unit, concept, period) is taken.
	ErrDuplicateInvoice = &ConflictError{Reason: "invoice already exists for unit, concept and period"}
	// ErrPaymentReversed is returned when reversing a reversed payment.
	ErrPaymentReversed = &ConflictError{Reason: "payment already reversed"}
)

// ValidationError carries per-field messages.
type ValidationError struct {
	Fields map[string]string
}

func newValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

func invalid(field, msg string) *ValidationError {
	v := newValidationError()
	v.Add(field, msg)
	return v
}

// Add records msg for field, keeping the first message per field.
func (e *ValidationError) Add(field, msg string) {
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) orNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "billing: validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// FieldErrors exposes the field map to the HTTP layer.
func (e *ValidationError) FieldErrors() map[string]string { return e.Fields }

// HTTPStatus implements httpx.StatusCoder.
func (e *ValidationError) HTTPStatus() int { return http.StatusBadRequest }

// ConflictError reports a state conflict such as a double reversal.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string   { return "billing: conflict: " + e.Reason }
func (e *ConflictError) Unwrap() error   { return ErrConflict }
func (e *ConflictError) HTTPStatus() int { return http.StatusConflict }

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string
	Key    string
}

func notFound(entity string, key any) *NotFoundError {
	return &NotFoundError{Entity: entity, Key: fmt.Sprint(key)}
}

func (e *NotFoundError) Error() string   { return fmt.Sprintf("billing: %s %s not found", e.Entity, e.Key) }
func (e *NotFoundError) Unwrap() error   { return ErrNotFound }
func (e *NotFoundError) HTTPStatus() int { return http.StatusNotFound }

// InvariantError aborts the enclosing transaction.
type InvariantError struct {
	Detail string
}

func invariantf(format string, args ...any) *InvariantError {
	return &InvariantError{Detail: fmt.Sprintf(format, args...)}
}

func (e *InvariantError) Error() string   { return "billing: invariant violation: " + e.Detail }
func (e *InvariantError) Unwrap() error   { return ErrInvariant }
func (e *InvariantError) HTTPStatus() int { return http.StatusInternalServerError }

// ItemError is one failed item of a best-effort batch.
type ItemError struct {
	UnitID    int64  `json:"unit_id,omitempty"`
	ConceptID int64  `json:"concept_id,omitempty"`
	InvoiceID int64  `json:"invoice_id,omitempty"`
	Message   string `json:"message"`
}

// PartialBatchError wraps the failed items of a batch that otherwise committed.
type PartialBatchError struct {
	Items []ItemError
}

func (e *PartialBatchError) Error() string {
	return fmt.Sprintf("billing: %d item(s) failed", len(e.Items))
}
