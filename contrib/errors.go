/*
errors.go - Centralized error types for the contribution engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Packages wrap these sentinels with additional context; callers branch
  with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Ingestion errors   - unparseable containers, duplicate uploads
  2. Validation errors  - row/field-level, collected rather than thrown
  3. Workflow errors    - permission and state-transition failures

PROPAGATION POLICY:
  Parsing errors are accumulated and returned alongside successful rows;
  partial success is the norm. Only truly exceptional conditions (corrupt
  container, missing entity referenced directly by ID, I/O failure)
  propagate as hard failures.
*/
package contrib

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidFileFormat is returned when an upload's container cannot be
	// parsed at all. Fatal for the whole upload, unlike row-level errors.
	ErrInvalidFileFormat = errors.New("invalid file format")

	// ErrValidation is the root of all row- and field-level failures.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateContent is returned when an upload's checksum matches an
	// already recorded file. Filename differences do not matter.
	ErrDuplicateContent = errors.New("duplicate file content")

	// ErrEntityNotFound is returned when a directly referenced ID has no
	// backing row.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrPermissionDenied is returned when a role/ownership guard fails.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrStateConflict is returned when a workflow transition is attempted
	// from a state that does not permit it, including a lost optimistic
	// version race during allocation processing.
	ErrStateConflict = errors.New("state conflict")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RowError locates a single validation failure inside an uploaded file.
// Row numbering follows spreadsheet conventions: 1-indexed plus the header
// row, so the first data row is row 2. Row 0 marks sheet-level errors.
type RowError struct {
	Sheet   string `json:"sheet"`
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("%s row %d, %s: %s", e.Sheet, e.Row, e.Field, e.Message)
}

// BatchValidationError escalates when every row of an upload failed.
// It carries the full per-row error list for the error report.
type BatchValidationError struct {
	Message string
	Rows    []RowError
}

func (e *BatchValidationError) Error() string {
	return fmt.Sprintf("%s (%d row errors)", e.Message, len(e.Rows))
}

func (e *BatchValidationError) Unwrap() error { return ErrValidation }

// DuplicateContentError points at the previously recorded file.
type DuplicateContentError struct {
	Checksum       string
	ExistingFileID int64
	ExistingName   string
}

func (e *DuplicateContentError) Error() string {
	return fmt.Sprintf("file content already uploaded as %q (raw file %d)",
		e.ExistingName, e.ExistingFileID)
}

func (e *DuplicateContentError) Unwrap() error { return ErrDuplicateContent }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind string
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrEntityNotFound }

// StateConflictError describes a rejected workflow transition.
type StateConflictError struct {
	AllocationID int64
	From         AllocationStatus
	To           AllocationStatus
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("allocation %d: cannot transition %s -> %s",
		e.AllocationID, e.From, e.To)
}

func (e *StateConflictError) Unwrap() error { return ErrStateConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidFileFormat) ||
		errors.Is(err, ErrDuplicateContent)
}

// IsNotFound reports whether the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound)
}
