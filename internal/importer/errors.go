package importer

// errors.go defines the pipeline's error taxonomy.
//
// Errors are accumulated and returned to the caller rather than thrown
// past component boundaries:
//   - FileError              fatal to one file only
//   - RowValidationError     fatal to one row only, surfaced in the report
//   - MappingIncompleteError blocks dry-run and execution until fixed
//   - NormalizationError     row skipped with a warning, batch continues
//   - ConflictError          surfaced for review, non-blocking
//   - StructuralWriteFailure whole entity type failed, cascades + rollback
//   - RecordWriteFailure     isolated record failed, batch continues
//
// Only unexpected conditions (connectivity loss mid-batch) propagate as
// plain errors and leave the batch in `processing` for operator follow-up.

import (
	"fmt"

	"github.com/caseflowhq/caseflow/internal/schema"
)

// FileError rejects an entire uploaded file.
type FileError struct {
	FileName string
	Message  string
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %s", e.FileName, e.Message)
}

// RowValidationError marks a single row unusable.
type RowValidationError struct {
	EntityType schema.EntityType
	Row        int
	Field      string
	Message    string
}

func (e *RowValidationError) Error() string {
	return fmt.Sprintf("%s row %d: %s %s", e.EntityType, e.Row, e.Field, e.Message)
}

// MappingIncompleteError reports required destination fields that resolve
// to neither a source column nor a default value.
type MappingIncompleteError struct {
	EntityType schema.EntityType
	Fields     []string
}

func (e *MappingIncompleteError) Error() string {
	return fmt.Sprintf("%s: required fields unresolved: %v", e.EntityType, e.Fields)
}

// NormalizationError reports a value that could not be coerced to its
// canonical type.
type NormalizationError struct {
	Field   string
	Value   string
	Message string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("%s: %s (%q)", e.Field, e.Message, e.Value)
}

// ConflictError reports a natural-key match with materially different data.
type ConflictError struct {
	EntityType schema.EntityType
	Key        string
	Fields     []string // fields whose populated values contradict the store
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q: conflicting values for %v", e.EntityType, e.Key, e.Fields)
}

// StructuralWriteFailure reports that an entire entity type failed during
// execution, invalidating its dependents.
type StructuralWriteFailure struct {
	EntityType schema.EntityType
	Attempted  int
}

func (e *StructuralWriteFailure) Error() string {
	return fmt.Sprintf("%s: all %d records failed", e.EntityType, e.Attempted)
}

// RecordWriteFailure reports one record the store refused.
type RecordWriteFailure struct {
	EntityType schema.EntityType
	Key        string
	Err        error
}

func (e *RecordWriteFailure) Error() string {
	return fmt.Sprintf("%s %q: %v", e.EntityType, e.Key, e.Err)
}

func (e *RecordWriteFailure) Unwrap() error { return e.Err }
