// Package importer implements the bulk data import pipeline: CSV parsing,
// mapping configuration, normalization, dry-run simulation, and batch
// execution with compensating rollback.
//
// This package has no HTTP dependencies and can be driven by any frontend.
package importer

import (
	"time"

	"github.com/caseflowhq/caseflow/internal/schema"
)

// IssueSeverity classifies a parse or validation issue.
type IssueSeverity string

const (
	SeverityError   IssueSeverity = "error"
	SeverityWarning IssueSeverity = "warning"
)

// ParseIssue is one file- or row-level problem found while parsing.
// Row is 1-indexed over data rows; 0 means the issue is file-level.
type ParseIssue struct {
	Row      int           `json:"row"`
	Column   string        `json:"column,omitempty"`
	Message  string        `json:"message"`
	Severity IssueSeverity `json:"severity"`
}

// RawRow maps source column headers (lowercased) to raw cell values.
type RawRow map[string]string

// ParsedTable holds one uploaded file after parsing. Immutable once built.
type ParsedTable struct {
	EntityType schema.EntityType `json:"entityType"`
	FileName   string            `json:"fileName"`
	Headers    []string          `json:"headers"`
	Rows       []RawRow          `json:"-"`
	RowCount   int               `json:"rowCount"`
	Issues     []ParseIssue      `json:"issues"`
}

// ErrorRows returns the set of row numbers carrying an error-severity issue.
func (t ParsedTable) ErrorRows() map[int]bool {
	out := make(map[int]bool)
	for _, is := range t.Issues {
		if is.Row > 0 && is.Severity == SeverityError {
			out[is.Row] = true
		}
	}
	return out
}

// NormalizationLogEntry records one value transformation for operator
// review. Append-only during a normalization pass; never persisted.
type NormalizationLogEntry struct {
	EntityType schema.EntityType `json:"entityType"`
	Row        int               `json:"row"`
	Field      string            `json:"field"`
	Original   string            `json:"original"`
	Normalized string            `json:"normalized"`
	Rule       string            `json:"rule"`
	Severity   IssueSeverity     `json:"severity"`
}

// Record is one normalized record ready to simulate or write.
type Record struct {
	EntityType schema.EntityType
	Row        int    // 1-indexed data row in the source file
	Key        string // Natural key (external id)
	ParentKey  string // Parent external id, empty for parentless types
	Fields     map[string]string
}

// EntityTally is the per-entity breakdown a dry-run produces.
type EntityTally struct {
	ToCreate  int `json:"toCreate"`
	ToUpdate  int `json:"toUpdate"`
	ToSkip    int `json:"toSkip"`
	Conflicts int `json:"conflicts"`
}

// Conflict describes a natural-key match with materially different data,
// or a dependent record whose parent cannot be resolved.
type Conflict struct {
	EntityType schema.EntityType `json:"entityType"`
	Row        int               `json:"row"`
	Key        string            `json:"key"`
	Message    string            `json:"message"`
}

// BlockingIssue prevents execution until resolved.
type BlockingIssue struct {
	EntityType schema.EntityType `json:"entityType"`
	Row        int               `json:"row,omitempty"`
	Field      string            `json:"field,omitempty"`
	Message    string            `json:"message"`
}

// DryRunResult is the outcome of one simulation pass. Produced fresh on
// every invocation; a new dry-run supersedes the old one.
type DryRunResult struct {
	Success        bool                               `json:"success"`
	Tallies        map[schema.EntityType]*EntityTally `json:"tallies"`
	Conflicts      []Conflict                         `json:"conflicts"`
	BlockingIssues []BlockingIssue                    `json:"blockingIssues"`
	Log            []NormalizationLogEntry            `json:"log,omitempty"`

	// Fingerprint ties this result to the exact (tables, mapping) pair
	// that produced it. Any mapping change invalidates the result.
	Fingerprint string    `json:"fingerprint"`
	RanAt       time.Time `json:"ranAt"`
}

// RecordError is one per-record failure captured during execution.
type RecordError struct {
	EntityType schema.EntityType `json:"entityType"`
	Row        int               `json:"row"`
	Key        string            `json:"key,omitempty"`
	Message    string            `json:"message"`
}

// ImportExecutionResult summarizes one execution attempt. Returned to the
// caller; only the aggregate counters survive on the ImportBatch record.
type ImportExecutionResult struct {
	BatchID           string        `json:"batchId"`
	Success           bool          `json:"success"`
	SuccessfulRecords int           `json:"successfulRecords"`
	FailedRecords     int           `json:"failedRecords"`
	SkippedRecords    int           `json:"skippedRecords"`
	Errors            []RecordError `json:"errors"`
	RollbackPerformed bool          `json:"rollbackPerformed"`
	Duration          time.Duration `json:"-"`
}

// DryRunProgress is invoked between entity types during a dry-run.
// Consumers must not block.
type DryRunProgress func(overallPercent int, message string)

// ExecutionProgress is invoked after each record and at entity-type
// boundaries during execution. Consumers must not block.
type ExecutionProgress func(entityType schema.EntityType, processed, errors int, status string)
