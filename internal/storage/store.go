// Package storage abstracts the destination store the import pipeline
// writes to. The hosted database exposes no cross-entity transaction
// boundary to this client, so the interface is record-at-a-time; the
// execution engine's rollback is an explicit compensating action built
// on DeleteByBatch.
package storage

import (
	"context"
	"time"

	"github.com/caseflowhq/caseflow/internal/schema"
	"github.com/google/uuid"
)

// Record is one entity record at the storage boundary. Fields hold
// canonical string forms keyed by destination field name.
type Record struct {
	OrgID      uuid.UUID
	EntityType schema.EntityType
	ExternalID string
	BatchID    uuid.UUID
	Fields     map[string]string
}

// BatchStatus is the ImportBatch state machine:
// pending -> processing -> completed | completed_with_errors | failed.
type BatchStatus string

const (
	BatchPending             BatchStatus = "pending"
	BatchProcessing          BatchStatus = "processing"
	BatchCompleted           BatchStatus = "completed"
	BatchCompletedWithErrors BatchStatus = "completed_with_errors"
	BatchFailed              BatchStatus = "failed"
)

// Terminal reports whether the status is final.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchCompleted, BatchCompletedWithErrors, BatchFailed:
		return true
	}
	return false
}

// ImportBatch is the durable audit record of one execution attempt.
type ImportBatch struct {
	ID                uuid.UUID   `json:"id"`
	OrgID             uuid.UUID   `json:"orgId"`
	UserID            uuid.UUID   `json:"userId"`
	SourceSystem      string      `json:"sourceSystem"`
	MappingSnapshot   []byte      `json:"-"`
	Status            BatchStatus `json:"status"`
	TotalRecords      int         `json:"totalRecords"`
	ProcessedRecords  int         `json:"processedRecords"`
	FailedRecords     int         `json:"failedRecords"`
	RollbackPerformed bool        `json:"rollbackPerformed"`
	CreatedAt         time.Time   `json:"createdAt"`
	StartedAt         *time.Time  `json:"startedAt,omitempty"`
	CompletedAt       *time.Time  `json:"completedAt,omitempty"`
}

// Reader is the read-only subset the dry-run engine uses. Dry-run
// performs only read round-trips and never mutates persisted state.
type Reader interface {
	// ExistingKeys reports which of the given external ids already exist
	// for the organization and entity type. Lookups are batched.
	ExistingKeys(ctx context.Context, org uuid.UUID, entity schema.EntityType, keys []string) (map[string]bool, error)

	// FetchFields returns the stored canonical fields for one record,
	// or nil when the record does not exist.
	FetchFields(ctx context.Context, org uuid.UUID, entity schema.EntityType, externalID string) (map[string]string, error)
}

// Store is the full read-write surface the execution engine uses.
type Store interface {
	Reader

	// Insert writes a new record tagged with its batch id. One remote
	// round-trip per record.
	Insert(ctx context.Context, rec Record) error

	// Update overwrites the fields of an existing record. Updates are
	// never reverted by rollback.
	Update(ctx context.Context, rec Record) error

	// DeleteByBatch removes every record of one entity type that the
	// given batch created, returning the count removed.
	DeleteByBatch(ctx context.Context, entity schema.EntityType, batch uuid.UUID) (int64, error)

	// CountRecords returns the number of stored records for an entity.
	CountRecords(ctx context.Context, org uuid.UUID, entity schema.EntityType) (int64, error)

	CreateBatch(ctx context.Context, b *ImportBatch) error
	UpdateBatch(ctx context.Context, b *ImportBatch) error
	GetBatch(ctx context.Context, id uuid.UUID) (*ImportBatch, error)
	ListBatches(ctx context.Context, org uuid.UUID) ([]*ImportBatch, error)
}
