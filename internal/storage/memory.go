package storage

// memory.go is an in-memory Store used by engine tests and by the
// dry-run's shadow view. Semantics mirror the Postgres implementation:
// unique (org, entity, external id), batch-tagged inserts, batch-scoped
// deletes.

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/caseflowhq/caseflow/internal/schema"
	"github.com/google/uuid"
)

type memKey struct {
	org    uuid.UUID
	entity schema.EntityType
	ext    string
}

type memRecord struct {
	fields  map[string]string
	batchID uuid.UUID // batch that created the record; zero for pre-existing
}

// MemoryStore is a threadsafe in-memory Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[memKey]*memRecord
	batches map[uuid.UUID]*ImportBatch

	// FailWrites, when set, makes Insert/Update fail for the given
	// entity type. Tests use it to provoke structural failures.
	FailWrites map[schema.EntityType]error
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[memKey]*memRecord),
		batches: make(map[uuid.UUID]*ImportBatch),
	}
}

// Seed inserts a pre-existing record that no batch owns.
func (m *MemoryStore) Seed(org uuid.UUID, entity schema.EntityType, externalID string, fields map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	m.records[memKey{org, entity, externalID}] = &memRecord{fields: cp}
}

func (m *MemoryStore) ExistingKeys(ctx context.Context, org uuid.UUID, entity schema.EntityType, keys []string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		if _, ok := m.records[memKey{org, entity, k}]; ok {
			out[k] = true
		}
	}
	return out, nil
}

func (m *MemoryStore) FetchFields(ctx context.Context, org uuid.UUID, entity schema.EntityType, externalID string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[memKey{org, entity, externalID}]
	if !ok {
		return nil, nil
	}
	cp := make(map[string]string, len(rec.fields))
	for k, v := range rec.fields {
		cp[k] = v
	}
	return cp, nil
}

func (m *MemoryStore) Insert(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailWrites[rec.EntityType]; err != nil {
		return err
	}
	key := memKey{rec.OrgID, rec.EntityType, rec.ExternalID}
	if _, exists := m.records[key]; exists {
		return fmt.Errorf("duplicate key %q", rec.ExternalID)
	}
	cp := make(map[string]string, len(rec.Fields))
	for k, v := range rec.Fields {
		cp[k] = v
	}
	m.records[key] = &memRecord{fields: cp, batchID: rec.BatchID}
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailWrites[rec.EntityType]; err != nil {
		return err
	}
	key := memKey{rec.OrgID, rec.EntityType, rec.ExternalID}
	existing, ok := m.records[key]
	if !ok {
		return fmt.Errorf("record %q not found", rec.ExternalID)
	}
	for k, v := range rec.Fields {
		existing.fields[k] = v
	}
	return nil
}

func (m *MemoryStore) DeleteByBatch(ctx context.Context, entity schema.EntityType, batch uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key, rec := range m.records {
		if key.entity == entity && rec.batchID == batch {
			delete(m.records, key)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountRecords(ctx context.Context, org uuid.UUID, entity schema.EntityType) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for key := range m.records {
		if key.org == org && key.entity == entity {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CreateBatch(ctx context.Context, b *ImportBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	cp := *b
	m.batches[b.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateBatch(ctx context.Context, b *ImportBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[b.ID]; !ok {
		return fmt.Errorf("batch %s not found", b.ID)
	}
	cp := *b
	m.batches[b.ID] = &cp
	return nil
}

func (m *MemoryStore) GetBatch(ctx context.Context, id uuid.UUID) (*ImportBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, fmt.Errorf("batch %s not found", id)
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) ListBatches(ctx context.Context, org uuid.UUID) ([]*ImportBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ImportBatch
	for _, b := range m.batches {
		if b.OrgID == org {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
