package storage

// postgres.go is the pgx-backed Store. Entity table SQL is generated
// from the schema definitions: destination field names are compile-time
// constants, never user input, so interpolating them as identifiers is
// safe. Values travel as canonical strings with an explicit cast per
// field type.

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/caseflowhq/caseflow/internal/schema"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaDDL string

// DBTX is the database interface. Satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore creates a Store backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool}
}

// EnsureSchema creates the import tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// castFor returns the SQL cast suffix for a field type.
func castFor(ft schema.FieldType) string {
	switch ft {
	case schema.FieldDate:
		return "::date"
	case schema.FieldNumeric:
		return "::numeric"
	case schema.FieldBool:
		return "::boolean"
	default:
		return ""
	}
}

// fieldArg converts a canonical string to the insert parameter; empty
// values become NULL.
func fieldArg(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func (s *PostgresStore) ExistingKeys(ctx context.Context, org uuid.UUID, entity schema.EntityType, keys []string) (map[string]bool, error) {
	def, ok := schema.Get(entity)
	if !ok {
		return nil, fmt.Errorf("unknown entity type: %s", entity)
	}
	out := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	q := fmt.Sprintf("SELECT external_id FROM %s WHERE org_id = $1 AND external_id = ANY($2)", def.Table)
	rows, err := s.db.Query(ctx, q, org, keys)
	if err != nil {
		return nil, fmt.Errorf("lookup keys for %s: %w", entity, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		out[key] = true
	}
	return out, rows.Err()
}

func (s *PostgresStore) FetchFields(ctx context.Context, org uuid.UUID, entity schema.EntityType, externalID string) (map[string]string, error) {
	def, ok := schema.Get(entity)
	if !ok {
		return nil, fmt.Errorf("unknown entity type: %s", entity)
	}

	cols := make([]string, len(def.Fields))
	for i, f := range def.Fields {
		cols[i] = f.Name + "::text"
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE org_id = $1 AND external_id = $2",
		strings.Join(cols, ", "), def.Table)

	vals := make([]*string, len(def.Fields))
	dest := make([]any, len(def.Fields))
	for i := range vals {
		dest[i] = &vals[i]
	}

	err := s.db.QueryRow(ctx, q, org, externalID).Scan(dest...)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s %q: %w", entity, externalID, err)
	}

	fields := make(map[string]string, len(def.Fields))
	for i, f := range def.Fields {
		if vals[i] != nil && *vals[i] != "" {
			fields[f.Name] = *vals[i]
		}
	}
	return fields, nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	def, ok := schema.Get(rec.EntityType)
	if !ok {
		return fmt.Errorf("unknown entity type: %s", rec.EntityType)
	}

	cols := []string{"org_id", "external_id", "import_batch_id"}
	placeholders := []string{"$1", "$2", "$3"}
	args := []any{rec.OrgID, rec.ExternalID, rec.BatchID}

	n := 4
	for _, f := range def.Fields {
		if f.Name == def.NaturalKey {
			continue // already bound as external_id
		}
		cols = append(cols, f.Name)
		placeholders = append(placeholders, fmt.Sprintf("$%d%s", n, castFor(f.Type)))
		args = append(args, fieldArg(rec.Fields[f.Name]))
		n++
	}

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		def.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	if _, err := s.db.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("insert %s %q: %w", rec.EntityType, rec.ExternalID, err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, rec Record) error {
	def, ok := schema.Get(rec.EntityType)
	if !ok {
		return fmt.Errorf("unknown entity type: %s", rec.EntityType)
	}

	var sets []string
	args := []any{rec.OrgID, rec.ExternalID}
	n := 3
	for _, f := range def.Fields {
		if f.Name == def.NaturalKey {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = $%d%s", f.Name, n, castFor(f.Type)))
		args = append(args, fieldArg(rec.Fields[f.Name]))
		n++
	}
	sets = append(sets, "updated_at = now()")

	q := fmt.Sprintf("UPDATE %s SET %s WHERE org_id = $1 AND external_id = $2",
		def.Table, strings.Join(sets, ", "))

	tag, err := s.db.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update %s %q: %w", rec.EntityType, rec.ExternalID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s %q: record not found", rec.EntityType, rec.ExternalID)
	}
	return nil
}

func (s *PostgresStore) DeleteByBatch(ctx context.Context, entity schema.EntityType, batch uuid.UUID) (int64, error) {
	def, ok := schema.Get(entity)
	if !ok {
		return 0, fmt.Errorf("unknown entity type: %s", entity)
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE import_batch_id = $1", def.Table)
	tag, err := s.db.Exec(ctx, q, batch)
	if err != nil {
		return 0, fmt.Errorf("delete %s by batch: %w", entity, err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) CountRecords(ctx context.Context, org uuid.UUID, entity schema.EntityType) (int64, error) {
	def, ok := schema.Get(entity)
	if !ok {
		return 0, fmt.Errorf("unknown entity type: %s", entity)
	}
	var n int64
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE org_id = $1", def.Table)
	if err := s.db.QueryRow(ctx, q, org).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", entity, err)
	}
	return n, nil
}

const insertBatchSQL = `
INSERT INTO import_batches
    (id, org_id, user_id, source_system, mapping_snapshot, status,
     total_records, processed_records, failed_records, rollback_performed, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
`

func (s *PostgresStore) CreateBatch(ctx context.Context, b *ImportBatch) error {
	_, err := s.db.Exec(ctx, insertBatchSQL,
		b.ID, b.OrgID, b.UserID, b.SourceSystem, b.MappingSnapshot, b.Status,
		b.TotalRecords, b.ProcessedRecords, b.FailedRecords, b.RollbackPerformed)
	if err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

const updateBatchSQL = `
UPDATE import_batches
SET status = $2,
    total_records = $3,
    processed_records = $4,
    failed_records = $5,
    rollback_performed = $6,
    started_at = $7,
    completed_at = $8
WHERE id = $1
`

func (s *PostgresStore) UpdateBatch(ctx context.Context, b *ImportBatch) error {
	_, err := s.db.Exec(ctx, updateBatchSQL,
		b.ID, b.Status, b.TotalRecords, b.ProcessedRecords, b.FailedRecords,
		b.RollbackPerformed, b.StartedAt, b.CompletedAt)
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	return nil
}

const getBatchSQL = `
SELECT id, org_id, user_id, source_system, mapping_snapshot, status,
       total_records, processed_records, failed_records, rollback_performed,
       created_at, started_at, completed_at
FROM import_batches
WHERE id = $1
`

func (s *PostgresStore) GetBatch(ctx context.Context, id uuid.UUID) (*ImportBatch, error) {
	b := &ImportBatch{}
	err := s.db.QueryRow(ctx, getBatchSQL, id).Scan(
		&b.ID, &b.OrgID, &b.UserID, &b.SourceSystem, &b.MappingSnapshot, &b.Status,
		&b.TotalRecords, &b.ProcessedRecords, &b.FailedRecords, &b.RollbackPerformed,
		&b.CreatedAt, &b.StartedAt, &b.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("get batch %s: %w", id, err)
	}
	return b, nil
}

const listBatchesSQL = `
SELECT id, org_id, user_id, source_system, mapping_snapshot, status,
       total_records, processed_records, failed_records, rollback_performed,
       created_at, started_at, completed_at
FROM import_batches
WHERE org_id = $1
ORDER BY created_at DESC
LIMIT 100
`

func (s *PostgresStore) ListBatches(ctx context.Context, org uuid.UUID) ([]*ImportBatch, error) {
	rows, err := s.db.Query(ctx, listBatchesSQL, org)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []*ImportBatch
	for rows.Next() {
		b := &ImportBatch{}
		if err := rows.Scan(
			&b.ID, &b.OrgID, &b.UserID, &b.SourceSystem, &b.MappingSnapshot, &b.Status,
			&b.TotalRecords, &b.ProcessedRecords, &b.FailedRecords, &b.RollbackPerformed,
			&b.CreatedAt, &b.StartedAt, &b.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
