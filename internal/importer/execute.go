package importer

// execute.go orchestrates the real write phase.
//
// One batch is one attempt: a fresh ImportBatch audit record is created
// in `pending`, moves to `processing`, and ends `completed`,
// `completed_with_errors`, or `failed`. There is no resumption of a
// pending or processing batch.
//
// Entity types run in canonical dependency order, records sequentially
// within each type, one remote round-trip per write. A failed record is
// logged and the batch continues, unless the failure is structural (an
// entire entity type produced no successful record), in which case all
// dependent entity types are skipped and the batch rolls back.
//
// Rollback is best-effort and record-scoped: it deletes only records
// this batch created, in reverse dependency order. Updates applied to
// pre-existing records are never reverted, only logged. That asymmetry
// is intentional: the destination store exposes no cross-entity
// transaction boundary to this client.

import (
	"context"
	"fmt"
	"time"

	"github.com/caseflowhq/caseflow/internal/schema"
	"github.com/caseflowhq/caseflow/internal/storage"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// ExecutionParams bundles everything one execution attempt needs.
type ExecutionParams struct {
	OrgID        uuid.UUID
	UserID       uuid.UUID
	SourceSystem string
	Tables       []ParsedTable
	Mapping      *MappingConfig
	Progress     ExecutionProgress
}

// Executor runs import batches against a Store.
type Executor struct {
	store storage.Store
}

// NewExecutor creates an Executor.
func NewExecutor(store storage.Store) *Executor {
	return &Executor{store: store}
}

// Execute runs one import batch end to end and returns its summary.
//
// An incomplete mapping refuses to start and creates no batch record.
// Once the batch exists, expected failures are captured in the result;
// only unexpected conditions (store connectivity loss) return a non-nil
// error, leaving the batch in `processing` for operator follow-up.
func (x *Executor) Execute(ctx context.Context, p ExecutionParams) (*ImportExecutionResult, error) {
	if err := p.Mapping.Validate(p.Tables); err != nil {
		return nil, fmt.Errorf("mapping incomplete: %w", err)
	}
	progress := p.Progress
	if progress == nil {
		progress = func(schema.EntityType, int, int, string) {}
	}

	snapshot, err := p.Mapping.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("snapshot mapping: %w", err)
	}

	ordered := orderTables(p.Tables)
	total := 0
	for _, t := range ordered {
		total += t.RowCount
	}

	batch := &storage.ImportBatch{
		ID:              uuid.New(),
		OrgID:           p.OrgID,
		UserID:          p.UserID,
		SourceSystem:    p.SourceSystem,
		MappingSnapshot: snapshot,
		Status:          storage.BatchPending,
		TotalRecords:    total,
		CreatedAt:       time.Now(),
	}
	if err := x.store.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("create import batch: %w", err)
	}

	started := time.Now()
	batch.Status = storage.BatchProcessing
	batch.StartedAt = &started
	if err := x.store.UpdateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("start import batch: %w", err)
	}

	result := &ImportExecutionResult{BatchID: batch.ID.String()}

	// Keys successfully written this run, per entity; children resolve
	// parents here before falling back to a store lookup.
	written := make(map[schema.EntityType]map[string]bool)
	// Keys already consumed this run, per entity. Spans tables so a key
	// repeated across two files of the same type is still a duplicate.
	consumed := make(map[schema.EntityType]map[string]bool)
	structural := make(map[schema.EntityType]bool)
	cancelled := false

	for _, t := range ordered {
		def, ok := schema.Get(t.EntityType)
		if !ok {
			return nil, fmt.Errorf("unknown entity type: %s", t.EntityType)
		}
		if written[def.Type] == nil {
			written[def.Type] = make(map[string]bool)
			consumed[def.Type] = make(map[string]bool)
		}

		if def.ParentType != "" && structural[def.ParentType] {
			// Failed-by-dependency: the whole entity type is skipped.
			for i := 1; i <= t.RowCount; i++ {
				result.Errors = append(result.Errors, RecordError{
					EntityType: def.Type,
					Row:        i,
					Message:    fmt.Sprintf("skipped: parent entity type %s failed", def.ParentType),
				})
			}
			result.FailedRecords += t.RowCount
			structural[def.Type] = true
			progress(def.Type, 0, t.RowCount, "skipped")
			continue
		}

		succeeded, failed, skipped, conflicts, aborted, err := x.runEntity(ctx, batch, def, t, p, written, consumed[def.Type], progress, result)
		if err != nil {
			// Unexpected store failure: the batch stays `processing`.
			return nil, err
		}
		result.SuccessfulRecords += succeeded
		result.FailedRecords += failed
		result.SkippedRecords += skipped

		// Conflicts are review items over records that do exist in the
		// store, so they neither count toward structural failure nor
		// invalidate dependents.
		attempted := succeeded + failed - conflicts
		if attempted > 0 && succeeded == 0 {
			structural[def.Type] = true
			result.Errors = append(result.Errors, RecordError{
				EntityType: def.Type,
				Message:    (&StructuralWriteFailure{EntityType: def.Type, Attempted: attempted}).Error(),
			})
			progress(def.Type, succeeded, failed, "failed")
		} else {
			progress(def.Type, succeeded, failed, "completed")
		}

		if aborted {
			cancelled = true
			break
		}
	}

	// Rollback policy: any structural failure, or cooperative
	// cancellation mid-batch, undoes everything this batch created.
	rollback := cancelled
	for _, failed := range structural {
		if failed {
			rollback = true
			break
		}
	}

	if rollback {
		if err := x.rollback(ctx, batch.ID); err != nil {
			// Best-effort: record what could not be removed.
			result.Errors = append(result.Errors, RecordError{
				Message: fmt.Sprintf("rollback incomplete: %v", err),
			})
		}
		result.RollbackPerformed = true
		result.SuccessfulRecords = 0
		batch.Status = storage.BatchFailed
	} else if result.FailedRecords > 0 {
		batch.Status = storage.BatchCompletedWithErrors
	} else {
		batch.Status = storage.BatchCompleted
	}

	result.Success = batch.Status == storage.BatchCompleted
	result.Duration = time.Since(started)

	completed := time.Now()
	batch.ProcessedRecords = result.SuccessfulRecords + result.FailedRecords + result.SkippedRecords
	batch.FailedRecords = result.FailedRecords
	batch.RollbackPerformed = result.RollbackPerformed
	batch.CompletedAt = &completed
	if err := x.store.UpdateBatch(ctx, batch); err != nil {
		return result, fmt.Errorf("finalize import batch: %w", err)
	}

	return result, nil
}

// runEntity processes one table. It returns counts plus aborted=true
// when cancellation was observed between records. Row-level failures
// are recorded on result; only unexpected conditions surface as err.
func (x *Executor) runEntity(
	ctx context.Context,
	batch *storage.ImportBatch,
	def schema.EntityDefinition,
	t ParsedTable,
	p ExecutionParams,
	written map[schema.EntityType]map[string]bool,
	seen map[string]bool,
	progress ExecutionProgress,
	result *ImportExecutionResult,
) (succeeded, failed, skipped, conflicts int, aborted bool, err error) {
	nt := normalizeTable(def, p.Mapping.Entity(def.Type), t)

	for _, gap := range nt.gaps {
		result.Errors = append(result.Errors, RecordError{
			EntityType: def.Type,
			Row:        gap.Row,
			Message:    gap.Error(),
		})
		failed++
	}
	result.Errors = append(result.Errors, nt.skipped...)
	skipped += len(nt.skipped)

	keys := make([]string, 0, len(nt.records))
	for _, rec := range nt.records {
		keys = append(keys, rec.Key)
	}
	existing, lookupErr := x.store.ExistingKeys(ctx, p.OrgID, def.Type, keys)
	if lookupErr != nil {
		return succeeded, failed, skipped, conflicts, false, fmt.Errorf("lookup %s keys: %w", def.Type, lookupErr)
	}

	var parentExists map[string]bool
	if def.ParentType != "" {
		parentKeys := make([]string, 0, len(nt.records))
		for _, rec := range nt.records {
			parentKeys = append(parentKeys, rec.ParentKey)
		}
		parentExists, lookupErr = x.store.ExistingKeys(ctx, p.OrgID, def.ParentType, parentKeys)
		if lookupErr != nil {
			return succeeded, failed, skipped, conflicts, false, fmt.Errorf("lookup %s parents: %w", def.Type, lookupErr)
		}
	}

	for _, rec := range nt.records {
		// Cancellation is cooperative: checked between records, never
		// interrupting an in-flight write.
		if ctx.Err() != nil {
			return succeeded, failed, skipped, conflicts, true, nil
		}

		if seen[rec.Key] {
			skipped++
			continue
		}
		seen[rec.Key] = true

		if def.ParentType != "" &&
			!written[def.ParentType][rec.ParentKey] && !parentExists[rec.ParentKey] {
			result.Errors = append(result.Errors, RecordError{
				EntityType: def.Type,
				Row:        rec.Row,
				Key:        rec.Key,
				Message:    fmt.Sprintf("parent %s %q not found", def.ParentType, rec.ParentKey),
			})
			failed++
			progress(def.Type, succeeded, failed, "processing")
			continue
		}

		srec := storage.Record{
			OrgID:      p.OrgID,
			EntityType: def.Type,
			ExternalID: rec.Key,
			BatchID:    batch.ID,
			Fields:     rec.Fields,
		}

		if !existing[rec.Key] {
			if werr := x.store.Insert(ctx, srec); werr != nil {
				result.Errors = append(result.Errors, RecordError{
					EntityType: def.Type,
					Row:        rec.Row,
					Key:        rec.Key,
					Message:    (&RecordWriteFailure{EntityType: def.Type, Key: rec.Key, Err: werr}).Error(),
				})
				failed++
			} else {
				succeeded++
				written[def.Type][rec.Key] = true
			}
			progress(def.Type, succeeded, failed, "processing")
			continue
		}

		stored, ferr := x.store.FetchFields(ctx, p.OrgID, def.Type, rec.Key)
		if ferr != nil {
			return succeeded, failed, skipped, conflicts, false, fmt.Errorf("fetch %s %q: %w", def.Type, rec.Key, ferr)
		}

		switch d, fields := classify(stored, rec.Fields); d {
		case decideSkip:
			skipped++
			written[def.Type][rec.Key] = true

		case decideConflict:
			// Surfaced for manual review; the record is left untouched.
			result.Errors = append(result.Errors, RecordError{
				EntityType: def.Type,
				Row:        rec.Row,
				Key:        rec.Key,
				Message:    (&ConflictError{EntityType: def.Type, Key: rec.Key, Fields: fields}).Error(),
			})
			failed++
			conflicts++

		default: // decideUpdate
			if werr := x.store.Update(ctx, srec); werr != nil {
				result.Errors = append(result.Errors, RecordError{
					EntityType: def.Type,
					Row:        rec.Row,
					Key:        rec.Key,
					Message:    (&RecordWriteFailure{EntityType: def.Type, Key: rec.Key, Err: werr}).Error(),
				})
				failed++
			} else {
				succeeded++
				written[def.Type][rec.Key] = true
			}
		}
		progress(def.Type, succeeded, failed, "processing")
	}

	return succeeded, failed, skipped, conflicts, false, nil
}

// rollback deletes every record this batch created, in reverse
// dependency order so children go before their parents.
func (x *Executor) rollback(ctx context.Context, batchID uuid.UUID) error {
	var errs *multierror.Error
	for i := len(schema.ImportOrder) - 1; i >= 0; i-- {
		entity := schema.ImportOrder[i]
		if _, err := x.store.DeleteByBatch(ctx, entity, batchID); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("rollback %s: %w", entity, err))
		}
	}
	return errs.ErrorOrNil()
}
