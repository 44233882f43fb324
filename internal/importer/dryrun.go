package importer

// dryrun.go replays the entire import against the destination store in
// read-only fashion. Entity types run in the same dependency order
// execution uses, and a child's "create" decision consults an in-memory
// shadow set of parents simulated as created in this same run, so the
// prediction stays faithful without mutating anything.
//
// Running a dry-run twice on unchanged input yields identical results.

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/caseflowhq/caseflow/internal/schema"
	"github.com/caseflowhq/caseflow/internal/storage"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// decision is the predicted outcome for one record.
type decision int

const (
	decideCreate decision = iota
	decideUpdate
	decideSkip
	decideConflict
)

// classify compares incoming canonical fields against stored ones.
//   - no stored record            -> create
//   - all populated fields equal  -> skip (exact duplicate)
//   - incoming only fills blanks  -> update
//   - populated values contradict -> conflict, listing the fields
func classify(existing, incoming map[string]string) (decision, []string) {
	if existing == nil {
		return decideCreate, nil
	}

	var conflicting []string
	changed := false
	for field, inc := range incoming {
		cur, ok := existing[field]
		switch {
		case !ok || cur == "":
			changed = true
		case cur != inc:
			conflicting = append(conflicting, field)
		}
	}
	sort.Strings(conflicting)

	if len(conflicting) > 0 {
		return decideConflict, conflicting
	}
	if changed {
		return decideUpdate, nil
	}
	return decideSkip, nil
}

// DryRunEngine simulates an import without persisted mutation.
type DryRunEngine struct {
	store storage.Reader
	org   uuid.UUID
}

// NewDryRunEngine creates a dry-run engine scoped to one organization.
func NewDryRunEngine(store storage.Reader, org uuid.UUID) *DryRunEngine {
	return &DryRunEngine{store: store, org: org}
}

// Run simulates the full multi-entity import. It fails fast with
// Success=false on an incomplete mapping; row-level required-field gaps
// are surfaced as blocking issues but counting still completes so the
// operator sees the whole picture. Individual conflicts never fail the
// run.
func (e *DryRunEngine) Run(ctx context.Context, tables []ParsedTable, cfg *MappingConfig, progress DryRunProgress) (*DryRunResult, error) {
	if progress == nil {
		progress = func(int, string) {}
	}

	result := &DryRunResult{
		Tallies:     make(map[schema.EntityType]*EntityTally),
		Fingerprint: cfg.Fingerprint(tables),
		RanAt:       time.Now(),
	}
	for _, t := range tables {
		if result.Tallies[t.EntityType] == nil {
			result.Tallies[t.EntityType] = &EntityTally{}
		}
	}

	if err := cfg.Validate(tables); err != nil {
		var merr *multierror.Error
		if ok := asMultierror(err, &merr); ok {
			for _, e := range merr.Errors {
				if mie, ok := e.(*MappingIncompleteError); ok {
					result.BlockingIssues = append(result.BlockingIssues, BlockingIssue{
						EntityType: mie.EntityType,
						Message:    mie.Error(),
					})
					continue
				}
				result.BlockingIssues = append(result.BlockingIssues, BlockingIssue{Message: e.Error()})
			}
		} else {
			result.BlockingIssues = append(result.BlockingIssues, BlockingIssue{Message: err.Error()})
		}
		progress(100, "mapping configuration incomplete")
		return result, nil
	}

	ordered := orderTables(tables)

	// Keys present after the simulated run, per entity: stored keys plus
	// keys this run would create. Children resolve parents against this.
	shadow := make(map[schema.EntityType]map[string]bool)

	// Keys already consumed this run, per entity. Spans tables so a key
	// repeated across two files of the same type still counts as a
	// duplicate.
	seen := make(map[schema.EntityType]map[string]bool)

	for i, t := range ordered {
		def, ok := schema.Get(t.EntityType)
		if !ok {
			return nil, fmt.Errorf("unknown entity type: %s", t.EntityType)
		}
		tally := result.Tallies[t.EntityType]
		if shadow[t.EntityType] == nil {
			shadow[t.EntityType] = make(map[string]bool)
			seen[t.EntityType] = make(map[string]bool)
		}

		progress(i*100/len(ordered), fmt.Sprintf("simulating %s", def.Label))

		nt := normalizeTable(def, cfg.Entity(def.Type), t)
		result.Log = append(result.Log, nt.log...)

		for _, gap := range nt.gaps {
			result.BlockingIssues = append(result.BlockingIssues, BlockingIssue{
				EntityType: def.Type,
				Row:        gap.Row,
				Field:      gap.Field,
				Message:    gap.Message,
			})
		}
		tally.ToSkip += len(nt.skipped)

		keys := make([]string, 0, len(nt.records))
		for _, rec := range nt.records {
			keys = append(keys, rec.Key)
		}
		existing, err := e.store.ExistingKeys(ctx, e.org, def.Type, keys)
		if err != nil {
			return nil, fmt.Errorf("dry-run lookup %s: %w", def.Type, err)
		}

		var parentExists map[string]bool
		if def.ParentType != "" {
			parentKeys := make([]string, 0, len(nt.records))
			for _, rec := range nt.records {
				parentKeys = append(parentKeys, rec.ParentKey)
			}
			parentExists, err = e.store.ExistingKeys(ctx, e.org, def.ParentType, parentKeys)
			if err != nil {
				return nil, fmt.Errorf("dry-run parent lookup %s: %w", def.ParentType, err)
			}
		}

		for _, rec := range nt.records {
			// Duplicate keys: first occurrence wins.
			if seen[def.Type][rec.Key] {
				tally.ToSkip++
				continue
			}
			seen[def.Type][rec.Key] = true

			if def.ParentType != "" {
				if !parentExists[rec.ParentKey] && !shadow[def.ParentType][rec.ParentKey] {
					tally.Conflicts++
					result.Conflicts = append(result.Conflicts, Conflict{
						EntityType: def.Type,
						Row:        rec.Row,
						Key:        rec.Key,
						Message:    fmt.Sprintf("parent %s %q not found", def.ParentType, rec.ParentKey),
					})
					continue
				}
			}

			if !existing[rec.Key] {
				tally.ToCreate++
				shadow[def.Type][rec.Key] = true
				continue
			}
			shadow[def.Type][rec.Key] = true

			stored, err := e.store.FetchFields(ctx, e.org, def.Type, rec.Key)
			if err != nil {
				return nil, fmt.Errorf("dry-run fetch %s %q: %w", def.Type, rec.Key, err)
			}
			switch d, fields := classify(stored, rec.Fields); d {
			case decideUpdate:
				tally.ToUpdate++
			case decideSkip:
				tally.ToSkip++
			case decideConflict:
				tally.Conflicts++
				result.Conflicts = append(result.Conflicts, Conflict{
					EntityType: def.Type,
					Row:        rec.Row,
					Key:        rec.Key,
					Message:    (&ConflictError{EntityType: def.Type, Key: rec.Key, Fields: fields}).Error(),
				})
			}
		}
	}

	result.Success = len(result.BlockingIssues) == 0
	progress(100, "dry-run complete")
	return result, nil
}

// orderTables returns tables sorted into canonical import order without
// mutating the input slice.
func orderTables(tables []ParsedTable) []ParsedTable {
	out := make([]ParsedTable, len(tables))
	copy(out, tables)
	sort.SliceStable(out, func(i, j int) bool {
		return schema.OrderIndex(out[i].EntityType) < schema.OrderIndex(out[j].EntityType)
	})
	return out
}

func asMultierror(err error, target **multierror.Error) bool {
	merr, ok := err.(*multierror.Error)
	if ok {
		*target = merr
	}
	return ok
}
