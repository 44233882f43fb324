package importer

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage identifies where an operator is in the import wizard.
type Stage string

const (
	StageType         Stage = "type"
	StageUpload       Stage = "upload"
	StageValidation   Stage = "validation"
	StageMapping      Stage = "mapping"
	StageDryRun       Stage = "dry-run"
	StageConfirmation Stage = "confirmation"
	StageProcessing   Stage = "processing"
	StageResults      Stage = "results"
)

// TransitionError reports an attempt to move a session to a stage its
// current stage does not permit.
type TransitionError struct {
	From Stage
	To   Stage
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move from %q to %q", e.From, e.To)
}

// Session holds the full state of one in-progress import, one stage at
// a time. All mutation goes through transition methods so the stage and
// the data it depends on can never drift apart: replacing files or the
// mapping discards any dry-run that was computed against the old pair.
//
// Session is not safe for concurrent use; the owning Service serializes
// access.
type Session struct {
	ID           string
	OrgID        uuid.UUID
	UserID       uuid.UUID
	SourceSystem string
	Stage        Stage

	Tables     []ParsedTable
	FileErrors []*FileError
	Mapping    *MappingConfig
	DryRun     *DryRunResult
	Result     *ImportExecutionResult

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSession creates a session at the type-selection stage.
func NewSession(orgID, userID uuid.UUID) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		UserID:    userID,
		Stage:     StageType,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Session) touch() { s.UpdatedAt = time.Now() }

// SelectSource records the source system and seeds the default mapping
// for it. Valid only at the type stage.
func (s *Session) SelectSource(sourceSystem string) error {
	if s.Stage != StageType {
		return &TransitionError{From: s.Stage, To: StageUpload}
	}
	if sourceSystem == "" {
		return fmt.Errorf("source system is required")
	}
	s.SourceSystem = sourceSystem
	s.Mapping = DefaultMappingConfig(sourceSystem)
	s.Stage = StageUpload
	s.touch()
	return nil
}

// AttachFiles stores parse output and moves to validation. Re-uploading
// is allowed from any review stage; doing so discards the previous
// tables and any dry-run computed over them.
func (s *Session) AttachFiles(tables []ParsedTable, fileErrs []*FileError) error {
	switch s.Stage {
	case StageUpload, StageValidation, StageMapping, StageDryRun, StageConfirmation:
	default:
		return &TransitionError{From: s.Stage, To: StageValidation}
	}
	if len(tables) == 0 && len(fileErrs) == 0 {
		return fmt.Errorf("no files provided")
	}
	s.Tables = tables
	s.FileErrors = fileErrs
	s.DryRun = nil
	s.Stage = StageValidation
	s.touch()
	return nil
}

// ConfirmValidation acknowledges the validation report and opens the
// mapping stage. It refuses when no file yielded a usable table.
func (s *Session) ConfirmValidation() error {
	if s.Stage != StageValidation {
		return &TransitionError{From: s.Stage, To: StageMapping}
	}
	if len(s.Tables) == 0 {
		return fmt.Errorf("no parseable files in this session")
	}
	s.Stage = StageMapping
	s.touch()
	return nil
}

// SetMapping replaces the session mapping. Allowed from mapping onward
// up to confirmation; any recorded dry-run is discarded because it no
// longer describes what execution would do.
func (s *Session) SetMapping(cfg *MappingConfig) error {
	switch s.Stage {
	case StageMapping, StageDryRun, StageConfirmation:
	default:
		return &TransitionError{From: s.Stage, To: StageMapping}
	}
	if cfg == nil {
		return fmt.Errorf("mapping is required")
	}
	s.Mapping = cfg
	s.DryRun = nil
	s.Stage = StageMapping
	s.touch()
	return nil
}

// RecordDryRun stores a dry-run outcome and moves to the dry-run review
// stage. Repeating a dry-run simply replaces the previous result.
func (s *Session) RecordDryRun(result *DryRunResult) error {
	switch s.Stage {
	case StageMapping, StageDryRun:
	default:
		return &TransitionError{From: s.Stage, To: StageDryRun}
	}
	s.DryRun = result
	s.Stage = StageDryRun
	s.touch()
	return nil
}

// Confirm moves from dry-run review to confirmation. It requires a
// successful dry-run that is still fresh for the current tables and
// mapping.
func (s *Session) Confirm() error {
	if s.Stage != StageDryRun {
		return &TransitionError{From: s.Stage, To: StageConfirmation}
	}
	if err := s.requireFreshDryRun(); err != nil {
		return err
	}
	s.Stage = StageConfirmation
	s.touch()
	return nil
}

// BeginProcessing marks the session as executing. The freshness check
// repeats here so a stale confirmation can never reach the store.
func (s *Session) BeginProcessing() error {
	if s.Stage != StageConfirmation {
		return &TransitionError{From: s.Stage, To: StageProcessing}
	}
	if err := s.requireFreshDryRun(); err != nil {
		return err
	}
	s.Stage = StageProcessing
	s.touch()
	return nil
}

// CompleteProcessing records the execution outcome and moves to results.
func (s *Session) CompleteProcessing(result *ImportExecutionResult) error {
	if s.Stage != StageProcessing {
		return &TransitionError{From: s.Stage, To: StageResults}
	}
	s.Result = result
	s.Stage = StageResults
	s.touch()
	return nil
}

// Fingerprint identifies the current (tables, mapping) pair.
func (s *Session) Fingerprint() string {
	if s.Mapping == nil {
		return ""
	}
	return s.Mapping.Fingerprint(s.Tables)
}

// DryRunFresh reports whether the recorded dry-run was computed over
// exactly the current tables and mapping.
func (s *Session) DryRunFresh() bool {
	return s.DryRun != nil && s.DryRun.Fingerprint == s.Fingerprint()
}

func (s *Session) requireFreshDryRun() error {
	if s.DryRun == nil {
		return fmt.Errorf("no dry-run recorded for this session")
	}
	if s.DryRun.Fingerprint != s.Fingerprint() {
		return fmt.Errorf("dry-run is stale: files or mapping changed since it ran")
	}
	if !s.DryRun.Success {
		return fmt.Errorf("dry-run reported blocking issues; resolve them and run it again")
	}
	return nil
}
