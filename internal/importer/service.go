package importer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/caseflowhq/caseflow/internal/logging"
	"github.com/caseflowhq/caseflow/internal/schema"
	"github.com/caseflowhq/caseflow/internal/storage"
	"github.com/google/uuid"
)

// ExecutionTimeout is the maximum duration for one import execution.
var ExecutionTimeout = 15 * time.Minute

// SessionRetention is how long finished sessions stay queryable.
var SessionRetention = 30 * time.Minute

// ExecutionUpdate is one progress snapshot pushed to subscribers while
// an import executes.
type ExecutionUpdate struct {
	// Seq increases by one with every update for a session, spanning
	// entity-type boundaries, so clients can resume a dropped stream.
	Seq        int               `json:"seq"`
	SessionID  string            `json:"sessionId"`
	EntityType schema.EntityType `json:"entityType,omitempty"`
	Processed  int               `json:"processed"`
	Errors     int               `json:"errors"`
	Status     string            `json:"status"`
	Message    string            `json:"message,omitempty"`
}

// Service owns import sessions and drives the wizard end to end:
// parsing uploads, dry-runs, and asynchronous execution with progress
// fan-out to subscribers.
type Service struct {
	store storage.Store

	mu       sync.RWMutex
	sessions map[string]*activeSession
}

type activeSession struct {
	Session    *Session
	Cancel     context.CancelFunc
	Progress   ExecutionUpdate
	Done       chan struct{}
	Listeners  []chan ExecutionUpdate
	ListenerMu sync.Mutex
	seq        int
}

// NewService creates a Service backed by the given store.
func NewService(store storage.Store) *Service {
	return &Service{
		store:    store,
		sessions: make(map[string]*activeSession),
	}
}

// CreateSession starts a new import session at the type-selection stage.
func (s *Service) CreateSession(orgID, userID uuid.UUID) *Session {
	sess := NewSession(orgID, userID)

	s.mu.Lock()
	s.sessions[sess.ID] = &activeSession{Session: sess}
	s.mu.Unlock()

	return sess
}

// GetSession returns a session by ID.
func (s *Service) GetSession(sessionID string) (*Session, error) {
	active, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return active.Session, nil
}

func (s *Service) lookup(sessionID string) (*activeSession, error) {
	s.mu.RLock()
	active, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	return active, nil
}

// SelectSource records the source system for a session.
func (s *Service) SelectSource(sessionID, sourceSystem string) error {
	active, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return active.Session.SelectSource(sourceSystem)
}

// UploadFiles parses the given files and attaches the result to the
// session, moving it to the validation stage.
func (s *Service) UploadFiles(sessionID string, files []UploadedFile) ([]ParsedTable, []*FileError, error) {
	active, err := s.lookup(sessionID)
	if err != nil {
		return nil, nil, err
	}

	tables, fileErrs := ParseFiles(files)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := active.Session.AttachFiles(tables, fileErrs); err != nil {
		return nil, nil, err
	}
	return tables, fileErrs, nil
}

// ConfirmValidation acknowledges the validation report.
func (s *Service) ConfirmValidation(sessionID string) error {
	active, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return active.Session.ConfirmValidation()
}

// SetMapping replaces the session mapping.
func (s *Service) SetMapping(sessionID string, cfg *MappingConfig) error {
	active, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return active.Session.SetMapping(cfg)
}

// RunDryRun simulates the import against current store state and
// records the result on the session. Dry-runs are synchronous: they
// read but never write, and finish in interactive time.
func (s *Service) RunDryRun(ctx context.Context, sessionID string) (*DryRunResult, error) {
	active, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	sess := active.Session
	switch sess.Stage {
	case StageMapping, StageDryRun:
	default:
		s.mu.Unlock()
		return nil, &TransitionError{From: sess.Stage, To: StageDryRun}
	}
	tables := sess.Tables
	mapping := sess.Mapping
	org := sess.OrgID
	s.mu.Unlock()

	engine := NewDryRunEngine(s.store, org)
	result, err := engine.Run(ctx, tables, mapping, nil)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := sess.RecordDryRun(result); err != nil {
		return nil, err
	}
	return result, nil
}

// Confirm moves a reviewed dry-run to the confirmation stage.
func (s *Service) Confirm(sessionID string) error {
	active, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return active.Session.Confirm()
}

// StartExecution begins the confirmed import in the background and
// returns immediately. Use SubscribeProgress for updates and
// ExecutionResult for the outcome.
func (s *Service) StartExecution(sessionID string) error {
	active, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	sess := active.Session
	if err := sess.BeginProcessing(); err != nil {
		s.mu.Unlock()
		return err
	}

	execCtx, cancel := context.WithTimeout(context.Background(), ExecutionTimeout)
	active.Cancel = cancel
	active.Done = make(chan struct{})
	active.Listeners = make([]chan ExecutionUpdate, 0)
	active.Progress = ExecutionUpdate{
		SessionID: sessionID,
		Status:    string(storage.BatchProcessing),
		Message:   "starting import",
	}

	params := ExecutionParams{
		OrgID:        sess.OrgID,
		UserID:       sess.UserID,
		SourceSystem: sess.SourceSystem,
		Tables:       sess.Tables,
		Mapping:      sess.Mapping,
		Progress: func(entityType schema.EntityType, processed, errors int, status string) {
			active.updateProgress(ExecutionUpdate{
				SessionID:  sessionID,
				EntityType: entityType,
				Processed:  processed,
				Errors:     errors,
				Status:     status,
			})
		},
	}
	s.mu.Unlock()

	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				logging.WithFields(execCtx, "session_id", sessionID).
					Error("panic in import execution", "panic", r)
				active.updateProgress(ExecutionUpdate{
					SessionID: sessionID,
					Status:    string(storage.BatchFailed),
					Message:   fmt.Sprintf("internal error: %v", r),
				})
				active.finish()
				s.cleanup(sessionID, SessionRetention)
			}
		}()
		s.runExecution(execCtx, active, params)
	}()

	return nil
}

func (s *Service) runExecution(ctx context.Context, active *activeSession, params ExecutionParams) {
	sessionID := active.Session.ID
	log := logging.WithFields(ctx, "session_id", sessionID)

	result, err := NewExecutor(s.store).Execute(ctx, params)
	if err != nil {
		log.Error("import execution aborted", "error", err)
		result = &ImportExecutionResult{
			Success: false,
			Errors: []RecordError{{
				Message: err.Error(),
			}},
		}
	}

	status := storage.BatchFailed
	switch {
	case err != nil:
	case result.Success && result.FailedRecords == 0:
		status = storage.BatchCompleted
	case result.Success:
		status = storage.BatchCompletedWithErrors
	}

	s.mu.Lock()
	if cerr := active.Session.CompleteProcessing(result); cerr != nil {
		log.Error("session state out of sync", "error", cerr)
	}
	s.mu.Unlock()

	active.updateProgress(ExecutionUpdate{
		SessionID: sessionID,
		Processed: result.SuccessfulRecords + result.FailedRecords + result.SkippedRecords,
		Errors:    result.FailedRecords,
		Status:    string(status),
		Message:   "import finished",
	})
	active.finish()
	s.cleanup(sessionID, SessionRetention)
}

// SubscribeProgress returns a channel that receives execution progress
// updates. The channel is closed when the execution completes. Must be
// called after StartExecution.
func (s *Service) SubscribeProgress(sessionID string) (<-chan ExecutionUpdate, error) {
	active, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	if active.Done == nil {
		return nil, fmt.Errorf("session %s is not executing", sessionID)
	}

	ch := make(chan ExecutionUpdate, 10)

	active.ListenerMu.Lock()
	if active.closed() {
		active.ListenerMu.Unlock()
		close(ch)
		return ch, nil
	}
	active.Listeners = append(active.Listeners, ch)
	// Send current progress immediately
	select {
	case ch <- active.Progress:
	default:
	}
	active.ListenerMu.Unlock()

	return ch, nil
}

// CancelExecution cancels an in-progress execution. Rows already
// written by the batch are rolled back by the executor before the
// batch is marked failed.
func (s *Service) CancelExecution(sessionID string) error {
	active, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	if active.Cancel == nil {
		return fmt.Errorf("session %s is not executing", sessionID)
	}

	active.Cancel()
	return nil
}

// ExecutionResult returns the result of a completed execution. Blocks
// until the execution completes if still in progress.
func (s *Service) ExecutionResult(sessionID string) (*ImportExecutionResult, error) {
	active, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	if active.Done == nil {
		return nil, fmt.Errorf("session %s is not executing", sessionID)
	}

	<-active.Done

	s.mu.RLock()
	defer s.mu.RUnlock()
	return active.Session.Result, nil
}

// ExecutionProgressSnapshot returns the current progress without blocking.
func (s *Service) ExecutionProgressSnapshot(sessionID string) (ExecutionUpdate, error) {
	active, err := s.lookup(sessionID)
	if err != nil {
		return ExecutionUpdate{}, err
	}

	active.ListenerMu.Lock()
	defer active.ListenerMu.Unlock()
	return active.Progress, nil
}

// ListBatches returns past import batches for an organization, newest
// first.
func (s *Service) ListBatches(ctx context.Context, orgID uuid.UUID) ([]*storage.ImportBatch, error) {
	return s.store.ListBatches(ctx, orgID)
}

// GetBatch returns one import batch by ID.
func (s *Service) GetBatch(ctx context.Context, batchID uuid.UUID) (*storage.ImportBatch, error) {
	return s.store.GetBatch(ctx, batchID)
}

// cleanup removes the session from tracking after a delay.
func (s *Service) cleanup(sessionID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.sessions, sessionID)
		s.mu.Unlock()
	})
}

// updateProgress records the latest snapshot and fans it out to all
// listeners. Slow listeners miss intermediate updates rather than
// stalling the import.
func (a *activeSession) updateProgress(update ExecutionUpdate) {
	a.ListenerMu.Lock()
	defer a.ListenerMu.Unlock()

	a.seq++
	update.Seq = a.seq
	a.Progress = update
	for _, ch := range a.Listeners {
		select {
		case ch <- update:
		default:
			// Listener is slow, skip this update
		}
	}
}

// finish closes all listener channels and signals completion.
func (a *activeSession) finish() {
	a.ListenerMu.Lock()
	for _, ch := range a.Listeners {
		close(ch)
	}
	a.Listeners = nil
	a.ListenerMu.Unlock()

	close(a.Done)
}

// closed reports whether finish has run. Caller holds ListenerMu.
func (a *activeSession) closed() bool {
	select {
	case <-a.Done:
		return true
	default:
		return false
	}
}
