package importer

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/caseflowhq/caseflow/internal/schema"
	"github.com/caseflowhq/caseflow/internal/storage"
)

// runWizard drives a session from creation through dry-run review.
func runWizard(t *testing.T, svc *Service, org uuid.UUID) *Session {
	t.Helper()

	sess := svc.CreateSession(org, uuid.New())
	if err := svc.SelectSource(sess.ID, "generic"); err != nil {
		t.Fatalf("SelectSource: %v", err)
	}

	files := []UploadedFile{
		csvFile("cases.csv",
			"case_number,title,status,case_type",
			"C-1,First,open,investigation",
			"C-2,Second,Open,",
		),
		csvFile("subjects.csv",
			"subject_id,case_number,first_name,last_name",
			"S-1,C-1,Ada,Byron",
		),
	}
	tables, fileErrs, err := svc.UploadFiles(sess.ID, files)
	if err != nil {
		t.Fatalf("UploadFiles: %v", err)
	}
	if len(fileErrs) != 0 {
		t.Fatalf("file errors: %v", fileErrs)
	}
	if len(tables) != 2 {
		t.Fatalf("tables = %d, want 2", len(tables))
	}

	if err := svc.ConfirmValidation(sess.ID); err != nil {
		t.Fatalf("ConfirmValidation: %v", err)
	}

	result, err := svc.RunDryRun(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("RunDryRun: %v", err)
	}
	if !result.Success {
		t.Fatalf("dry-run blocked: %v", result.BlockingIssues)
	}
	return sess
}

func TestService_EndToEndImport(t *testing.T) {
	org := uuid.New()
	store := storage.NewMemoryStore()
	svc := NewService(store)

	sess := runWizard(t, svc, org)
	if err := svc.Confirm(sess.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if err := svc.StartExecution(sess.ID); err != nil {
		t.Fatalf("StartExecution: %v", err)
	}

	result, err := svc.ExecutionResult(sess.ID)
	if err != nil {
		t.Fatalf("ExecutionResult: %v", err)
	}
	if !result.Success || result.SuccessfulRecords != 3 {
		t.Errorf("result = %+v, want 3 successes", result)
	}

	got, err := svc.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Stage != StageResults {
		t.Errorf("stage = %q, want results", got.Stage)
	}

	n, _ := store.CountRecords(context.Background(), org, schema.EntityCases)
	if n != 2 {
		t.Errorf("stored cases = %d, want 2", n)
	}
	batches, err := svc.ListBatches(context.Background(), org)
	if err != nil || len(batches) != 1 {
		t.Fatalf("batches = %v, %v, want one", batches, err)
	}
	if batches[0].Status != storage.BatchCompleted {
		t.Errorf("batch status = %q, want completed", batches[0].Status)
	}
}

func TestService_ProgressSubscription(t *testing.T) {
	org := uuid.New()
	store := storage.NewMemoryStore()
	svc := NewService(store)

	sess := runWizard(t, svc, org)
	if err := svc.Confirm(sess.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if err := svc.StartExecution(sess.ID); err != nil {
		t.Fatalf("StartExecution: %v", err)
	}

	ch, err := svc.SubscribeProgress(sess.ID)
	if err != nil {
		t.Fatalf("SubscribeProgress: %v", err)
	}

	// The executor may finish before the subscription lands; in that
	// case the channel arrives already closed and empty.
	for update := range ch {
		if update.SessionID != sess.ID {
			t.Errorf("session id = %q, want %q", update.SessionID, sess.ID)
		}
	}
	if _, err := svc.ExecutionResult(sess.ID); err != nil {
		t.Fatalf("ExecutionResult: %v", err)
	}

	// After the channel closes the snapshot holds the terminal update.
	snap, err := svc.ExecutionProgressSnapshot(sess.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Status != string(storage.BatchCompleted) || snap.Message != "import finished" {
		t.Errorf("final snapshot = %+v", snap)
	}
}

func TestService_ProgressSequenceIsMonotonic(t *testing.T) {
	org := uuid.New()
	svc := NewService(storage.NewMemoryStore())

	sess := runWizard(t, svc, org)
	if err := svc.Confirm(sess.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if err := svc.StartExecution(sess.ID); err != nil {
		t.Fatalf("StartExecution: %v", err)
	}

	ch, err := svc.SubscribeProgress(sess.ID)
	if err != nil {
		t.Fatalf("SubscribeProgress: %v", err)
	}

	// The wizard imports two entity types. Per-entity processed counts
	// restart at each boundary; Seq must not.
	last := -1
	for update := range ch {
		if update.Seq <= last {
			t.Errorf("seq %d after %d, want strictly increasing", update.Seq, last)
		}
		last = update.Seq
	}
	if _, err := svc.ExecutionResult(sess.ID); err != nil {
		t.Fatalf("ExecutionResult: %v", err)
	}

	snap, err := svc.ExecutionProgressSnapshot(sess.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Seq < 1 || snap.Seq < last {
		t.Errorf("terminal seq = %d, want >= 1 and >= %d", snap.Seq, last)
	}
}

func TestService_SessionRetentionExpiry(t *testing.T) {
	old := SessionRetention
	SessionRetention = 10 * time.Millisecond
	defer func() { SessionRetention = old }()

	org := uuid.New()
	svc := NewService(storage.NewMemoryStore())

	sess := runWizard(t, svc, org)
	if err := svc.Confirm(sess.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if err := svc.StartExecution(sess.ID); err != nil {
		t.Fatalf("StartExecution: %v", err)
	}
	if _, err := svc.ExecutionResult(sess.ID); err != nil {
		t.Fatalf("ExecutionResult: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := svc.GetSession(sess.ID); err != nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("finished session still queryable past its retention window")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestService_SubscribeAfterCompletion(t *testing.T) {
	org := uuid.New()
	store := storage.NewMemoryStore()
	svc := NewService(store)

	sess := runWizard(t, svc, org)
	if err := svc.Confirm(sess.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if err := svc.StartExecution(sess.ID); err != nil {
		t.Fatalf("StartExecution: %v", err)
	}
	if _, err := svc.ExecutionResult(sess.ID); err != nil {
		t.Fatalf("ExecutionResult: %v", err)
	}

	ch, err := svc.SubscribeProgress(sess.ID)
	if err != nil {
		t.Fatalf("SubscribeProgress: %v", err)
	}
	select {
	case _, open := <-ch:
		if open {
			t.Error("late subscription delivered an update, want closed channel")
		}
	case <-time.After(time.Second):
		t.Error("late subscription channel not closed")
	}
}

func TestService_GuardsBeforeExecution(t *testing.T) {
	org := uuid.New()
	svc := NewService(storage.NewMemoryStore())
	sess := runWizard(t, svc, org)

	if _, err := svc.SubscribeProgress(sess.ID); err == nil {
		t.Error("SubscribeProgress before StartExecution should fail")
	}
	if err := svc.CancelExecution(sess.ID); err == nil {
		t.Error("CancelExecution before StartExecution should fail")
	}
	if _, err := svc.ExecutionResult(sess.ID); err == nil {
		t.Error("ExecutionResult before StartExecution should fail")
	}
}

func TestService_UnknownSession(t *testing.T) {
	svc := NewService(storage.NewMemoryStore())
	if _, err := svc.GetSession("nope"); err == nil {
		t.Error("GetSession(nope) should fail")
	}
	if err := svc.SelectSource("nope", "generic"); err == nil {
		t.Error("SelectSource on unknown session should fail")
	}
}

func TestService_ExecutionRequiresConfirmation(t *testing.T) {
	org := uuid.New()
	svc := NewService(storage.NewMemoryStore())
	sess := runWizard(t, svc, org)

	// Still at dry-run review; execution must be refused.
	err := svc.StartExecution(sess.ID)
	if err == nil {
		t.Fatal("StartExecution before Confirm should fail")
	}
}

func TestService_DryRunRequiresMappingStage(t *testing.T) {
	org := uuid.New()
	svc := NewService(storage.NewMemoryStore())
	sess := svc.CreateSession(org, uuid.New())

	if _, err := svc.RunDryRun(context.Background(), sess.ID); err == nil {
		t.Fatal("RunDryRun at type stage should fail")
	}
}
