package worker

import (
	"bytes"
	"context"
	"errors"
	"testing"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/parlaygorilla/proofd/ledger"
	"github.com/parlaygorilla/proofd/payload"
	"github.com/parlaygorilla/proofd/queue"
	"github.com/parlaygorilla/proofd/repository"
	"github.com/parlaygorilla/proofd/repository/models"
)

type fakeQueue struct {
	acked    []string
	requeued []*queue.Job
}

func (q *fakeQueue) Claim(ctx context.Context) (*queue.Job, error) {
	return nil, nil
}

func (q *fakeQueue) Ack(ctx context.Context, job *queue.Job) error {
	q.acked = append(q.acked, job.ID)
	return nil
}

func (q *fakeQueue) Requeue(ctx context.Context, job *queue.Job) error {
	next := *job
	next.Attempt = job.Attempt + 1
	q.requeued = append(q.requeued, &next)
	return nil
}

type fakeRepo struct {
	records   map[string]*models.VerificationRecord
	statusLog []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: map[string]*models.VerificationRecord{}}
}

func (r *fakeRepo) EnsureRecord(req payload.ProofRequest, network string) (*models.VerificationRecord, *repository.RepositoryError) {
	if rec, ok := r.records[req.ID]; ok {
		return rec, nil
	}
	rec := &models.VerificationRecord{
		ID:          req.ID,
		SubjectID:   req.SubjectID,
		ContentHash: req.ContentHash,
		Status:      models.StatusPending,
		Network:     network,
	}
	r.records[req.ID] = rec
	r.statusLog = append(r.statusLog, rec.Status)
	return rec, nil
}

func (r *fakeRepo) MarkConfirmed(id, txReference, objectReference string) *repository.RepositoryError {
	rec, ok := r.records[id]
	if !ok {
		// Single-row UPDATE on a missing row is a no-op.
		return nil
	}
	rec.Status = models.StatusConfirmed
	rec.TxReference = &txReference
	rec.LastError = nil
	r.statusLog = append(r.statusLog, rec.Status)
	return nil
}

func (r *fakeRepo) SetLastError(id, message string) *repository.RepositoryError {
	rec, ok := r.records[id]
	if !ok {
		return nil
	}
	rec.LastError = &message
	rec.Attempts++
	r.statusLog = append(r.statusLog, rec.Status)
	return nil
}

func (r *fakeRepo) MarkFailed(id, message string) *repository.RepositoryError {
	rec, ok := r.records[id]
	if !ok {
		return nil
	}
	rec.Status = models.StatusFailed
	rec.LastError = &message
	r.statusLog = append(r.statusLog, rec.Status)
	return nil
}

type fakeSubmitter struct {
	result *ledger.SubmitResult
	err    error
	calls  [][]byte
}

func (s *fakeSubmitter) Submit(ctx context.Context, serialized []byte, datatype, handle string) (*ledger.SubmitResult, error) {
	s.calls = append(s.calls, append([]byte(nil), serialized...))
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type fakeJournal struct {
	pins      map[string][]byte
	forgotten []string
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{pins: map[string][]byte{}}
}

func (j *fakeJournal) Ensure(id string, serialized []byte) ([]byte, error) {
	if pinned, ok := j.pins[id]; ok {
		return pinned, nil
	}
	j.pins[id] = append([]byte(nil), serialized...)
	return j.pins[id], nil
}

func (j *fakeJournal) Forget(id string) error {
	j.forgotten = append(j.forgotten, id)
	delete(j.pins, id)
	return nil
}

func testJob(attempt int) *queue.Job {
	return &queue.Job{
		ProofRequest: payload.ProofRequest{
			ID:            "job1",
			SubjectID:     "p1",
			AccountNumber: "acct_1",
			ContentHash:   "h1",
			CreatedAtIso:  "2025-01-01T00:00:00Z",
		},
		Attempt: attempt,
	}
}

func newTestWorker(q *fakeQueue, r RecordStore, s *fakeSubmitter, j *fakeJournal, maxAttempts int) *Worker {
	return New(q, r, s, j, Options{
		MaxAttempts: maxAttempts,
		Network:     "mainnet",
		Datatype:    "contract-1",
		Handle:      "module-1",
	}, cmtlog.NewNopLogger())
}

func TestProcessSuccess(t *testing.T) {
	q := &fakeQueue{}
	r := newFakeRepo()
	s := &fakeSubmitter{result: &ledger.SubmitResult{TxRef: "tx1", ObjectRef: "obj1"}}
	j := newFakeJournal()
	w := newTestWorker(q, r, s, j, 3)

	w.Process(context.Background(), testJob(1))

	rec := r.records["job1"]
	if rec.Status != models.StatusConfirmed {
		t.Errorf("Status = %q", rec.Status)
	}
	if rec.TxReference == nil || *rec.TxReference != "tx1" {
		t.Errorf("TxReference = %v", rec.TxReference)
	}
	if len(q.acked) != 1 || q.acked[0] != "job1" {
		t.Errorf("acked = %v", q.acked)
	}
	if len(q.requeued) != 0 {
		t.Errorf("requeued = %v", q.requeued)
	}
	if len(j.forgotten) != 1 {
		t.Errorf("journal not cleaned up: %v", j.forgotten)
	}
}

func TestProcessSubmitsPinnedBytes(t *testing.T) {
	q := &fakeQueue{}
	r := newFakeRepo()
	s := &fakeSubmitter{result: &ledger.SubmitResult{TxRef: "tx1"}}
	j := newFakeJournal()
	// A previous attempt pinned different bytes; the resubmission must use
	// them, not a fresh build.
	pinned := []byte(`{"pinned":"v1"}`)
	j.pins["job1"] = pinned
	w := newTestWorker(q, r, s, j, 3)

	w.Process(context.Background(), testJob(2))

	if len(s.calls) != 1 {
		t.Fatalf("submit calls = %d", len(s.calls))
	}
	if !bytes.Equal(s.calls[0], pinned) {
		t.Errorf("submitted %s, want pinned %s", s.calls[0], pinned)
	}
}

func TestProcessSkipsAlreadyConfirmed(t *testing.T) {
	q := &fakeQueue{}
	r := newFakeRepo()
	tx := "tx_old"
	r.records["job1"] = &models.VerificationRecord{
		ID:          "job1",
		Status:      models.StatusConfirmed,
		TxReference: &tx,
	}
	s := &fakeSubmitter{result: &ledger.SubmitResult{TxRef: "tx_new"}}
	w := newTestWorker(q, r, s, newFakeJournal(), 3)

	w.Process(context.Background(), testJob(1))

	if len(s.calls) != 0 {
		t.Errorf("submitted %d times for a confirmed job", len(s.calls))
	}
	if len(q.acked) != 1 {
		t.Errorf("acked = %v", q.acked)
	}
	if *r.records["job1"].TxReference != "tx_old" {
		t.Errorf("confirmed record was mutated")
	}
}

func TestProcessTransientFailureRequeues(t *testing.T) {
	q := &fakeQueue{}
	r := newFakeRepo()
	s := &fakeSubmitter{err: errors.New("connection reset")}
	w := newTestWorker(q, r, s, newFakeJournal(), 3)

	w.Process(context.Background(), testJob(1))

	rec := r.records["job1"]
	if rec.Status != models.StatusPending {
		t.Errorf("Status = %q, want pending", rec.Status)
	}
	if rec.LastError == nil || *rec.LastError != "connection reset" {
		t.Errorf("LastError = %v", rec.LastError)
	}
	if len(q.requeued) != 1 || q.requeued[0].Attempt != 2 {
		t.Errorf("requeued = %v", q.requeued)
	}
	// Requeue releases the claim itself; no separate ack.
	if len(q.acked) != 0 {
		t.Errorf("acked = %v", q.acked)
	}
}

func TestBoundedRetries(t *testing.T) {
	// maxAttempts = 3 and a ledger that always fails: the record must pass
	// through pending three times and end failed, never a fourth attempt.
	q := &fakeQueue{}
	r := newFakeRepo()
	s := &fakeSubmitter{err: errors.New("ledger down")}
	j := newFakeJournal()
	w := newTestWorker(q, r, s, j, 3)

	job := testJob(1)
	for {
		w.Process(context.Background(), job)
		if len(q.requeued) == 0 {
			break
		}
		job = q.requeued[len(q.requeued)-1]
		if job.Attempt > 10 {
			t.Fatal("runaway requeue loop")
		}
		q.requeued = nil
	}

	if len(s.calls) != 3 {
		t.Errorf("submit attempts = %d, want exactly 3", len(s.calls))
	}
	rec := r.records["job1"]
	if rec.Status != models.StatusFailed {
		t.Errorf("Status = %q, want failed", rec.Status)
	}

	want := []string{"pending", "pending", "pending", "pending", "failed"}
	// statusLog: create, then one pending per SetLastError, then failed.
	if len(r.statusLog) != len(want) {
		t.Fatalf("statusLog = %v", r.statusLog)
	}
	for i := range want {
		if r.statusLog[i] != want[i] {
			t.Errorf("statusLog[%d] = %q, want %q", i, r.statusLog[i], want[i])
		}
	}
	if len(q.acked) != 1 {
		t.Errorf("terminal attempt must ack: %v", q.acked)
	}
	if len(j.forgotten) != 1 {
		t.Errorf("journal not cleaned up on terminal failure")
	}
}

type vanishingRepo struct {
	*fakeRepo
}

func (r *vanishingRepo) EnsureRecord(req payload.ProofRequest, network string) (*models.VerificationRecord, *repository.RepositoryError) {
	return nil, nil
}

func TestProcessSurvivesVanishedRecord(t *testing.T) {
	// A repository that reports neither a record nor an error must not
	// crash the loop; the delivery becomes a normal retry.
	q := &fakeQueue{}
	s := &fakeSubmitter{result: &ledger.SubmitResult{TxRef: "tx1"}}
	w := newTestWorker(q, &vanishingRepo{fakeRepo: newFakeRepo()}, s, newFakeJournal(), 3)

	w.Process(context.Background(), testJob(1))

	if len(s.calls) != 0 {
		t.Errorf("submitted without a record, calls = %d", len(s.calls))
	}
	if len(q.requeued) != 1 || q.requeued[0].Attempt != 2 {
		t.Errorf("requeued = %v", q.requeued)
	}
}

func TestEmptyReferenceNeverConfirms(t *testing.T) {
	q := &fakeQueue{}
	r := newFakeRepo()
	s := &fakeSubmitter{err: ledger.ErrEmptyReference}
	w := newTestWorker(q, r, s, newFakeJournal(), 3)

	w.Process(context.Background(), testJob(1))

	if r.records["job1"].Status == models.StatusConfirmed {
		t.Error("empty reference must not confirm")
	}
	if len(q.requeued) != 1 {
		t.Errorf("empty reference should be retryable, requeued = %v", q.requeued)
	}
}
