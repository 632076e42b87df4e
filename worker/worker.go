package worker

import (
	"context"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/parlaygorilla/proofd/ledger"
	"github.com/parlaygorilla/proofd/payload"
	"github.com/parlaygorilla/proofd/queue"
	"github.com/parlaygorilla/proofd/repository"
	"github.com/parlaygorilla/proofd/repository/models"
)

// JobQueue is the claim/ack surface of the queue consumer.
type JobQueue interface {
	Claim(ctx context.Context) (*queue.Job, error)
	Ack(ctx context.Context, job *queue.Job) error
	Requeue(ctx context.Context, job *queue.Job) error
}

// RecordStore is the slice of the persistence repository the loop uses.
type RecordStore interface {
	EnsureRecord(req payload.ProofRequest, network string) (*models.VerificationRecord, *repository.RepositoryError)
	MarkConfirmed(id, txReference, objectReference string) *repository.RepositoryError
	SetLastError(id, message string) *repository.RepositoryError
	MarkFailed(id, message string) *repository.RepositoryError
}

// Submitter performs one logical ledger submission.
type Submitter interface {
	Submit(ctx context.Context, serialized []byte, datatype, handle string) (*ledger.SubmitResult, error)
}

// PayloadJournal pins first-attempt payload bytes per job id.
type PayloadJournal interface {
	Ensure(id string, serialized []byte) ([]byte, error)
	Forget(id string) error
}

// Options carry the per-deployment knobs of the loop.
type Options struct {
	MaxAttempts int
	Network     string
	Datatype    string
	Handle      string
}

// Worker processes one job at a time end-to-end: claim, build, submit,
// persist, ack. Mutual exclusion per job across worker processes is the
// queue's claim move; the loop itself holds no locks.
type Worker struct {
	queue   JobQueue
	repo    RecordStore
	ledger  Submitter
	journal PayloadJournal
	opts    Options
	logger  cmtlog.Logger
}

func New(q JobQueue, repo RecordStore, l Submitter, j PayloadJournal, opts Options, logger cmtlog.Logger) *Worker {
	return &Worker{
		queue:   q,
		repo:    repo,
		ledger:  l,
		journal: j,
		opts:    opts,
		logger:  logger,
	}
}

// Run claims and processes jobs until the context is canceled. Per-job
// errors never escape this loop; they become a retry-or-terminal decision.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.queue.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("claim failed", "err", err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}
		w.Process(ctx, job)
	}
}

// Process runs one delivery attempt for a claimed job.
func (w *Worker) Process(ctx context.Context, job *queue.Job) {
	record, repoErr := w.repo.EnsureRecord(job.ProofRequest, w.opts.Network)
	if repoErr != nil {
		w.handleFailure(ctx, job, repoErr.Error())
		return
	}
	if record == nil {
		w.handleFailure(ctx, job, "verification record missing after ensure")
		return
	}

	// Duplicate delivery of an already confirmed job is a no-op.
	if record.Status == models.StatusConfirmed {
		w.logger.Info("job already confirmed, skipping", "job_id", job.ID)
		w.ack(ctx, job)
		return
	}

	serialized, err := payload.Serialize(payload.Build(job.ProofRequest))
	if err != nil {
		w.handleFailure(ctx, job, err.Error())
		return
	}

	// Pin the first attempt's bytes; every later attempt and any resume
	// submits exactly these.
	pinned, err := w.journal.Ensure(job.ID, serialized)
	if err != nil {
		w.logger.Error("payload journal unavailable, using freshly built bytes", "job_id", job.ID, "err", err)
		pinned = serialized
	}

	result, err := w.ledger.Submit(ctx, pinned, w.opts.Datatype, w.opts.Handle)
	if err != nil {
		w.handleFailure(ctx, job, err.Error())
		return
	}

	if repoErr := w.repo.MarkConfirmed(job.ID, result.TxRef, result.ObjectRef); repoErr != nil {
		// The ledger write landed but the status write did not. Leave the
		// claim for the reaper; redelivery resubmits the pinned bytes and
		// retries the confirm.
		w.logger.Error("confirm write failed, leaving claim for redelivery", "job_id", job.ID, "err", repoErr)
		return
	}

	if err := w.journal.Forget(job.ID); err != nil {
		w.logger.Error("journal cleanup failed", "job_id", job.ID, "err", err)
	}
	w.ack(ctx, job)
	w.logger.Info("proof confirmed", "job_id", job.ID, "tx_ref", result.TxRef, "attempt", job.Attempt)
}

// handleFailure records the attempt error and either requeues the job with
// the attempt counter incremented or, once attempts are exhausted, marks it
// terminally failed.
func (w *Worker) handleFailure(ctx context.Context, job *queue.Job, cause string) {
	if repoErr := w.repo.SetLastError(job.ID, cause); repoErr != nil {
		w.logger.Error("recording attempt error failed", "job_id", job.ID, "err", repoErr)
	}

	if job.Attempt < w.opts.MaxAttempts {
		w.logger.Info("attempt failed, requeueing", "job_id", job.ID, "attempt", job.Attempt, "err", cause)
		// Requeue atomically enqueues the incremented envelope and
		// releases the current claim.
		if err := w.queue.Requeue(ctx, job); err != nil {
			w.logger.Error("requeue failed, leaving claim for reaper", "job_id", job.ID, "err", err)
		}
		return
	}

	if repoErr := w.repo.MarkFailed(job.ID, cause); repoErr != nil {
		// Leave the claim unacked; redelivery retries the terminal write.
		w.logger.Error("terminal status write failed, leaving claim for redelivery", "job_id", job.ID, "err", repoErr)
		return
	}
	if err := w.journal.Forget(job.ID); err != nil {
		w.logger.Error("journal cleanup failed", "job_id", job.ID, "err", err)
	}
	w.ack(ctx, job)
}

func (w *Worker) ack(ctx context.Context, job *queue.Job) {
	if err := w.queue.Ack(ctx, job); err != nil {
		w.logger.Error("ack failed, reaper will redeliver", "job_id", job.ID, "err", err)
	}
}
