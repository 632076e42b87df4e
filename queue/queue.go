package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/redis/go-redis/v9"

	"github.com/parlaygorilla/proofd/payload"
)

// claimBlock bounds each blocking pop so the consumer loop can observe
// context cancellation between claims.
const claimBlock = 5 * time.Second

// Job is the queue envelope around a proof request. Attempt is 1 on first
// delivery and is incremented by Requeue.
type Job struct {
	payload.ProofRequest
	Attempt int `json:"attempt"`

	raw string
}

// Raw returns the exact list element this job was claimed as.
func (j *Job) Raw() string {
	return j.raw
}

// Consumer claims one job at a time with crash-safe visibility semantics.
// A claim atomically moves the element from the primary list to
// <queue>:processing, so a crash between claim and ack leaves the job
// visibly in flight for the reaper instead of silently lost.
type Consumer struct {
	rdb           *redis.Client
	queueKey      string
	processingKey string
	visibility    time.Duration
	logger        cmtlog.Logger
}

func NewConsumer(rdb *redis.Client, queueKey string, visibility time.Duration, logger cmtlog.Logger) *Consumer {
	return &Consumer{
		rdb:           rdb,
		queueKey:      queueKey,
		processingKey: queueKey + ":processing",
		visibility:    visibility,
		logger:        logger,
	}
}

func (c *Consumer) claimKey(id string) string {
	return c.queueKey + ":claim:" + id
}

// Claim blocks for up to claimBlock waiting for a job. It returns nil, nil
// when the wait elapses with the queue empty.
func (c *Consumer) Claim(ctx context.Context) (*Job, error) {
	raw, err := c.rdb.BLMove(ctx, c.queueKey, c.processingKey, "RIGHT", "LEFT", claimBlock).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("claiming job: %w", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// A malformed element would wedge the processing list forever;
		// drop it and surface the problem.
		c.logger.Error("dropping malformed queue element", "queue", c.queueKey)
		if remErr := c.rdb.LRem(ctx, c.processingKey, 1, raw).Err(); remErr != nil {
			c.logger.Error("removing malformed queue element failed", "queue", c.queueKey, "err", remErr)
		}
		return nil, fmt.Errorf("discarding malformed job element: %w", err)
	}
	if job.Attempt == 0 {
		job.Attempt = 1
	}
	job.raw = raw

	// The claim marker's TTL is the visibility deadline the reaper checks.
	if err := c.rdb.Set(ctx, c.claimKey(job.ID), "1", c.visibility).Err(); err != nil {
		return nil, fmt.Errorf("setting claim marker: %w", err)
	}
	return &job, nil
}

// Ack removes the claimed element from the processing list. Call only after
// the attempt reached a terminal outcome for this delivery.
func (c *Consumer) Ack(ctx context.Context, job *Job) error {
	pipe := c.rdb.TxPipeline()
	pipe.LRem(ctx, c.processingKey, 1, job.raw)
	pipe.Del(ctx, c.claimKey(job.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("acking job %s: %w", job.ID, err)
	}
	return nil
}

// Requeue pushes the job back onto the primary queue with the attempt
// counter incremented and releases the current claim, all in one MULTI/EXEC
// so the job is never both absent and unclaimed.
func (c *Consumer) Requeue(ctx context.Context, job *Job) error {
	next := *job
	next.Attempt = job.Attempt + 1
	nextRaw, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("marshaling requeued job %s: %w", job.ID, err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, c.queueKey, string(nextRaw))
	pipe.LRem(ctx, c.processingKey, 1, job.raw)
	pipe.Del(ctx, c.claimKey(job.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("requeueing job %s: %w", job.ID, err)
	}
	return nil
}
