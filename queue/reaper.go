package queue

import (
	"context"
	"encoding/json"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/redis/go-redis/v9"
)

// Reaper returns jobs stuck on the processing list to the primary queue. An
// entry is stuck when its claim marker has expired, which means the worker
// that claimed it died before acking. A live claim always has a marker, so
// at most one active attempt per job id exists at any time.
//
// An entry is only returned after it has been seen without a marker on two
// consecutive sweeps. A consumer writes the marker just after the claim
// move, so a single markerless observation can be a claim still being set
// up; one full sweep interval of grace rules that out.
type Reaper struct {
	rdb           *redis.Client
	queueKey      string
	processingKey string
	logger        cmtlog.Logger

	suspects map[string]bool
}

func NewReaper(rdb *redis.Client, queueKey string, logger cmtlog.Logger) *Reaper {
	return &Reaper{
		rdb:           rdb,
		queueKey:      queueKey,
		processingKey: queueKey + ":processing",
		logger:        logger,
		suspects:      make(map[string]bool),
	}
}

// Sweep scans the processing list once and requeues every entry past its
// visibility deadline. Returns the number of entries returned to the queue.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	entries, err := r.rdb.LRange(ctx, r.processingKey, 0, -1).Result()
	if err != nil {
		return 0, err
	}

	returned := 0
	nextSuspects := make(map[string]bool)
	for _, raw := range entries {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			r.logger.Error("dropping malformed processing entry", "err", err)
			r.rdb.LRem(ctx, r.processingKey, 1, raw)
			continue
		}

		alive, err := r.rdb.Exists(ctx, r.queueKey+":claim:"+job.ID).Result()
		if err != nil {
			r.suspects = nextSuspects
			return returned, err
		}
		if alive > 0 {
			continue
		}

		if !r.suspects[raw] {
			// First markerless sighting; give the claim one interval to
			// finish writing its marker.
			nextSuspects[raw] = true
			continue
		}

		pipe := r.rdb.TxPipeline()
		pipe.LRem(ctx, r.processingKey, 1, raw)
		pipe.LPush(ctx, r.queueKey, raw)
		if _, err := pipe.Exec(ctx); err != nil {
			r.suspects = nextSuspects
			return returned, err
		}
		returned++
		r.logger.Error("returned stuck job to queue", "job_id", job.ID, "attempt", job.Attempt)
	}
	r.suspects = nextSuspects
	return returned, nil
}

// Run sweeps on the given interval until the context is canceled.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("reaper sweep failed", "err", err)
			}
		}
	}
}
