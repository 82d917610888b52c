package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examprep/internal/config"
	"github.com/stemsi/examprep/internal/model"
)

const (
	InvalidationBatchSize    = 50
	InvalidationBatchTimeout = 500 * time.Millisecond
	InvalidationPollTimeout  = 1 * time.Second
)

// InvalidationWorker consumes the invalidation queue, drops the cached
// collections each invalidation names and relays it on the user's pub/sub
// channel.
type InvalidationWorker struct {
	rdb *redis.Client
	log zerolog.Logger
}

func NewInvalidationWorker(rdb *redis.Client, log zerolog.Logger) *InvalidationWorker {
	return &InvalidationWorker{
		rdb: rdb,
		log: log.With().Str("component", "invalidation_worker").Logger(),
	}
}

type queuedInvalidation struct {
	raw string
	inv model.Invalidation
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

// Start runs until ctx is cancelled. Call in a goroutine.
func (w *InvalidationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("InvalidationWorker started")

	batch := make([]queuedInvalidation, 0, InvalidationBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= InvalidationBatchSize || time.Since(lastFlush) >= InvalidationBatchTimeout) {
			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, InvalidationPollTimeout, config.WorkerKey.InvalidationQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}
			if len(item) < 2 {
				continue
			}

			var inv model.Invalidation
			if err := json.Unmarshal([]byte(item[1]), &inv); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}
			batch = append(batch, queuedInvalidation{raw: item[1], inv: inv})
		}
	}
}

// ----------------------------------------------------------------
// Flush: one pipeline of DELs and PUBLISHes per batch
// ----------------------------------------------------------------

func (w *InvalidationWorker) flushSafe(ctx context.Context, batch []queuedInvalidation) {
	if len(batch) == 0 {
		return
	}

	if err := w.flush(ctx, batch); err != nil {
		w.log.Error().Err(err).Int("count", len(batch)).Msg("Invalidation flush failed, requeueing")
		pipe := w.rdb.Pipeline()
		for _, q := range batch {
			pipe.RPush(ctx, config.WorkerKey.InvalidationQueue, q.raw)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			w.log.Error().Err(err).Msg("Requeue failed, invalidations dropped")
		}
		return
	}

	w.log.Debug().Int("count", len(batch)).Msg("Invalidations fanned out")
}

func (w *InvalidationWorker) flush(ctx context.Context, batch []queuedInvalidation) error {
	pipe := w.rdb.Pipeline()
	for _, q := range batch {
		if keys := CacheKeysFor(q.inv); len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		pipe.Publish(ctx, config.CacheKey.UserInvalidationChannel(q.inv.UserID), q.raw)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// CacheKeysFor maps the collections of an invalidation to the Redis keys
// that cache them.
func CacheKeysFor(inv model.Invalidation) []string {
	keys := make([]string, 0, len(inv.Collections))
	for _, c := range inv.Collections {
		switch c {
		case model.CollectionUserExams:
			keys = append(keys, config.CacheKey.UserExamListKey(inv.UserID))
		case model.CollectionUserResults:
			keys = append(keys, config.CacheKey.UserResultsKey(inv.UserID))
		case model.CollectionExamListing:
			keys = append(keys, config.CacheKey.PublishedExamsKey())
		case model.CollectionDashboard:
			keys = append(keys, config.CacheKey.UserDashboardKey(inv.UserID))
		case model.CollectionLeaderboard:
			keys = append(keys, config.CacheKey.ExamLeaderboardKey(inv.ExamID.String()))
		}
	}
	return keys
}
