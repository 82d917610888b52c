package worker

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examprep/internal/model"
	"github.com/stemsi/examprep/internal/schedule"
)

// StatusStore persists resolved statuses. *repository.ExamRepository
// implements it.
type StatusStore interface {
	ListPublished(ctx context.Context) ([]model.Exam, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.ScheduleStatus) error
}

// ListingInvalidator drops cached listings. *service.LobbyService implements it.
type ListingInvalidator interface {
	InvalidateSchedules(ctx context.Context) (int, error)
}

// PayloadWarmer loads an exam's taking payload into the cache.
// *service.ExamService implements it.
type PayloadWarmer interface {
	GetPayload(ctx context.Context, examID uuid.UUID) (*model.ExamForTaking, error)
}

// StatusWorker keeps the persisted exam status in step with the clock.
// Every transition is written back, listing caches are dropped and exams
// going live get their payload warmed.
type StatusWorker struct {
	store     StatusStore
	listings  ListingInvalidator
	warmer    PayloadWarmer
	refresher *schedule.Refresher
	log       zerolog.Logger
}

// NewStatusWorker creates a StatusWorker. warmer may be nil.
func NewStatusWorker(store StatusStore, listings ListingInvalidator, warmer PayloadWarmer, clk clock.Clock, loc *time.Location, interval time.Duration, log zerolog.Logger) *StatusWorker {
	w := &StatusWorker{
		store:    store,
		listings: listings,
		warmer:   warmer,
		log:      log.With().Str("component", "status_worker").Logger(),
	}
	w.refresher = schedule.NewRefresher(clk, loc, interval, store.ListPublished, w.apply, log)
	return w
}

// Start syncs once, then on every interval until ctx is cancelled.
func (w *StatusWorker) Start(ctx context.Context) error {
	if _, err := w.Sync(ctx); err != nil {
		w.log.Error().Err(err).Msg("Initial status sync failed")
	}
	return w.refresher.Start(ctx)
}

// Stop halts the schedule.
func (w *StatusWorker) Stop() {
	w.refresher.Stop()
}

// Sync runs one pass and returns the transitions it applied.
func (w *StatusWorker) Sync(ctx context.Context) ([]schedule.Transition, error) {
	return w.refresher.Refresh(ctx)
}

func (w *StatusWorker) apply(ctx context.Context, transitions []schedule.Transition) {
	for _, t := range transitions {
		if err := w.store.UpdateStatus(ctx, t.ExamID, t.To); err != nil {
			w.log.Error().Err(err).Str("exam_id", t.ExamID.String()).Msg("Persist status failed")
			continue
		}
		w.log.Info().
			Str("exam_id", t.ExamID.String()).
			Str("from", string(t.From)).
			Str("to", string(t.To)).
			Msg("Exam status changed")

		if t.To == model.ScheduleLive && w.warmer != nil {
			if _, err := w.warmer.GetPayload(ctx, t.ExamID); err != nil {
				w.log.Warn().Err(err).Str("exam_id", t.ExamID.String()).Msg("Warm payload failed")
			}
		}
	}

	n, err := w.listings.InvalidateSchedules(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("Invalidate listings failed")
		return
	}
	w.log.Debug().Int("keys", n).Msg("Listing caches dropped")
}
