package schedule

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/stemsi/examprep/internal/model"
)

// Transition is a status change observed between two refreshes.
type Transition struct {
	ExamID uuid.UUID            `json:"exam_id"`
	From   model.ScheduleStatus `json:"from"`
	To     model.ScheduleStatus `json:"to"`
}

// SourceFunc lists the exams to re-evaluate.
type SourceFunc func(ctx context.Context) ([]model.Exam, error)

// TransitionFunc receives the transitions of one refresh. It is not called
// when nothing changed.
type TransitionFunc func(ctx context.Context, transitions []Transition)

// Refresher re-resolves exam statuses on a fixed interval and reports the
// exams whose status moved.
type Refresher struct {
	clk      clock.Clock
	loc      *time.Location
	interval time.Duration
	source   SourceFunc
	onChange TransitionFunc
	log      zerolog.Logger

	mu   sync.Mutex
	last map[uuid.UUID]model.ScheduleStatus
	cron *cron.Cron
}

// NewRefresher creates a Refresher. A nil clk uses the wall clock.
func NewRefresher(clk clock.Clock, loc *time.Location, interval time.Duration, source SourceFunc, onChange TransitionFunc, log zerolog.Logger) *Refresher {
	if clk == nil {
		clk = clock.New()
	}
	if loc == nil {
		loc = time.UTC
	}
	if interval < time.Second {
		interval = time.Minute
	}
	return &Refresher{
		clk:      clk,
		loc:      loc,
		interval: interval,
		source:   source,
		onChange: onChange,
		log:      log.With().Str("component", "schedule_refresher").Logger(),
		last:     make(map[uuid.UUID]model.ScheduleStatus),
	}
}

// Refresh runs one evaluation pass. The first time an exam is seen its
// persisted status is the baseline, so a stale persisted status surfaces as
// a transition.
func (r *Refresher) Refresh(ctx context.Context) ([]Transition, error) {
	exams, err := r.source(ctx)
	if err != nil {
		return nil, err
	}

	now := r.clk.Now().In(r.loc)

	r.mu.Lock()
	var transitions []Transition
	seen := make(map[uuid.UUID]model.ScheduleStatus, len(exams))
	for _, exam := range exams {
		res := Resolve(exam, now)
		seen[exam.ID] = res.Status

		prev, ok := r.last[exam.ID]
		if !ok {
			prev = exam.Status
		}
		if prev != res.Status {
			transitions = append(transitions, Transition{ExamID: exam.ID, From: prev, To: res.Status})
		}
	}
	r.last = seen
	r.mu.Unlock()

	if len(transitions) > 0 && r.onChange != nil {
		r.onChange(ctx, transitions)
	}
	return transitions, nil
}

// Start schedules Refresh every interval until ctx is cancelled or Stop is called.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return errors.New("refresher already started")
	}

	r.cron = cron.New(
		cron.WithLocation(r.loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	r.cron.Schedule(cron.Every(r.interval), cron.FuncJob(func() {
		if _, err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
			r.log.Error().Err(err).Msg("Schedule refresh failed")
		}
	}))
	r.cron.Start()

	go func() {
		<-ctx.Done()
		r.Stop()
	}()

	r.log.Info().Dur("interval", r.interval).Msg("Schedule refresher started")
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}
