// Package session runs one student's timed attempt at one exam: the
// instructions gate, navigation and answering, the countdown, and the
// single terminal submission.
package session

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examprep/internal/model"
	"github.com/stemsi/examprep/internal/validator"
)

// State is the lifecycle state of a session.
type State int

const (
	StateInstructions State = iota
	StateInProgress
	StateExpired
	StateSubmitting
	StateSubmitted
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateInstructions:
		return "INSTRUCTIONS"
	case StateInProgress:
		return "IN_PROGRESS"
	case StateExpired:
		return "EXPIRED"
	case StateSubmitting:
		return "SUBMITTING"
	case StateSubmitted:
		return "SUBMITTED"
	case StateAbandoned:
		return "ABANDONED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options configures a Controller.
type Options struct {
	ExamID  uuid.UUID
	UserID  int
	Gateway Gateway
	// Coordinator is shared between sessions of the same process so two
	// sessions for one (exam, user) cannot both submit. Built from Gateway
	// and Publisher when nil.
	Coordinator *Coordinator
	Publisher   Publisher
	Clock       clock.Clock
	// Rand drives the one-time question shuffle.
	Rand *rand.Rand
	Log  zerolog.Logger

	// OnTick is called with the remaining seconds after every countdown tick.
	OnTick func(remaining int)
	// OnSubmitted is called once the session reaches Submitted.
	OnSubmitted func(Outcome)
	// OnSubmitFailed is called when a submit attempt fails and the session
	// falls back to its previous state.
	OnSubmitFailed func(error)
}

// Entry is the result of Load.
type Entry struct {
	// AlreadySubmitted means the exam must not be taken. ResultID references
	// the existing record when the server supplied it.
	AlreadySubmitted bool
	ResultID         *uuid.UUID
	Exam             model.ExamSummary
	QuestionCount    int
}

// QuestionView is the question at the current position.
type QuestionView struct {
	Index    int                      `json:"index"`
	Total    int                      `json:"total"`
	Question model.QuestionForStudent `json:"question"`
	Selected *int                     `json:"selected,omitempty"`
	Flagged  bool                     `json:"flagged"`
}

// PaletteItem is one cell of the question overview.
type PaletteItem struct {
	Index      int       `json:"index"`
	QuestionID uuid.UUID `json:"question_id"`
	Answered   bool      `json:"answered"`
	Flagged    bool      `json:"flagged"`
	Current    bool      `json:"current"`
}

// Controller is the session state machine.
type Controller struct {
	examID      uuid.UUID
	userID      int
	gateway     Gateway
	coordinator *Coordinator
	clk         clock.Clock
	rng         *rand.Rand
	log         zerolog.Logger

	onTick         func(int)
	onSubmitted    func(Outcome)
	onSubmitFailed func(error)

	mu        sync.Mutex
	state     State
	loaded    bool
	entry     Entry
	fatal     error
	exam      model.ExamSummary
	pending   []model.QuestionForStudent
	questions []model.QuestionForStudent
	pos       int
	answers   *AnswerStore
	countdown *Countdown
	deadline  time.Time
	remaining int
	outcome   *Outcome
	lastErr   error
	done      chan struct{}
}

// NewController creates a session in the Instructions state.
func NewController(opts Options) *Controller {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(clk.Now().UnixNano()), uint64(opts.UserID)))
	}
	coord := opts.Coordinator
	if coord == nil {
		coord = NewCoordinator(opts.Gateway, opts.Publisher, clk, opts.Log)
	}

	return &Controller{
		examID:         opts.ExamID,
		userID:         opts.UserID,
		gateway:        opts.Gateway,
		coordinator:    coord,
		clk:            clk,
		rng:            rng,
		onTick:         opts.OnTick,
		onSubmitted:    opts.OnSubmitted,
		onSubmitFailed: opts.OnSubmitFailed,
		log: opts.Log.With().
			Str("component", "exam_session").
			Str("exam_id", opts.ExamID.String()).
			Int("user_id", opts.UserID).
			Logger(),
		state: StateInstructions,
		done:  make(chan struct{}),
	}
}

// Load fetches the exam for taking and applies the entry guard. When a
// submission already exists no question content is kept and the returned
// Entry says so; that is not an error. A malformed payload is fatal.
func (c *Controller) Load(ctx context.Context) (Entry, error) {
	c.mu.Lock()
	switch {
	case c.fatal != nil:
		err := c.fatal
		c.mu.Unlock()
		return Entry{}, err
	case c.loaded:
		entry := c.entry
		c.mu.Unlock()
		return entry, nil
	case c.state != StateInstructions:
		c.mu.Unlock()
		return Entry{}, ErrAbandoned
	}
	c.mu.Unlock()

	payload, err := c.gateway.FetchForTaking(ctx, c.examID)
	if err != nil {
		return Entry{}, fmt.Errorf("fetch exam: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.fatal != nil:
		return Entry{}, c.fatal
	case c.state != StateInstructions:
		return Entry{}, ErrAbandoned
	case c.loaded:
		return c.entry, nil
	}

	if payload != nil && payload.HasSubmitted {
		c.loaded = true
		c.entry = Entry{AlreadySubmitted: true, ResultID: payload.ResultID, Exam: payload.Exam}
		c.log.Info().Msg("Exam already submitted, redirecting to result")
		return c.entry, nil
	}

	if err := checkPayload(c.examID, payload); err != nil {
		c.fatal = err
		c.log.Error().Err(err).Msg("Exam payload rejected")
		return Entry{}, err
	}

	c.loaded = true
	c.exam = payload.Exam
	c.pending = payload.Questions
	c.entry = Entry{Exam: payload.Exam, QuestionCount: len(payload.Questions)}
	return c.entry, nil
}

func checkPayload(examID uuid.UUID, p *model.ExamForTaking) error {
	if p == nil {
		return &IntegrityError{Problems: []string{"empty response"}}
	}

	var problems []string
	if err := validator.Struct(p); err != nil {
		for field, msg := range validator.StructErrors(err) {
			problems = append(problems, field+": "+msg)
		}
	}
	if p.Exam.ID != examID {
		problems = append(problems, "exam id does not match the requested exam")
	}
	if len(p.Questions) == 0 {
		problems = append(problems, "exam has no questions")
	}
	seen := make(map[uuid.UUID]struct{}, len(p.Questions))
	for i, q := range p.Questions {
		if q.ID == uuid.Nil {
			problems = append(problems, fmt.Sprintf("question %d has no id", i+1))
			continue
		}
		if _, dup := seen[q.ID]; dup {
			problems = append(problems, fmt.Sprintf("question %s appears twice", q.ID))
		}
		seen[q.ID] = struct{}{}
	}

	if len(problems) > 0 {
		return &IntegrityError{Problems: problems}
	}
	return nil
}

// Begin leaves the instructions screen: the question order is fixed and the
// countdown starts now.
func (c *Controller) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.fatal != nil:
		return c.fatal
	case c.state == StateAbandoned:
		return ErrAbandoned
	case c.state != StateInstructions:
		return ErrNotInProgress
	case !c.loaded:
		return ErrNotLoaded
	case c.entry.AlreadySubmitted:
		return ErrAlreadySubmitted
	}

	order := make([]model.QuestionForStudent, len(c.pending))
	copy(order, c.pending)
	if c.exam.Settings.ShuffleQuestions {
		c.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	c.questions = order
	c.pending = nil
	c.pos = 0
	c.answers = NewAnswerStore(order)

	total := time.Duration(c.exam.DurationMinutes) * time.Minute
	c.deadline = c.clk.Now().Add(total)
	c.remaining = int(total / time.Second)
	c.state = StateInProgress
	c.startCountdownLocked()

	c.log.Info().
		Int("questions", len(order)).
		Int("duration_seconds", c.remaining).
		Bool("shuffled", c.exam.Settings.ShuffleQuestions).
		Msg("Exam session started")
	return nil
}

func (c *Controller) startCountdownLocked() {
	c.countdown = NewCountdown(c.clk, c.deadline, c.handleTick, c.handleExpire)
	c.countdown.Start()
}

func (c *Controller) stopCountdownLocked() {
	if c.countdown != nil {
		c.countdown.Stop()
		c.countdown = nil
	}
}

func (c *Controller) handleTick(remaining int) {
	c.mu.Lock()
	if c.state != StateInProgress {
		c.mu.Unlock()
		return
	}
	if remaining < c.remaining {
		c.remaining = remaining
	}
	fn := c.onTick
	c.mu.Unlock()

	if fn != nil {
		fn(remaining)
	}
}

func (c *Controller) handleExpire() {
	c.mu.Lock()
	if c.state != StateInProgress {
		c.mu.Unlock()
		return
	}
	c.state = StateExpired
	c.remaining = 0
	c.stopCountdownLocked()
	c.mu.Unlock()

	c.log.Info().Msg("Time is up, submitting automatically")
	_, _ = c.submit(context.Background(), true)
}

// Submit submits the current answers. While a submission is in flight it
// returns ErrSubmissionInFlight; once submitted it returns the same Outcome.
func (c *Controller) Submit(ctx context.Context) (Outcome, error) {
	return c.submit(ctx, false)
}

func (c *Controller) submit(ctx context.Context, auto bool) (Outcome, error) {
	c.mu.Lock()
	switch c.state {
	case StateSubmitted:
		out := *c.outcome
		c.mu.Unlock()
		return out, nil
	case StateSubmitting:
		c.mu.Unlock()
		return Outcome{}, ErrSubmissionInFlight
	case StateInProgress, StateExpired:
	case StateAbandoned:
		c.mu.Unlock()
		return Outcome{}, ErrAbandoned
	default:
		c.mu.Unlock()
		return Outcome{}, ErrNotStarted
	}

	origin := c.state
	c.state = StateSubmitting
	c.stopCountdownLocked()
	sub := Submission{
		ExamID:        c.examID,
		UserID:        c.userID,
		Answers:       c.answers.Snapshot(),
		AutoSubmitted: auto || origin == StateExpired,
	}
	c.mu.Unlock()

	out, err := c.coordinator.Submit(ctx, sub)

	c.mu.Lock()
	if err != nil {
		c.lastErr = err
		c.state = origin
		if origin == StateInProgress {
			// Same deadline: time spent on the failed request is not refunded.
			c.startCountdownLocked()
		}
		fn := c.onSubmitFailed
		c.mu.Unlock()

		c.log.Warn().Err(err).Str("state", origin.String()).Msg("Submit failed, answers kept")
		if fn != nil {
			fn(err)
		}
		return Outcome{}, err
	}

	c.lastErr = nil
	c.state = StateSubmitted
	c.outcome = &out
	close(c.done)
	fn := c.onSubmitted
	c.mu.Unlock()

	if fn != nil {
		fn(out)
	}
	return out, nil
}

// Abandon discards the session without submitting. The countdown stops and
// the answers are dropped. It has no effect once a submission started.
func (c *Controller) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateSubmitting, StateSubmitted, StateAbandoned:
		return
	}
	c.stopCountdownLocked()
	c.state = StateAbandoned
	c.answers = nil
	c.questions = nil
	c.pending = nil
	c.log.Info().Msg("Exam session abandoned")
}

func (c *Controller) requireInProgressLocked() error {
	switch c.state {
	case StateInProgress:
		return nil
	case StateAbandoned:
		return ErrAbandoned
	case StateInstructions:
		return ErrNotStarted
	}
	return ErrNotInProgress
}

// Select chooses option for the current question, replacing any previous choice.
func (c *Controller) Select(option int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireInProgressLocked(); err != nil {
		return err
	}
	return c.answers.Select(c.questions[c.pos].ID, option)
}

// ClearSelection removes the answer of the current question.
func (c *Controller) ClearSelection() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireInProgressLocked(); err != nil {
		return err
	}
	return c.answers.Clear(c.questions[c.pos].ID)
}

// ToggleReview flips the review flag of the current question.
func (c *Controller) ToggleReview() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireInProgressLocked(); err != nil {
		return false, err
	}
	return c.answers.ToggleReview(c.questions[c.pos].ID)
}

// GoTo moves to question index i.
func (c *Controller) GoTo(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireInProgressLocked(); err != nil {
		return err
	}
	if i < 0 || i >= len(c.questions) {
		return ErrOutOfRange
	}
	c.pos = i
	return nil
}

// Next moves to the following question.
func (c *Controller) Next() error {
	return c.GoTo(c.Position() + 1)
}

// Prev moves to the preceding question.
func (c *Controller) Prev() error {
	return c.GoTo(c.Position() - 1)
}

// Position returns the current question index.
func (c *Controller) Position() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

// Current returns the question at the current position. It is available
// from Begin onwards, including after submission for review.
func (c *Controller) Current() (QuestionView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.questions == nil {
		if c.state == StateAbandoned {
			return QuestionView{}, ErrAbandoned
		}
		return QuestionView{}, ErrNotStarted
	}

	q := c.questions[c.pos]
	view := QuestionView{
		Index:    c.pos,
		Total:    len(c.questions),
		Question: q,
		Flagged:  c.answers.Flagged(q.ID),
	}
	if opt, ok := c.answers.Answer(q.ID); ok {
		view.Selected = &opt
	}
	return view, nil
}

// Palette returns the per-question overview in session order.
func (c *Controller) Palette() []PaletteItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := make([]PaletteItem, len(c.questions))
	for i, q := range c.questions {
		_, answered := c.answers.Answer(q.ID)
		items[i] = PaletteItem{
			Index:      i,
			QuestionID: q.ID,
			Answered:   answered,
			Flagged:    c.answers.Flagged(q.ID),
			Current:    i == c.pos,
		}
	}
	return items
}

// ProgressPercent returns answered/total as a percentage.
func (c *Controller) ProgressPercent() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.questions) == 0 {
		return 0
	}
	return float64(c.answers.AnsweredCount()) * 100 / float64(len(c.questions))
}

// Answers returns a copy of the current answers.
func (c *Controller) Answers() map[uuid.UUID]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answers == nil {
		return map[uuid.UUID]int{}
	}
	return c.answers.Snapshot()
}

// Flagged returns the ids of questions flagged for review.
func (c *Controller) Flagged() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answers == nil {
		return nil
	}
	return c.answers.FlaggedIDs()
}

// Remaining returns the seconds left. Before Begin it is the full duration.
func (c *Controller) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateInstructions {
		return c.exam.DurationMinutes * 60
	}
	return c.remaining
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the session reaches Submitted.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Outcome returns the submission outcome once Submitted.
func (c *Controller) Outcome() (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcome == nil {
		return Outcome{}, false
	}
	return *c.outcome, true
}

// LastError returns the error of the most recent failed submit, cleared on success.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Exam returns the exam metadata once loaded.
func (c *Controller) Exam() (model.ExamSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return model.ExamSummary{}, ErrNotLoaded
	}
	return c.entry.Exam, nil
}
