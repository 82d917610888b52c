package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examprep/internal/model"
	"golang.org/x/sync/singleflight"
)

// Gateway is the remote exam API the session talks to.
type Gateway interface {
	FetchForTaking(ctx context.Context, examID uuid.UUID) (*model.ExamForTaking, error)
	Submit(ctx context.Context, examID uuid.UUID, req model.SubmitRequest) (*model.SubmitResult, error)
}

// Publisher fans an invalidation out to views caching exam or result lists.
type Publisher interface {
	PublishInvalidation(ctx context.Context, inv model.Invalidation) error
}

// Submission is the payload of one terminal submit.
type Submission struct {
	ExamID        uuid.UUID
	UserID        int
	Answers       map[uuid.UUID]int
	AutoSubmitted bool
}

// Outcome is the result of a successful submission.
type Outcome struct {
	ResultID uuid.UUID `json:"result_id"`
	Score    *float64  `json:"score,omitempty"`
	Passed   *bool     `json:"passed,omitempty"`
	// AutoSubmitted is set when the countdown triggered the submit.
	AutoSubmitted bool `json:"auto_submitted"`
	// AlreadySubmitted is set when the server already held a record and the
	// outcome references it.
	AlreadySubmitted bool `json:"already_submitted"`
}

// Message is the text shown to the student once the exam is closed.
func (o Outcome) Message() string {
	switch {
	case o.AlreadySubmitted:
		return "This exam was already submitted. Showing your existing result."
	case o.AutoSubmitted:
		return "Time is up. Your answers were submitted automatically."
	default:
		return "Your exam has been submitted."
	}
}

// Coordinator performs at most one submit call per (exam, user). Concurrent
// calls share one request and a completed outcome is returned to later
// callers without contacting the server again.
type Coordinator struct {
	gateway   Gateway
	publisher Publisher
	clk       clock.Clock
	log       zerolog.Logger

	group singleflight.Group
	mu    sync.Mutex
	done  map[string]Outcome
}

// NewCoordinator creates a Coordinator. publisher may be nil.
func NewCoordinator(gateway Gateway, publisher Publisher, clk clock.Clock, log zerolog.Logger) *Coordinator {
	if clk == nil {
		clk = clock.New()
	}
	return &Coordinator{
		gateway:   gateway,
		publisher: publisher,
		clk:       clk,
		log:       log.With().Str("component", "submission_coordinator").Logger(),
		done:      make(map[string]Outcome),
	}
}

func submissionKey(examID uuid.UUID, userID int) string {
	return fmt.Sprintf("%s:%d", examID, userID)
}

// Submit sends sub unless an outcome for the same (exam, user) is already known.
// Failures are *SubmitError.
func (c *Coordinator) Submit(ctx context.Context, sub Submission) (Outcome, error) {
	key := submissionKey(sub.ExamID, sub.UserID)
	if out, ok := c.completed(key); ok {
		return out, nil
	}

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		if out, ok := c.completed(key); ok {
			return out, nil
		}
		return c.send(ctx, key, sub)
	})
	if shared {
		c.log.Debug().Str("key", key).Msg("Submit collapsed into in-flight request")
	}
	if err != nil {
		return Outcome{}, err
	}
	return v.(Outcome), nil
}

// Completed returns the known outcome for (exam, user).
func (c *Coordinator) Completed(examID uuid.UUID, userID int) (Outcome, bool) {
	return c.completed(submissionKey(examID, userID))
}

func (c *Coordinator) completed(key string) (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, ok := c.done[key]
	return out, ok
}

func (c *Coordinator) send(ctx context.Context, key string, sub Submission) (Outcome, error) {
	log := c.log.With().
		Str("exam_id", sub.ExamID.String()).
		Int("user_id", sub.UserID).
		Bool("auto", sub.AutoSubmitted).
		Logger()

	res, err := c.gateway.Submit(ctx, sub.ExamID, model.SubmitRequest{
		UserID:  sub.UserID,
		Answers: sub.Answers,
	})

	var out Outcome
	switch {
	case err == nil:
		if res == nil || res.ResultID == uuid.Nil {
			return Outcome{}, &SubmitError{Reason: "server returned no result id", Retryable: true}
		}
		out = Outcome{ResultID: res.ResultID, Score: res.Score, Passed: res.Passed}

	case errors.Is(err, ErrDuplicateSubmission):
		id, ferr := c.existingResult(ctx, sub.ExamID, err)
		if ferr != nil {
			log.Warn().Err(ferr).Msg("Duplicate submission but existing result unavailable")
			return Outcome{}, ferr
		}
		out = Outcome{ResultID: id, AlreadySubmitted: true}
		log.Info().Str("result_id", id.String()).Msg("Exam already submitted, using existing result")

	case errors.Is(err, ErrSubmissionRejected):
		log.Error().Err(err).Msg("Submission rejected")
		return Outcome{}, &SubmitError{Reason: "submission rejected", Err: err}

	default:
		log.Warn().Err(err).Msg("Submission failed")
		return Outcome{}, &SubmitError{Reason: "submission failed", Retryable: true, Err: err}
	}

	out.AutoSubmitted = sub.AutoSubmitted

	c.mu.Lock()
	c.done[key] = out
	c.mu.Unlock()

	log.Info().Str("result_id", out.ResultID.String()).Int("answered", len(sub.Answers)).Msg("Exam submitted")

	c.broadcast(ctx, sub, out.ResultID)
	return out, nil
}

// existingResult resolves the result id of a duplicate, re-fetching the
// exam when the duplicate response did not carry it.
func (c *Coordinator) existingResult(ctx context.Context, examID uuid.UUID, dupErr error) (uuid.UUID, error) {
	var dup *DuplicateSubmissionError
	if errors.As(dupErr, &dup) && dup.ResultID != uuid.Nil {
		return dup.ResultID, nil
	}

	payload, err := c.gateway.FetchForTaking(ctx, examID)
	if err != nil {
		return uuid.Nil, &SubmitError{Reason: "fetch existing result", Retryable: true, Err: err}
	}
	if payload == nil || !payload.HasSubmitted || payload.ResultID == nil || *payload.ResultID == uuid.Nil {
		return uuid.Nil, &SubmitError{Reason: "server reported a duplicate without a result", Err: dupErr}
	}
	return *payload.ResultID, nil
}

func (c *Coordinator) broadcast(ctx context.Context, sub Submission, resultID uuid.UUID) {
	if c.publisher == nil {
		return
	}
	inv := model.NewSubmissionInvalidation(sub.UserID, sub.ExamID, resultID, c.clk.Now())
	if err := c.publisher.PublishInvalidation(ctx, inv); err != nil {
		c.log.Warn().Err(err).Str("exam_id", sub.ExamID.String()).Msg("Invalidation publish failed")
	}
}
