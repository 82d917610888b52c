package session

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/examprep/internal/model"
)

var errNetwork = errors.New("connection reset by peer")

// fakeGateway is an in-memory exam API. Result ids are derived from the
// submitted answers so identical payloads yield identical results.
type fakeGateway struct {
	mu         sync.Mutex
	payload    *model.ExamForTaking
	fetchErr   error
	fetches    int
	submits    []model.SubmitRequest
	submitErrs []error
	result     *model.SubmitResult

	// When block is non-nil Submit signals entered and waits for block.
	block   chan struct{}
	entered chan struct{}
}

func (g *fakeGateway) FetchForTaking(ctx context.Context, examID uuid.UUID) (*model.ExamForTaking, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	return g.payload, nil
}

func (g *fakeGateway) Submit(ctx context.Context, examID uuid.UUID, req model.SubmitRequest) (*model.SubmitResult, error) {
	g.mu.Lock()
	g.submits = append(g.submits, req)
	var err error
	if len(g.submitErrs) > 0 {
		err, g.submitErrs = g.submitErrs[0], g.submitErrs[1:]
	}
	block, entered := g.block, g.entered
	g.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	if g.result != nil {
		return g.result, nil
	}
	return &model.SubmitResult{ResultID: resultFor(examID, req.Answers)}, nil
}

func (g *fakeGateway) submitCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.submits)
}

func (g *fakeGateway) lastSubmit() model.SubmitRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.submits[len(g.submits)-1]
}

func resultFor(examID uuid.UUID, answers map[uuid.UUID]int) uuid.UUID {
	keys := make([]string, 0, len(answers))
	for k, v := range answers {
		keys = append(keys, fmt.Sprintf("%s=%d", k, v))
	}
	slices.Sort(keys)
	h := sha1.New()
	fmt.Fprint(h, examID.String(), keys)
	return uuid.NewSHA1(uuid.NameSpaceOID, h.Sum(nil))
}

type recordingPublisher struct {
	mu   sync.Mutex
	invs []model.Invalidation
	err  error
}

func (p *recordingPublisher) PublishInvalidation(ctx context.Context, inv model.Invalidation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invs = append(p.invs, inv)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.invs)
}

func newPayload(examID uuid.UUID, questions, minutes int) *model.ExamForTaking {
	p := &model.ExamForTaking{
		Exam: model.ExamSummary{
			ID:              examID,
			Title:           "Physics Mock Test",
			DurationMinutes: minutes,
			TotalMarks:      float64(questions),
		},
	}
	for i := 0; i < questions; i++ {
		p.Questions = append(p.Questions, model.QuestionForStudent{
			ID:       uuid.New(),
			Prompt:   fmt.Sprintf("Question %d", i+1),
			Options:  []string{"A", "B", "C", "D"},
			Marks:    1,
			OrderNum: i + 1,
		})
	}
	return p
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session not submitted, state %s", c.State())
	}
}
