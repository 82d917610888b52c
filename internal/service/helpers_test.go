package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/examprep/internal/model"
	"github.com/stemsi/examprep/internal/repository"
)

// testNow is 10:00 UTC on the day of the live fixture exam.
var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type memExams struct {
	mu       sync.Mutex
	exams    map[uuid.UUID]model.Exam
	listings int
	updates  map[uuid.UUID]model.ScheduleStatus
}

func newMemExams(exams ...model.Exam) *memExams {
	m := &memExams{exams: map[uuid.UUID]model.Exam{}, updates: map[uuid.UUID]model.ScheduleStatus{}}
	for _, e := range exams {
		m.exams[e.ID] = e
	}
	return m
}

func (m *memExams) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &e, nil
}

func (m *memExams) ListPublished(ctx context.Context) ([]model.Exam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings++
	out := make([]model.Exam, 0, len(m.exams))
	for _, e := range m.exams {
		out = append(out, e)
	}
	return out, nil
}

func (m *memExams) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ScheduleStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.exams[id]
	e.Status = status
	m.exams[id] = e
	m.updates[id] = status
	return nil
}

type memQuestions struct {
	mu    sync.Mutex
	byID  map[uuid.UUID][]model.Question
	calls int
}

func (m *memQuestions) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.byID[examID], nil
}

type memSubmissions struct {
	mu      sync.Mutex
	records []model.SubmissionRecord
	// conflictWith is inserted by Create in place of the caller's record,
	// simulating a concurrent submit that won the unique constraint.
	conflictWith *model.SubmissionRecord
}

func (m *memSubmissions) GetByExamAndUser(ctx context.Context, examID uuid.UUID, userID int) (*model.SubmissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ExamID == examID && r.UserID == userID {
			return &r, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memSubmissions) Create(ctx context.Context, rec *model.SubmissionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflictWith != nil {
		m.records = append(m.records, *m.conflictWith)
		m.conflictWith = nil
	}
	for _, r := range m.records {
		if r.ExamID == rec.ExamID && r.UserID == rec.UserID {
			return repository.ErrDuplicateSubmission
		}
	}
	rec.ID = uuid.New()
	rec.SubmittedAt = testNow
	m.records = append(m.records, *rec)
	return nil
}

func (m *memSubmissions) ListByUser(ctx context.Context, userID int) ([]model.SubmissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SubmissionRecord
	for _, r := range m.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memSubmissions) TopByExam(ctx context.Context, examID uuid.UUID, limit int) ([]model.LeaderboardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.LeaderboardEntry
	for _, r := range m.records {
		if r.ExamID == examID && len(out) < limit {
			out = append(out, model.LeaderboardEntry{Rank: len(out) + 1, UserID: r.UserID, Score: r.Score, Passed: r.Passed})
		}
	}
	return out, nil
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func newTestClock() *clock.Mock {
	mock := clock.NewMock()
	mock.Set(testNow)
	return mock
}

func fixtureExam(date, start, end string) model.Exam {
	return model.Exam{
		ID:              uuid.New(),
		Title:           "Biology " + start,
		ExamDate:        date,
		StartTime:       start,
		EndTime:         end,
		DurationMinutes: 30,
		TotalMarks:      3,
		Settings:        model.ExamSettings{PassMarks: 2},
		Status:          model.ScheduleUpcoming,
	}
}

func fixtureQuestions(examID uuid.UUID, n int) []model.Question {
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{
			ID:            uuid.New(),
			ExamID:        examID,
			Prompt:        "Which organelle?",
			Options:       []string{"Nucleus", "Ribosome", "Mitochondrion", "Vacuole"},
			CorrectOption: i % model.OptionCount,
			Marks:         1,
			OrderNum:      i + 1,
		}
	}
	return qs
}
