package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examprep/internal/model"
)

type memStatusStore struct {
	mu      sync.Mutex
	exams   []model.Exam
	updates []model.ScheduleStatus
}

func (s *memStatusStore) ListPublished(ctx context.Context) ([]model.Exam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Exam, len(s.exams))
	copy(out, s.exams)
	return out, nil
}

func (s *memStatusStore) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ScheduleStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.exams {
		if s.exams[i].ID == id {
			s.exams[i].Status = status
		}
	}
	s.updates = append(s.updates, status)
	return nil
}

type countingInvalidator struct {
	mu    sync.Mutex
	calls int
}

func (c *countingInvalidator) InvalidateSchedules(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return 0, nil
}

type recordingWarmer struct {
	warmed []uuid.UUID
}

func (r *recordingWarmer) GetPayload(ctx context.Context, examID uuid.UUID) (*model.ExamForTaking, error) {
	r.warmed = append(r.warmed, examID)
	return &model.ExamForTaking{}, nil
}

func TestStatusWorkerSync(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

	exam := model.Exam{
		ID:        uuid.New(),
		ExamDate:  "2026-03-02",
		StartTime: "09:00",
		EndTime:   "11:00",
		Status:    model.ScheduleUpcoming,
	}
	store := &memStatusStore{exams: []model.Exam{exam}}
	listings := &countingInvalidator{}
	warmer := &recordingWarmer{}
	w := NewStatusWorker(store, listings, warmer, mock, time.UTC, time.Minute, zerolog.Nop())
	ctx := context.Background()

	moved, err := w.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(moved) != 1 || moved[0].From != model.ScheduleUpcoming || moved[0].To != model.ScheduleLive {
		t.Fatalf("transitions = %+v", moved)
	}
	if store.exams[0].Status != model.ScheduleLive {
		t.Errorf("persisted status = %s", store.exams[0].Status)
	}
	if listings.calls != 1 || len(warmer.warmed) != 1 || warmer.warmed[0] != exam.ID {
		t.Errorf("invalidations = %d, warmed = %v", listings.calls, warmer.warmed)
	}

	if moved, _ := w.Sync(ctx); len(moved) != 0 {
		t.Fatalf("unchanged pass reported %+v", moved)
	}
	if listings.calls != 1 {
		t.Errorf("unchanged pass invalidated listings")
	}

	mock.Add(61 * time.Minute)
	moved, _ = w.Sync(ctx)
	if len(moved) != 1 || moved[0].To != model.ScheduleEnded {
		t.Fatalf("transitions = %+v", moved)
	}
	if listings.calls != 2 || len(warmer.warmed) != 1 {
		t.Errorf("invalidations = %d, warmed = %d", listings.calls, len(warmer.warmed))
	}
	if len(store.updates) != 2 {
		t.Errorf("updates = %v", store.updates)
	}
}

func TestStatusWorkerNilWarmer(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	store := &memStatusStore{exams: []model.Exam{{
		ID: uuid.New(), ExamDate: "2026-03-02", StartTime: "09:00", EndTime: "11:00",
	}}}
	w := NewStatusWorker(store, &countingInvalidator{}, nil, mock, time.UTC, time.Minute, zerolog.Nop())
	if _, err := w.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if store.exams[0].Status != model.ScheduleLive {
		t.Fatalf("status = %s", store.exams[0].Status)
	}
}
