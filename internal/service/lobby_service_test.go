package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examprep/internal/config"
	"github.com/stemsi/examprep/internal/model"
)

func decodeListing(t *testing.T, raw []byte) model.Listing {
	t.Helper()
	var l model.Listing
	if err := json.Unmarshal(raw, &l); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	return l
}

func titles(l model.Listing) []string {
	out := make([]string, len(l.Exams))
	for i, e := range l.Exams {
		out[i] = e.Title
	}
	return out
}

func TestScheduleOrderingAndCache(t *testing.T) {
	_, rdb := newTestRedis(t)
	live := fixtureExam("2026-03-02", "09:00", "11:00")
	later := fixtureExam("2026-03-02", "12:00", "13:00")
	sooner := fixtureExam("2026-03-02", "11:30", "12:00")
	ended := fixtureExam("2026-03-01", "09:00", "11:00")
	exams := newMemExams(live, later, sooner, ended)
	subs := &memSubmissions{}
	svc := NewLobbyService(exams, subs, rdb, newTestClock(), time.UTC, time.Minute, zerolog.Nop())
	ctx := context.Background()

	raw, err := svc.Schedule(ctx, 1)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	got := titles(decodeListing(t, raw))
	want := []string{live.Title, sooner.Title, later.Title}
	if len(got) != len(want) {
		t.Fatalf("schedule = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("schedule = %v, want %v", got, want)
		}
	}

	// Served from cache until invalidated.
	extra := fixtureExam("2026-03-02", "10:30", "12:00")
	exams.exams[extra.ID] = extra
	raw, _ = svc.Schedule(ctx, 1)
	if n := len(decodeListing(t, raw).Exams); n != 3 {
		t.Fatalf("cached schedule has %d exams, want 3", n)
	}
	if exams.listings != 1 {
		t.Fatalf("published exams listed %d times, want 1", exams.listings)
	}

	dropped, err := svc.InvalidateSchedules(ctx)
	if err != nil {
		t.Fatalf("InvalidateSchedules: %v", err)
	}
	if dropped != 2 {
		t.Errorf("dropped %d keys, want 2", dropped)
	}
	raw, _ = svc.Schedule(ctx, 1)
	if n := len(decodeListing(t, raw).Exams); n != 4 {
		t.Fatalf("rebuilt schedule has %d exams, want 4", n)
	}
}

func TestArchiveMarksResults(t *testing.T) {
	_, rdb := newTestRedis(t)
	older := fixtureExam("2026-02-20", "09:00", "10:00")
	recent := fixtureExam("2026-03-01", "09:00", "10:00")
	live := fixtureExam("2026-03-02", "09:00", "11:00")
	recID := uuid.New()
	subs := &memSubmissions{records: []model.SubmissionRecord{{ID: recID, ExamID: recent.ID, UserID: 1, Score: 3, Passed: true}}}
	svc := NewLobbyService(newMemExams(older, recent, live), subs, rdb, newTestClock(), time.UTC, time.Minute, zerolog.Nop())

	raw, err := svc.Archive(context.Background(), 1)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	l := decodeListing(t, raw)
	if len(l.Exams) != 2 || l.Exams[0].ID != recent.ID || l.Exams[1].ID != older.ID {
		t.Fatalf("archive = %v", titles(l))
	}
	if !l.Exams[0].Submitted || l.Exams[0].ResultID == nil || *l.Exams[0].ResultID != recID {
		t.Errorf("recent exam = %+v, want submitted with result", l.Exams[0])
	}
	if l.Exams[1].Submitted {
		t.Error("older exam marked submitted")
	}
	if l.Exams[0].Status != model.ScheduleEnded {
		t.Errorf("status = %s", l.Exams[0].Status)
	}
}

func TestDashboardCounts(t *testing.T) {
	_, rdb := newTestRedis(t)
	a := fixtureExam("2026-03-01", "09:00", "10:00")
	b := fixtureExam("2026-03-02", "09:00", "11:00")
	c := fixtureExam("2026-03-03", "09:00", "10:00")
	subs := &memSubmissions{records: []model.SubmissionRecord{
		{ID: uuid.New(), ExamID: a.ID, UserID: 1, Score: 3, Passed: true},
		{ID: uuid.New(), ExamID: b.ID, UserID: 1, Score: 1},
		{ID: uuid.New(), ExamID: b.ID, UserID: 2, Score: 3, Passed: true},
	}}
	svc := NewLobbyService(newMemExams(a, b, c), subs, rdb, newTestClock(), time.UTC, time.Minute, zerolog.Nop())

	raw, err := svc.Dashboard(context.Background(), 1)
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	var d model.Dashboard
	if err := json.Unmarshal(raw, &d); err != nil {
		t.Fatal(err)
	}
	if d.Live != 1 || d.Upcoming != 1 || d.Ended != 1 {
		t.Errorf("status counts = %+v", d)
	}
	if d.Submitted != 2 || d.Passed != 1 || d.AverageScore != 2 {
		t.Errorf("result counts = %+v", d)
	}
}

func TestLeaderboardLimit(t *testing.T) {
	mr, rdb := newTestRedis(t)
	exam := fixtureExam("2026-03-01", "09:00", "10:00")
	subs := &memSubmissions{}
	for i := 0; i < 15; i++ {
		subs.records = append(subs.records, model.SubmissionRecord{ID: uuid.New(), ExamID: exam.ID, UserID: i + 1, Score: float64(15 - i)})
	}
	svc := NewLobbyService(newMemExams(exam), subs, rdb, newTestClock(), time.UTC, time.Minute, zerolog.Nop())
	ctx := context.Background()

	entries, err := svc.Leaderboard(ctx, exam.ID, 0)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if len(entries) != DefaultLeaderboardSize || entries[0].Rank != 1 {
		t.Fatalf("got %d entries, first %+v", len(entries), entries[0])
	}

	entries, _ = svc.Leaderboard(ctx, exam.ID, 1000)
	if len(entries) != 15 {
		t.Fatalf("got %d entries, want all 15", len(entries))
	}
	if !mr.Exists(config.CacheKey.ExamLeaderboardKey(exam.ID.String())) {
		t.Error("leaderboard not cached")
	}
}
