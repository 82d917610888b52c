package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examprep/internal/config"
	"github.com/stemsi/examprep/internal/model"
	"github.com/stemsi/examprep/internal/schedule"
)

const (
	DefaultLeaderboardSize = 10
	MaxLeaderboardSize     = 100
)

// LobbyService builds the student's schedule, archive, dashboard and exam
// leaderboards. Every listing is cached in Redis until invalidated or its
// TTL passes.
type LobbyService struct {
	exams       ExamStore
	submissions SubmissionStore
	rdb         *redis.Client
	clk         clock.Clock
	loc         *time.Location
	ttl         time.Duration
	log         zerolog.Logger
}

// NewLobbyService creates a new LobbyService.
func NewLobbyService(exams ExamStore, submissions SubmissionStore, rdb *redis.Client, clk clock.Clock, loc *time.Location, ttl time.Duration, log zerolog.Logger) *LobbyService {
	if clk == nil {
		clk = clock.New()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &LobbyService{
		exams:       exams,
		submissions: submissions,
		rdb:         rdb,
		clk:         clk,
		loc:         loc,
		ttl:         ttl,
		log:         log.With().Str("component", "lobby_service").Logger(),
	}
}

// cached returns the JSON stored at key, or builds, stores and returns it.
func (s *LobbyService) cached(ctx context.Context, key string, build func() (interface{}, error)) ([]byte, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Str("key", key).Msg("Cache read failed, rebuilding")
	}

	v, err := build()
	if err != nil {
		return nil, err
	}
	data, err = json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
	return data, nil
}

// PublishedExams returns every published exam.
func (s *LobbyService) PublishedExams(ctx context.Context) ([]model.Exam, error) {
	data, err := s.cached(ctx, config.CacheKey.PublishedExamsKey(), func() (interface{}, error) {
		exams, err := s.exams.ListPublished(ctx)
		if err != nil {
			return nil, fmt.Errorf("list published exams: %w", err)
		}
		if exams == nil {
			exams = []model.Exam{}
		}
		return exams, nil
	})
	if err != nil {
		return nil, err
	}
	var exams []model.Exam
	if err := json.Unmarshal(data, &exams); err != nil {
		return nil, fmt.Errorf("unmarshal published exams: %w", err)
	}
	return exams, nil
}

func (s *LobbyService) submittedBy(ctx context.Context, userID int) (map[uuid.UUID]model.SubmissionRecord, error) {
	records, err := s.submissions.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	byExam := make(map[uuid.UUID]model.SubmissionRecord, len(records))
	for _, r := range records {
		byExam[r.ExamID] = r
	}
	return byExam, nil
}

func listed(e schedule.Entry, rec *model.SubmissionRecord) model.ListedExam {
	out := model.ListedExam{
		ID:              e.Exam.ID,
		Title:           e.Exam.Title,
		Topic:           e.Exam.Topic,
		ExamDate:        e.Exam.ExamDate,
		StartTime:       e.Exam.StartTime,
		EndTime:         e.Exam.EndTime,
		DurationMinutes: e.Exam.DurationMinutes,
		TotalMarks:      e.Exam.TotalMarks,
		IsPremium:       e.Exam.IsPremium,
		Status:          e.Resolution.Status,
		Ambiguous:       e.Resolution.Ambiguous,
	}
	if !e.Resolution.Ambiguous {
		start, end := e.Resolution.Start, e.Resolution.End
		out.StartsAt, out.EndsAt = &start, &end
	}
	if rec != nil {
		id := rec.ID
		out.Submitted, out.ResultID = true, &id
	}
	return out
}

func (s *LobbyService) listing(ctx context.Context, userID int, order func([]model.Exam, time.Time) []schedule.Entry) (*model.Listing, error) {
	exams, err := s.PublishedExams(ctx)
	if err != nil {
		return nil, err
	}
	submitted, err := s.submittedBy(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now().In(s.loc)
	entries := order(exams, now)
	out := &model.Listing{Exams: make([]model.ListedExam, 0, len(entries)), GeneratedAt: now}
	for _, e := range entries {
		var rec *model.SubmissionRecord
		if r, ok := submitted[e.Exam.ID]; ok {
			rec = &r
		}
		out.Exams = append(out.Exams, listed(e, rec))
	}
	return out, nil
}

// Schedule returns live exams followed by upcoming ones, soonest first.
func (s *LobbyService) Schedule(ctx context.Context, userID int) ([]byte, error) {
	return s.cached(ctx, config.CacheKey.UserExamListKey(userID), func() (interface{}, error) {
		return s.listing(ctx, userID, schedule.SortSchedule)
	})
}

// Archive returns ended exams, most recent first, with the user's results.
func (s *LobbyService) Archive(ctx context.Context, userID int) ([]byte, error) {
	return s.cached(ctx, config.CacheKey.UserResultsKey(userID), func() (interface{}, error) {
		return s.listing(ctx, userID, schedule.SortArchive)
	})
}

// Dashboard returns the user's counters.
func (s *LobbyService) Dashboard(ctx context.Context, userID int) ([]byte, error) {
	return s.cached(ctx, config.CacheKey.UserDashboardKey(userID), func() (interface{}, error) {
		exams, err := s.PublishedExams(ctx)
		if err != nil {
			return nil, err
		}
		submitted, err := s.submittedBy(ctx, userID)
		if err != nil {
			return nil, err
		}

		now := s.clk.Now().In(s.loc)
		d := model.Dashboard{GeneratedAt: now}
		groups := schedule.Partition(exams, now)
		d.Live = len(groups[model.ScheduleLive])
		d.Upcoming = len(groups[model.ScheduleUpcoming])
		d.Ended = len(groups[model.ScheduleEnded])

		var total float64
		for _, rec := range submitted {
			d.Submitted++
			total += rec.Score
			if rec.Passed {
				d.Passed++
			}
		}
		if d.Submitted > 0 {
			d.AverageScore = total / float64(d.Submitted)
		}
		return d, nil
	})
}

// Leaderboard returns the top scores of an exam. The cache holds the
// largest board and smaller requests are cut from it.
func (s *LobbyService) Leaderboard(ctx context.Context, examID uuid.UUID, limit int) ([]model.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardSize
	}
	if limit > MaxLeaderboardSize {
		limit = MaxLeaderboardSize
	}

	data, err := s.cached(ctx, config.CacheKey.ExamLeaderboardKey(examID.String()), func() (interface{}, error) {
		entries, err := s.submissions.TopByExam(ctx, examID, MaxLeaderboardSize)
		if err != nil {
			return nil, fmt.Errorf("top scores: %w", err)
		}
		if entries == nil {
			entries = []model.LeaderboardEntry{}
		}
		return entries, nil
	})
	if err != nil {
		return nil, err
	}

	var entries []model.LeaderboardEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal leaderboard: %w", err)
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// InvalidateSchedules drops the published-exam list and every user's
// schedule, archive and dashboard. Used when an exam's status moves.
func (s *LobbyService) InvalidateSchedules(ctx context.Context) (int, error) {
	keys := []string{config.CacheKey.PublishedExamsKey()}
	for _, pattern := range []string{
		config.CacheKey.UserExamListKeyPattern(),
		config.CacheKey.UserResultsKeyPattern(),
		config.CacheKey.UserDashboardKeyPattern(),
	} {
		iter := s.rdb.Scan(ctx, 0, pattern, 200).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return 0, fmt.Errorf("scan %s: %w", pattern, err)
		}
	}

	n, err := s.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("delete listings: %w", err)
	}
	return int(n), nil
}
