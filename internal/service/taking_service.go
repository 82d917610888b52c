package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examprep/internal/config"
	"github.com/stemsi/examprep/internal/model"
	"github.com/stemsi/examprep/internal/repository"
	"github.com/stemsi/examprep/internal/schedule"
)

var (
	ErrExamNotAvailable    = errors.New("exam is not open for taking")
	ErrDuplicateSubmission = errors.New("exam already submitted")
)

// TakingService serves exams for taking and records submissions. A user
// gets at most one submission record per exam.
type TakingService struct {
	exams       *ExamService
	submissions SubmissionStore
	rdb         *redis.Client
	clk         clock.Clock
	loc         *time.Location
	log         zerolog.Logger
}

// NewTakingService creates a new TakingService. loc is the zone exam windows
// are written in.
func NewTakingService(exams *ExamService, submissions SubmissionStore, rdb *redis.Client, clk clock.Clock, loc *time.Location, log zerolog.Logger) *TakingService {
	if clk == nil {
		clk = clock.New()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &TakingService{
		exams:       exams,
		submissions: submissions,
		rdb:         rdb,
		clk:         clk,
		loc:         loc,
		log:         log.With().Str("component", "taking_service").Logger(),
	}
}

// existing returns the user's record for the exam, or nil.
func (s *TakingService) existing(ctx context.Context, examID uuid.UUID, userID int) (*model.SubmissionRecord, error) {
	rec, err := s.submissions.GetByExamAndUser(ctx, examID, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check existing submission: %w", err)
	}
	return rec, nil
}

// ForTaking returns the exam without correct answers. If the user already
// submitted, the response only references the existing result.
func (s *TakingService) ForTaking(ctx context.Context, examID uuid.UUID, userID int) (*model.ExamForTaking, error) {
	rec, err := s.existing(ctx, examID, userID)
	if err != nil {
		return nil, err
	}

	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}

	if rec != nil {
		resultID := rec.ID
		return &model.ExamForTaking{
			Exam:         summaryOf(exam),
			HasSubmitted: true,
			ResultID:     &resultID,
		}, nil
	}

	res := schedule.Resolve(*exam, s.clk.Now().In(s.loc))
	if res.Status != model.ScheduleLive {
		return nil, ErrExamNotAvailable
	}

	return s.exams.GetPayload(ctx, examID)
}

// Submit grades and stores the answers. When a record already exists it
// returns that record's result together with ErrDuplicateSubmission.
func (s *TakingService) Submit(ctx context.Context, examID uuid.UUID, userID int, answers map[uuid.UUID]int) (*model.SubmitResult, error) {
	log := s.log.With().Str("exam_id", examID.String()).Int("user_id", userID).Logger()

	rec, err := s.existing(ctx, examID, userID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return &model.SubmitResult{ResultID: rec.ID}, ErrDuplicateSubmission
	}

	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	// An attempt may run past the window's end; it may not precede its start.
	if res := schedule.Resolve(*exam, s.clk.Now().In(s.loc)); res.Status == model.ScheduleUpcoming {
		return nil, ErrExamNotAvailable
	}

	payload, err := s.exams.GetPayload(ctx, examID)
	if err != nil {
		return nil, err
	}
	if err := ValidateAnswers(payload.Questions, answers); err != nil {
		return nil, err
	}
	key, err := s.exams.GetAnswerKey(ctx, examID)
	if err != nil {
		return nil, err
	}

	graded := Score(payload.Questions, key, exam.Settings, answers)
	if answers == nil {
		answers = map[uuid.UUID]int{}
	}
	rec = &model.SubmissionRecord{
		ExamID:       examID,
		UserID:       userID,
		Answers:      answers,
		Score:        graded.Score,
		CorrectCount: graded.Correct,
		WrongCount:   graded.Wrong,
		Unanswered:   graded.Unanswered,
		Passed:       graded.Passed,
	}

	if err := s.submissions.Create(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrDuplicateSubmission) {
			// Concurrent submit detected
			winner, fetchErr := s.existing(ctx, examID, userID)
			if fetchErr != nil || winner == nil {
				return nil, fmt.Errorf("concurrent submit detected, but fetch failed: %v", fetchErr)
			}
			return &model.SubmitResult{ResultID: winner.ID}, ErrDuplicateSubmission
		}
		return nil, fmt.Errorf("create submission: %w", err)
	}

	log.Info().
		Str("result_id", rec.ID.String()).
		Float64("score", rec.Score).
		Int("answered", len(answers)).
		Msg("Submission recorded")

	s.enqueueInvalidation(ctx, model.NewSubmissionInvalidation(userID, examID, rec.ID, s.clk.Now()))

	out := &model.SubmitResult{ResultID: rec.ID}
	if exam.Settings.InstantResult {
		score, passed := rec.Score, rec.Passed
		out.Score, out.Passed = &score, &passed
	}
	return out, nil
}

// enqueueInvalidation hands the invalidation to the fan-out worker. Failures
// are logged only.
func (s *TakingService) enqueueInvalidation(ctx context.Context, inv model.Invalidation) {
	raw, err := json.Marshal(inv)
	if err == nil {
		err = s.rdb.RPush(ctx, config.WorkerKey.InvalidationQueue, raw).Err()
	}
	if err != nil {
		s.log.Error().Err(err).Str("exam_id", inv.ExamID.String()).Msg("Failed to enqueue invalidation")
	}
}
