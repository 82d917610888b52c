package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examprep/internal/config"
	"github.com/stemsi/examprep/internal/model"
)

// Domain Errors
var (
	ErrExamNotFound = errors.New("exam not found")
	ErrNoQuestions  = errors.New("exam has no questions")
)

// ExamService owns the Redis copy of each exam's student payload and answer key.
type ExamService struct {
	exams     ExamStore
	questions QuestionStore
	rdb       *redis.Client
	log       zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(exams ExamStore, questions QuestionStore, rdb *redis.Client, log zerolog.Logger) *ExamService {
	return &ExamService{
		exams:     exams,
		questions: questions,
		rdb:       rdb,
		log:       log.With().Str("component", "exam_service").Logger(),
	}
}

// GetByID retrieves a published exam.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	exam, err := s.exams.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrExamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	return exam, nil
}

func summaryOf(exam *model.Exam) model.ExamSummary {
	return model.ExamSummary{
		ID:              exam.ID,
		Title:           exam.Title,
		Topic:           exam.Topic,
		DurationMinutes: exam.DurationMinutes,
		TotalMarks:      exam.TotalMarks,
		IsPremium:       exam.IsPremium,
		Settings:        exam.Settings,
	}
}

// WarmExamCache loads an exam's payload and answer key from PostgreSQL into Redis.
func (s *ExamService) WarmExamCache(ctx context.Context, exam *model.Exam) (*model.ExamForTaking, error) {
	questions, err := s.questions.ListByExam(ctx, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}

	payload := &model.ExamForTaking{
		Exam:      summaryOf(exam),
		Questions: make([]model.QuestionForStudent, len(questions)),
	}
	answerKey := make(map[string]interface{}, len(questions))
	for i, q := range questions {
		payload.Questions[i] = q.ForStudent()
		answerKey[q.ID.String()] = q.CorrectOption
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	// Cache both atomically via pipeline.
	examID := exam.ID.String()
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.ExamPayloadKey(examID), payloadJSON, 0)
	pipe.Del(ctx, config.CacheKey.ExamAnswerKey(examID))
	pipe.HSet(ctx, config.CacheKey.ExamAnswerKey(examID), answerKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("exam_id", examID).
		Int("questions", len(questions)).
		Msg("Cache warmed")
	return payload, nil
}

// PrewarmAllCaches loads all published exams into Redis on application startup.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.exams.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}
	if len(exams) == 0 {
		s.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	warmed := 0
	for i := range exams {
		if _, err := s.WarmExamCache(ctx, &exams[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}

// GetPayload returns the cached student payload, warming it from PostgreSQL
// on a miss.
func (s *ExamService) GetPayload(ctx context.Context, examID uuid.UUID) (*model.ExamForTaking, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.ExamPayloadKey(examID.String())).Bytes()
	switch {
	case err == nil:
		var payload model.ExamForTaking
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &payload, nil
	case !errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("get payload: %w", err)
	}

	exam, err := s.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	return s.WarmExamCache(ctx, exam)
}

// GetAnswerKey returns question id → correct option index.
func (s *ExamService) GetAnswerKey(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]int, error) {
	raw, err := s.rdb.HGetAll(ctx, config.CacheKey.ExamAnswerKey(examID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("get answer key: %w", err)
	}
	if len(raw) == 0 {
		exam, err := s.GetByID(ctx, examID)
		if err != nil {
			return nil, err
		}
		if _, err := s.WarmExamCache(ctx, exam); err != nil {
			return nil, err
		}
		if raw, err = s.rdb.HGetAll(ctx, config.CacheKey.ExamAnswerKey(examID.String())).Result(); err != nil {
			return nil, fmt.Errorf("get answer key: %w", err)
		}
	}

	key := make(map[uuid.UUID]int, len(raw))
	for qid, opt := range raw {
		id, err := uuid.Parse(qid)
		if err != nil {
			return nil, fmt.Errorf("answer key field %q: %w", qid, err)
		}
		n, err := strconv.Atoi(opt)
		if err != nil {
			return nil, fmt.Errorf("answer key value for %s: %w", qid, err)
		}
		key[id] = n
	}
	return key, nil
}
