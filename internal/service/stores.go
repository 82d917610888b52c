package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/examprep/internal/model"
)

// ExamStore is the exam persistence the services need.
// *repository.ExamRepository implements it.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	ListPublished(ctx context.Context) ([]model.Exam, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.ScheduleStatus) error
}

// QuestionStore is implemented by *repository.QuestionRepository.
type QuestionStore interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// SubmissionStore is implemented by *repository.SubmissionRepository. Get
// returns pgx.ErrNoRows for a missing record and Create returns
// repository.ErrDuplicateSubmission when one already exists.
type SubmissionStore interface {
	GetByExamAndUser(ctx context.Context, examID uuid.UUID, userID int) (*model.SubmissionRecord, error)
	Create(ctx context.Context, rec *model.SubmissionRecord) error
	ListByUser(ctx context.Context, userID int) ([]model.SubmissionRecord, error)
	TopByExam(ctx context.Context, examID uuid.UUID, limit int) ([]model.LeaderboardEntry, error)
}
