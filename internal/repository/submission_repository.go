package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/examprep/internal/model"
)

// ErrDuplicateSubmission is returned by Create when (exam, user) already has a record.
var ErrDuplicateSubmission = errors.New("submission already exists")

const submissionColumns = `id, exam_id, user_id, answers, score, correct_count, wrong_count,
	unanswered, passed, submitted_at`

// SubmissionRepository handles submission record data access.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

func scanSubmission(row rowScanner, s *model.SubmissionRecord) error {
	return row.Scan(&s.ID, &s.ExamID, &s.UserID, &s.Answers, &s.Score, &s.CorrectCount,
		&s.WrongCount, &s.Unanswered, &s.Passed, &s.SubmittedAt)
}

// GetByExamAndUser retrieves the record of (exam, user). It returns
// pgx.ErrNoRows when the user has not submitted.
func (r *SubmissionRepository) GetByExamAndUser(ctx context.Context, examID uuid.UUID, userID int) (*model.SubmissionRecord, error) {
	s := &model.SubmissionRecord{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE exam_id = $1 AND user_id = $2`, examID, userID)
	if err := scanSubmission(row, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Create inserts the record. The unique (exam_id, user_id) constraint makes
// a second insert return ErrDuplicateSubmission.
func (r *SubmissionRepository) Create(ctx context.Context, s *model.SubmissionRecord) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO submissions (exam_id, user_id, answers, score, correct_count, wrong_count, unanswered, passed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (exam_id, user_id) DO NOTHING
		 RETURNING id, submitted_at`,
		s.ExamID, s.UserID, s.Answers, s.Score, s.CorrectCount, s.WrongCount, s.Unanswered, s.Passed,
	).Scan(&s.ID, &s.SubmittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicateSubmission
	}
	return err
}

// ListByUser retrieves all records of a user, most recent first.
func (r *SubmissionRepository) ListByUser(ctx context.Context, userID int) ([]model.SubmissionRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE user_id = $1
		 ORDER BY submitted_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.SubmissionRecord
	for rows.Next() {
		var s model.SubmissionRecord
		if err := scanSubmission(rows, &s); err != nil {
			return nil, err
		}
		records = append(records, s)
	}
	return records, rows.Err()
}

// TopByExam returns the best scores of an exam. Earlier submissions rank
// first among equal scores.
func (r *SubmissionRepository) TopByExam(ctx context.Context, examID uuid.UUID, limit int) ([]model.LeaderboardEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT RANK() OVER (ORDER BY score DESC), user_id, score, passed, submitted_at
		 FROM submissions
		 WHERE exam_id = $1
		 ORDER BY score DESC, submitted_at
		 LIMIT $2`, examID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		if err := rows.Scan(&e.Rank, &e.UserID, &e.Score, &e.Passed, &e.SubmittedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
