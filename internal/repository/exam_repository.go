package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/examprep/internal/model"
)

const examColumns = `id, title, topic, exam_date, start_time, end_time, duration_minutes,
	total_marks, is_premium, settings, status, created_at, updated_at`

// ExamRepository handles exam data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExam(row rowScanner, e *model.Exam) error {
	return row.Scan(&e.ID, &e.Title, &e.Topic, &e.ExamDate, &e.StartTime, &e.EndTime,
		&e.DurationMinutes, &e.TotalMarks, &e.IsPremium, &e.Settings, &e.Status,
		&e.CreatedAt, &e.UpdatedAt)
}

// GetByID retrieves a published exam by its UUID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE id = $1 AND is_published`, id)
	if err := scanExam(row, e); err != nil {
		return nil, err
	}
	return e, nil
}

// ListPublished returns every published exam. The date and time strings are
// returned as stored; interpreting them is the caller's job.
func (r *ExamRepository) ListPublished(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+` FROM exams WHERE is_published ORDER BY exam_date, start_time, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := scanExam(rows, &e); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// UpdateStatus persists the schedule status last resolved for an exam.
func (r *ExamRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ScheduleStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exams SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	return err
}

// Create inserts a new published exam.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	if e.Status == "" {
		e.Status = model.ScheduleUpcoming
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (title, topic, exam_date, start_time, end_time, duration_minutes,
		                    total_marks, is_premium, settings, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, created_at, updated_at`,
		e.Title, e.Topic, e.ExamDate, e.StartTime, e.EndTime, e.DurationMinutes,
		e.TotalMarks, e.IsPremium, e.Settings, e.Status,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}
