package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/examprep/internal/model"
)

const insertQuestionSQL = `INSERT INTO questions (exam_id, prompt, options, correct_option, marks, order_num)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id`

// QuestionRepository reads and writes exam questions. The correct option is
// only ever read into model.Question, never into the student-facing type.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListByExam returns an exam's questions in authored order.
func (r *QuestionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, prompt, options, correct_option, marks, order_num
		 FROM questions WHERE exam_id = $1
		 ORDER BY order_num, id`, examID,
	)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Question, error) {
		var q model.Question
		err := row.Scan(&q.ID, &q.ExamID, &q.Prompt, &q.Options, &q.CorrectOption, &q.Marks, &q.OrderNum)
		return q, err
	})
}

// CreateBatch inserts questions in a single transaction and round trip.
// Either all of them are stored or none.
func (r *QuestionRepository) CreateBatch(ctx context.Context, qs []*model.Question) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, q := range qs {
			q := q
			batch.Queue(insertQuestionSQL,
				q.ExamID, q.Prompt, q.Options, q.CorrectOption, q.Marks, q.OrderNum,
			).QueryRow(func(row pgx.Row) error {
				return row.Scan(&q.ID)
			})
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}
