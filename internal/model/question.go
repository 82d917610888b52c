package model

import (
	"github.com/google/uuid"
)

// OptionCount is the fixed number of options every question carries.
const OptionCount = 4

// Question represents a single exam question, including its answer.
type Question struct {
	ID            uuid.UUID `json:"id"`
	ExamID        uuid.UUID `json:"exam_id"`
	Prompt        string    `json:"prompt"`
	Options       []string  `json:"options"`
	CorrectOption int       `json:"correct_option"`
	Marks         float64   `json:"marks"`
	OrderNum      int       `json:"order_num"`
}

// ForStudent strips the correct option.
func (q Question) ForStudent() QuestionForStudent {
	return QuestionForStudent{
		ID:       q.ID,
		Prompt:   q.Prompt,
		Options:  q.Options,
		Marks:    q.Marks,
		OrderNum: q.OrderNum,
	}
}

// QuestionForStudent is a question without the correct answer, sent to students.
type QuestionForStudent struct {
	ID       uuid.UUID `json:"id"`
	Prompt   string    `json:"prompt" validate:"required"`
	Options  []string  `json:"options" validate:"len=4,dive,required"`
	Marks    float64   `json:"marks" validate:"gte=0"`
	OrderNum int       `json:"order_num"`
}
