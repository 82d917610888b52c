package service

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/stemsi/examprep/internal/model"
)

var (
	ErrUnknownQuestion = errors.New("answer references a question outside the exam")
	ErrInvalidOption   = errors.New("answer option out of range")
)

// ScoreResult is the graded outcome of one answer sheet.
type ScoreResult struct {
	Score      float64
	Correct    int
	Wrong      int
	Unanswered int
	Passed     bool
}

// ValidateAnswers checks every answer against the exam's questions.
func ValidateAnswers(questions []model.QuestionForStudent, answers map[uuid.UUID]int) error {
	known := make(map[uuid.UUID]struct{}, len(questions))
	for _, q := range questions {
		known[q.ID] = struct{}{}
	}
	for qid, opt := range answers {
		if _, ok := known[qid]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownQuestion, qid)
		}
		if opt < 0 || opt >= model.OptionCount {
			return fmt.Errorf("%w: %d for %s", ErrInvalidOption, opt, qid)
		}
	}
	return nil
}

// Score grades answers. A correct answer earns the question's marks; with
// negative marking a wrong one costs settings.NegativeMarks. Unanswered
// questions score nothing. The total never drops below zero and passing
// means reaching settings.PassMarks.
func Score(questions []model.QuestionForStudent, key map[uuid.UUID]int, settings model.ExamSettings, answers map[uuid.UUID]int) ScoreResult {
	var res ScoreResult
	for _, q := range questions {
		chosen, answered := answers[q.ID]
		switch {
		case !answered:
			res.Unanswered++
		case chosen == key[q.ID]:
			res.Correct++
			res.Score += q.Marks
		default:
			res.Wrong++
			if settings.NegativeMarking {
				res.Score -= settings.NegativeMarks
			}
		}
	}
	res.Score = math.Max(0, math.Round(res.Score*100)/100)
	res.Passed = res.Score >= settings.PassMarks
	return res
}
