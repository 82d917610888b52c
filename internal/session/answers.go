package session

import (
	"slices"

	"github.com/google/uuid"
	"github.com/stemsi/examprep/internal/model"
)

// AnswerStore holds the selected option per question and the questions
// flagged for review. It is not safe for concurrent use; the Controller
// serialises access.
type AnswerStore struct {
	optionCount map[uuid.UUID]int
	answers     map[uuid.UUID]int
	review      map[uuid.UUID]struct{}
}

// NewAnswerStore creates a store accepting only the given questions.
func NewAnswerStore(questions []model.QuestionForStudent) *AnswerStore {
	s := &AnswerStore{
		optionCount: make(map[uuid.UUID]int, len(questions)),
		answers:     make(map[uuid.UUID]int, len(questions)),
		review:      make(map[uuid.UUID]struct{}),
	}
	for _, q := range questions {
		s.optionCount[q.ID] = len(q.Options)
	}
	return s
}

// Select records option for qid, replacing any earlier choice.
func (s *AnswerStore) Select(qid uuid.UUID, option int) error {
	n, ok := s.optionCount[qid]
	if !ok {
		return ErrUnknownQuestion
	}
	if option < 0 || option >= n {
		return ErrInvalidOption
	}
	s.answers[qid] = option
	return nil
}

// Clear removes the answer for qid, if any.
func (s *AnswerStore) Clear(qid uuid.UUID) error {
	if _, ok := s.optionCount[qid]; !ok {
		return ErrUnknownQuestion
	}
	delete(s.answers, qid)
	return nil
}

// Answer returns the selected option for qid.
func (s *AnswerStore) Answer(qid uuid.UUID) (int, bool) {
	opt, ok := s.answers[qid]
	return opt, ok
}

// ToggleReview flips the review flag of qid and returns the new value.
func (s *AnswerStore) ToggleReview(qid uuid.UUID) (bool, error) {
	if _, ok := s.optionCount[qid]; !ok {
		return false, ErrUnknownQuestion
	}
	if _, flagged := s.review[qid]; flagged {
		delete(s.review, qid)
		return false, nil
	}
	s.review[qid] = struct{}{}
	return true, nil
}

// Flagged reports whether qid is flagged for review.
func (s *AnswerStore) Flagged(qid uuid.UUID) bool {
	_, ok := s.review[qid]
	return ok
}

// AnsweredCount returns the number of answered questions.
func (s *AnswerStore) AnsweredCount() int {
	return len(s.answers)
}

// Snapshot returns a copy of the answers. Unanswered questions are absent.
func (s *AnswerStore) Snapshot() map[uuid.UUID]int {
	out := make(map[uuid.UUID]int, len(s.answers))
	for k, v := range s.answers {
		out[k] = v
	}
	return out
}

// FlaggedIDs returns the flagged question ids in a stable order.
func (s *AnswerStore) FlaggedIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s.review))
	for id := range s.review {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return slices.Compare(a[:], b[:])
	})
	return ids
}
