package model

import (
	"github.com/google/uuid"
)

// ExamSummary is the exam metadata shown on the instructions screen.
type ExamSummary struct {
	ID              uuid.UUID    `json:"id"`
	Title           string       `json:"title" validate:"required"`
	Topic           string       `json:"topic"`
	DurationMinutes int          `json:"duration_minutes" validate:"min=1"`
	TotalMarks      float64      `json:"total_marks" validate:"gte=0"`
	IsPremium       bool         `json:"is_premium"`
	Settings        ExamSettings `json:"settings"`
}

// ExamForTaking is the fetch-for-taking response. When HasSubmitted is true
// Questions is empty and ResultID references the existing record.
type ExamForTaking struct {
	Exam         ExamSummary          `json:"exam"`
	Questions    []QuestionForStudent `json:"questions,omitempty" validate:"omitempty,dive"`
	HasSubmitted bool                 `json:"has_submitted"`
	ResultID     *uuid.UUID           `json:"result_id,omitempty"`
}

// SubmitRequest carries the student's answers. Unanswered questions are absent.
// UserID is the acting user as the client knows it; the server rejects a
// mismatch with the authenticated user.
type SubmitRequest struct {
	UserID  int               `json:"user_id,omitempty"`
	Answers map[uuid.UUID]int `json:"answers"`
}

// SubmitResult is the submit response. Score and Passed are only present when
// the exam reveals results instantly.
type SubmitResult struct {
	ResultID uuid.UUID `json:"result_id"`
	Score    *float64  `json:"score,omitempty"`
	Passed   *bool     `json:"passed,omitempty"`
}
