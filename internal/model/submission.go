package model

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionRecord is the durable result of a completed exam attempt.
// At most one exists per (exam, user).
type SubmissionRecord struct {
	ID           uuid.UUID         `json:"id"`
	ExamID       uuid.UUID         `json:"exam_id"`
	UserID       int               `json:"user_id"`
	Answers      map[uuid.UUID]int `json:"answers"`
	Score        float64           `json:"score"`
	CorrectCount int               `json:"correct_count"`
	WrongCount   int               `json:"wrong_count"`
	Unanswered   int               `json:"unanswered"`
	Passed       bool              `json:"passed"`
	SubmittedAt  time.Time         `json:"submitted_at"`
}

// LeaderboardEntry is one ranked score of an exam.
type LeaderboardEntry struct {
	Rank        int       `json:"rank"`
	UserID      int       `json:"user_id"`
	Score       float64   `json:"score"`
	Passed      bool      `json:"passed"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Dashboard summarises a student's exams and results.
type Dashboard struct {
	Live         int       `json:"live"`
	Upcoming     int       `json:"upcoming"`
	Ended        int       `json:"ended"`
	Submitted    int       `json:"submitted"`
	Passed       int       `json:"passed"`
	AverageScore float64   `json:"average_score"`
	GeneratedAt  time.Time `json:"generated_at"`
}
