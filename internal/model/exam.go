package model

import (
	"time"

	"github.com/google/uuid"
)

// ScheduleStatus is the time-window status of a scheduled exam.
type ScheduleStatus string

const (
	ScheduleUpcoming ScheduleStatus = "UPCOMING"
	ScheduleLive     ScheduleStatus = "LIVE"
	ScheduleEnded    ScheduleStatus = "ENDED"
)

// Valid reports whether s is one of the known statuses.
func (s ScheduleStatus) Valid() bool {
	switch s {
	case ScheduleUpcoming, ScheduleLive, ScheduleEnded:
		return true
	}
	return false
}

// ExamSettings holds the scoring and presentation switches of an exam.
type ExamSettings struct {
	NegativeMarking  bool    `json:"negative_marking"`
	NegativeMarks    float64 `json:"negative_marks" validate:"gte=0"`
	PassMarks        float64 `json:"pass_marks" validate:"gte=0"`
	ShuffleQuestions bool    `json:"shuffle_questions"`
	InstantResult    bool    `json:"instant_result"`
}

// Exam represents a scheduled exam. ExamDate is YYYY-MM-DD and StartTime/EndTime
// are HH:MM times-of-day on that date. Status is the last persisted schedule status.
type Exam struct {
	ID              uuid.UUID      `json:"id"`
	Title           string         `json:"title"`
	Topic           string         `json:"topic"`
	ExamDate        string         `json:"exam_date"`
	StartTime       string         `json:"start_time"`
	EndTime         string         `json:"end_time"`
	DurationMinutes int            `json:"duration_minutes"`
	TotalMarks      float64        `json:"total_marks"`
	IsPremium       bool           `json:"is_premium"`
	Settings        ExamSettings   `json:"settings"`
	Status          ScheduleStatus `json:"status"`
	QuestionIDs     []uuid.UUID    `json:"question_ids,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
