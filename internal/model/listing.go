package model

import (
	"time"

	"github.com/google/uuid"
)

// ListedExam is one row of the student's schedule or archive. StartsAt and
// EndsAt are absent when the stored window could not be read.
type ListedExam struct {
	ID              uuid.UUID      `json:"id"`
	Title           string         `json:"title"`
	Topic           string         `json:"topic"`
	ExamDate        string         `json:"exam_date"`
	StartTime       string         `json:"start_time"`
	EndTime         string         `json:"end_time"`
	DurationMinutes int            `json:"duration_minutes"`
	TotalMarks      float64        `json:"total_marks"`
	IsPremium       bool           `json:"is_premium"`
	Status          ScheduleStatus `json:"status"`
	StartsAt        *time.Time     `json:"starts_at,omitempty"`
	EndsAt          *time.Time     `json:"ends_at,omitempty"`
	Ambiguous       bool           `json:"ambiguous,omitempty"`
	Submitted       bool           `json:"submitted"`
	ResultID        *uuid.UUID     `json:"result_id,omitempty"`
}

// Listing is the schedule or archive response.
type Listing struct {
	Exams       []ListedExam `json:"exams"`
	GeneratedAt time.Time    `json:"generated_at"`
}
