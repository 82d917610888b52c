package model

import (
	"time"

	"github.com/google/uuid"
)

// Collection names a cached list that views hold.
type Collection string

const (
	CollectionUserExams   Collection = "user_exams"
	CollectionUserResults Collection = "user_results"
	CollectionExamListing Collection = "exam_listing"
	CollectionDashboard   Collection = "dashboard"
	CollectionLeaderboard Collection = "leaderboard"
)

// SubmissionCollections are the collections a new submission makes stale.
var SubmissionCollections = []Collection{
	CollectionUserExams,
	CollectionUserResults,
	CollectionExamListing,
	CollectionDashboard,
	CollectionLeaderboard,
}

// Invalidation tells subscribers which collections to refresh.
type Invalidation struct {
	Collections []Collection `json:"collections"`
	UserID      int          `json:"user_id"`
	ExamID      uuid.UUID    `json:"exam_id"`
	ResultID    uuid.UUID    `json:"result_id"`
	At          time.Time    `json:"at"`
}

// NewSubmissionInvalidation builds the invalidation emitted after a submit.
func NewSubmissionInvalidation(userID int, examID, resultID uuid.UUID, at time.Time) Invalidation {
	cols := make([]Collection, len(SubmissionCollections))
	copy(cols, SubmissionCollections)
	return Invalidation{
		Collections: cols,
		UserID:      userID,
		ExamID:      examID,
		ResultID:    resultID,
		At:          at,
	}
}
