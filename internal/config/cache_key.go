package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamPayloadKey returns the cache key for an exam's student-facing payload
func (r *CacheKeyStruct) ExamPayloadKey(examID string) string {
	return fmt.Sprintf("exam:%s:payload", examID)
}

// ExamAnswerKey returns the cache key for an exam's scoring key
func (r *CacheKeyStruct) ExamAnswerKey(examID string) string {
	return fmt.Sprintf("exam:%s:key", examID)
}

// PublishedExamsKey returns the cache key for the list of all published exams
func (r *CacheKeyStruct) PublishedExamsKey() string {
	return "exams:published"
}

// UserExamListKey returns the cache key for a user's schedule listing
func (r *CacheKeyStruct) UserExamListKey(userID int) string {
	return fmt.Sprintf("user:%d:exams", userID)
}

// UserExamListKeyPattern matches every user's schedule listing
func (r *CacheKeyStruct) UserExamListKeyPattern() string {
	return "user:*:exams"
}

// UserResultsKey returns the cache key for a user's results list
func (r *CacheKeyStruct) UserResultsKey(userID int) string {
	return fmt.Sprintf("user:%d:results", userID)
}

// UserResultsKeyPattern matches every user's results list
func (r *CacheKeyStruct) UserResultsKeyPattern() string {
	return "user:*:results"
}

// UserDashboardKey returns the cache key for a user's dashboard summary
func (r *CacheKeyStruct) UserDashboardKey(userID int) string {
	return fmt.Sprintf("user:%d:dashboard", userID)
}

// UserDashboardKeyPattern matches every user's dashboard summary
func (r *CacheKeyStruct) UserDashboardKeyPattern() string {
	return "user:*:dashboard"
}

// ExamLeaderboardKey returns the cache key for an exam's leaderboard
func (r *CacheKeyStruct) ExamLeaderboardKey(examID string) string {
	return fmt.Sprintf("exam:%s:leaderboard", examID)
}

// UserInvalidationChannel returns the Redis PubSub channel carrying a user's invalidations
func (r *CacheKeyStruct) UserInvalidationChannel(userID int) string {
	return fmt.Sprintf("user:%d:invalidations", userID)
}

// RateLimitKey returns the counter key for one rate-limit window
func (r *CacheKeyStruct) RateLimitKey(scope, subject string, window int64) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", scope, subject, window)
}

var CacheKey = NewCacheKeyStruct()
