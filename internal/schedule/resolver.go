// Package schedule derives Upcoming/Live/Ended from an exam's date and
// time-of-day window and orders exam listings by it.
package schedule

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/stemsi/examprep/internal/model"
)

var (
	ErrMissingWindow = errors.New("exam date or time is missing")
	ErrCrossMidnight = errors.New("exam end time is before its start time")
)

// AmbiguousSortKey is assigned to exams whose window cannot be computed.
const AmbiguousSortKey = math.MaxInt64

var clockLayouts = []string{"15:04:05", "15:04"}

// Resolution is the outcome of resolving one exam against an instant.
type Resolution struct {
	Status model.ScheduleStatus `json:"status"`
	Start  time.Time            `json:"start"`
	End    time.Time            `json:"end"`
	// SortKey is the start instant in Unix seconds.
	SortKey int64 `json:"sort_key"`
	// Ambiguous is set when the window was malformed and Status is the fallback.
	Ambiguous bool `json:"ambiguous,omitempty"`
}

// Entry pairs an exam with its resolution.
type Entry struct {
	Exam       model.Exam `json:"exam"`
	Resolution Resolution `json:"resolution"`
}

// Resolve computes the status of exam at now. Date and times are read in
// now's location. It never fails: a malformed window falls back to the
// exam's persisted status.
func Resolve(exam model.Exam, now time.Time) Resolution {
	start, end, err := Window(exam, now.Location())
	if err != nil {
		return Resolution{
			Status:    fallback(exam.Status),
			SortKey:   AmbiguousSortKey,
			Ambiguous: true,
		}
	}

	r := Resolution{Start: start, End: end, SortKey: start.Unix()}
	switch {
	case now.Before(start):
		r.Status = model.ScheduleUpcoming
	case now.After(end):
		r.Status = model.ScheduleEnded
	default:
		r.Status = model.ScheduleLive
	}
	return r
}

// Window returns the absolute start and end instants of exam in loc.
func Window(exam model.Exam, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d, err := parseDate(exam.ExamDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	sh, sm, ss, err := parseClock(exam.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start time: %w", err)
	}
	eh, em, es, err := parseClock(exam.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end time: %w", err)
	}

	start := time.Date(y, m, d, sh, sm, ss, 0, loc)
	end := time.Date(y, m, d, eh, em, es, 0, loc)
	if end.Before(start) {
		return time.Time{}, time.Time{}, ErrCrossMidnight
	}
	return start, end, nil
}

// parseDate accepts YYYY-MM-DD or a full RFC 3339 timestamp, whose calendar
// date is taken as written.
func parseDate(raw string) (int, time.Month, int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, 0, 0, ErrMissingWindow
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		if t, err = time.Parse(time.RFC3339, raw); err != nil {
			return 0, 0, 0, fmt.Errorf("exam date %q: %w", raw, err)
		}
	}
	y, m, d := t.Date()
	return y, m, d, nil
}

func parseClock(raw string) (int, int, int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, 0, 0, ErrMissingWindow
	}
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Hour(), t.Minute(), t.Second(), nil
		}
	}
	return 0, 0, 0, fmt.Errorf("time of day %q is not HH:MM", raw)
}

func fallback(persisted model.ScheduleStatus) model.ScheduleStatus {
	if persisted.Valid() {
		return persisted
	}
	return model.ScheduleUpcoming
}

// ResolveAll resolves every exam at the same instant.
func ResolveAll(exams []model.Exam, now time.Time) []Entry {
	entries := make([]Entry, len(exams))
	for i, e := range exams {
		entries[i] = Entry{Exam: e, Resolution: Resolve(e, now)}
	}
	return entries
}

// Partition groups exams by resolved status, keeping input order.
func Partition(exams []model.Exam, now time.Time) map[model.ScheduleStatus][]Entry {
	groups := make(map[model.ScheduleStatus][]Entry, 3)
	for _, e := range ResolveAll(exams, now) {
		groups[e.Resolution.Status] = append(groups[e.Resolution.Status], e)
	}
	return groups
}

// SortSchedule returns the Live and Upcoming exams: every Live exam first,
// then Upcoming, each group soonest start first.
func SortSchedule(exams []model.Exam, now time.Time) []Entry {
	var out []Entry
	for _, e := range ResolveAll(exams, now) {
		if e.Resolution.Status != model.ScheduleEnded {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b Entry) int {
		if c := cmp.Compare(statusRank(a.Resolution.Status), statusRank(b.Resolution.Status)); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Resolution.SortKey, b.Resolution.SortKey); c != 0 {
			return c
		}
		return strings.Compare(a.Exam.ID.String(), b.Exam.ID.String())
	})
	return out
}

// SortArchive returns the Ended exams, most recent start first.
// Exams with an ambiguous window go last.
func SortArchive(exams []model.Exam, now time.Time) []Entry {
	var out []Entry
	for _, e := range ResolveAll(exams, now) {
		if e.Resolution.Status == model.ScheduleEnded {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b Entry) int {
		if a.Resolution.Ambiguous != b.Resolution.Ambiguous {
			if a.Resolution.Ambiguous {
				return 1
			}
			return -1
		}
		if c := cmp.Compare(b.Resolution.SortKey, a.Resolution.SortKey); c != 0 {
			return c
		}
		return strings.Compare(a.Exam.ID.String(), b.Exam.ID.String())
	})
	return out
}

func statusRank(s model.ScheduleStatus) int {
	switch s {
	case model.ScheduleLive:
		return 0
	case model.ScheduleUpcoming:
		return 1
	default:
		return 2
	}
}
