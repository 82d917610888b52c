package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/stemsi/examprep/internal/session"
)

const optionLetters = "ABCD"

// warnAt are the remaining-time marks announced while answering.
var warnAt = map[int]bool{300: true, 60: true, 10: true}

type screen struct {
	ctrl  *session.Controller
	out   io.Writer
	lines <-chan string
	mu    sync.Mutex
}

func newScreen(out io.Writer, lines <-chan string) *screen {
	return &screen{out: out, lines: lines}
}

func (s *screen) printf(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func (s *screen) tick(remaining int) {
	if warnAt[remaining] {
		s.printf("\n*** %s remaining ***\n", clockText(remaining))
	}
}

func (s *screen) submitFailed(err error) {
	var se *session.SubmitError
	if errors.As(err, &se) && se.Retryable {
		s.printf("\nSubmission failed: %v\nYour answers are kept. Enter s to try again.\n", se.Err)
		return
	}
	s.printf("\nSubmission failed: %v\n", err)
}

func clockText(seconds int) string {
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// next waits for one input line. It returns ok=false when the session
// finished first.
func (s *screen) next(ctx context.Context) (string, bool, error) {
	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case <-s.ctrl.Done():
		return "", false, nil
	case line, open := <-s.lines:
		if !open {
			return "", false, context.Canceled
		}
		return line, true, nil
	}
}

func (s *screen) run(ctx context.Context) error {
	entry, err := s.ctrl.Load(ctx)
	if err != nil {
		return err
	}
	if entry.AlreadySubmitted {
		s.printf("\nYou already submitted %q.\n", entry.Exam.Title)
		if entry.ResultID != nil {
			s.printf("Result: %s\n", entry.ResultID)
		}
		return nil
	}

	s.instructions(entry)
	line, ok, err := s.next(ctx)
	if err != nil || !ok {
		return err
	}
	if strings.EqualFold(line, "q") {
		s.ctrl.Abandon()
		s.printf("Left without starting.\n")
		return nil
	}
	if err := s.ctrl.Begin(); err != nil {
		return err
	}

	s.render()
	for {
		line, ok, err := s.next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		done, err := s.command(ctx, line)
		if err != nil {
			return err
		}
		if done {
			break
		}
	}

	if out, ok := s.ctrl.Outcome(); ok {
		s.printf("\n%s\nResult: %s\n", out.Message(), out.ResultID)
		if out.Score != nil {
			s.printf("Score: %.2f\n", *out.Score)
		}
		if out.Passed != nil {
			s.printf("Passed: %t\n", *out.Passed)
		}
	}
	return nil
}

func (s *screen) instructions(entry session.Entry) {
	e := entry.Exam
	s.printf("\n=== %s ===\n", e.Title)
	if e.Topic != "" {
		s.printf("Topic: %s\n", e.Topic)
	}
	s.printf("Questions: %d   Duration: %d min   Total marks: %.0f\n", entry.QuestionCount, e.DurationMinutes, e.TotalMarks)
	if e.Settings.NegativeMarking {
		s.printf("Negative marking: %.2f per wrong answer\n", e.Settings.NegativeMarks)
	}
	if e.Settings.PassMarks > 0 {
		s.printf("Pass mark: %.2f\n", e.Settings.PassMarks)
	}
	s.printf("\nThe timer starts when you press Enter and submits automatically at zero.\n")
	s.printf("Press Enter to begin, or q to leave.\n")
}

func (s *screen) render() {
	view, err := s.ctrl.Current()
	if err != nil {
		s.printf("%v\n", err)
		return
	}
	q := view.Question
	flag := ""
	if view.Flagged {
		flag = "  [marked for review]"
	}
	title := ""
	if exam, err := s.ctrl.Exam(); err == nil {
		title = exam.Title + "  "
	}
	s.printf("\n%s[%s] Question %d/%d%s  (%.0f%% answered)\n%s\n", title, clockText(s.ctrl.Remaining()), view.Index+1, view.Total, flag, s.ctrl.ProgressPercent(), q.Prompt)
	for i, opt := range q.Options {
		mark := " "
		if view.Selected != nil && *view.Selected == i {
			mark = "*"
		}
		s.printf(" %s %c) %s\n", mark, optionLetters[i], opt)
	}
	s.printf("a-d answer  n/p next/prev  g <n> go to  x clear  r review  l list  s submit  q quit\n> ")
}

func (s *screen) palette() {
	var b strings.Builder
	for _, item := range s.ctrl.Palette() {
		cell := strconv.Itoa(item.Index + 1)
		switch {
		case item.Flagged:
			cell += "?"
		case item.Answered:
			cell += "+"
		default:
			cell += "."
		}
		if item.Current {
			cell = "[" + cell + "]"
		}
		b.WriteString(cell + " ")
	}
	s.printf("\n%s\n(+ answered, ? marked for review, . not answered)\n", b.String())
}

// command applies one input line and reports whether the session is over.
func (s *screen) command(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		s.render()
		return false, nil
	}

	var err error
	switch cmd := fields[0]; {
	case len(cmd) == 1 && strings.Contains("abcd", cmd):
		err = s.ctrl.Select(strings.Index("abcd", cmd))
	case cmd == "n":
		err = s.ctrl.Next()
	case cmd == "p":
		err = s.ctrl.Prev()
	case cmd == "g" && len(fields) == 2:
		n, convErr := strconv.Atoi(fields[1])
		if convErr != nil {
			err = session.ErrOutOfRange
		} else {
			err = s.ctrl.GoTo(n - 1)
		}
	case cmd == "x":
		err = s.ctrl.ClearSelection()
	case cmd == "r":
		_, err = s.ctrl.ToggleReview()
	case cmd == "l":
		s.palette()
	case cmd == "s":
		return s.confirmSubmit(ctx)
	case cmd == "q":
		return s.confirmQuit(ctx)
	default:
		s.printf("Unknown command %q.\n", line)
	}

	switch {
	case errors.Is(err, session.ErrNotInProgress):
		s.printf("Time is up. Enter s to submit.\n")
	case err != nil:
		s.printf("%v\n", err)
	}
	s.render()
	return false, nil
}

func (s *screen) confirm(ctx context.Context, prompt string) (bool, bool, error) {
	s.printf("%s [y/N] ", prompt)
	line, ok, err := s.next(ctx)
	if err != nil || !ok {
		return false, !ok, err
	}
	return strings.EqualFold(line, "y"), false, nil
}

func (s *screen) confirmSubmit(ctx context.Context) (bool, error) {
	if s.ctrl.State() == session.StateInProgress {
		answered := len(s.ctrl.Answers())
		total := len(s.ctrl.Palette())
		prompt := fmt.Sprintf("Submit with %d of %d answered", answered, total)
		if flagged := len(s.ctrl.Flagged()); flagged > 0 {
			prompt += fmt.Sprintf(" and %d marked for review", flagged)
		}
		yes, finished, err := s.confirm(ctx, prompt+"?")
		if err != nil || finished {
			return finished, err
		}
		if !yes {
			s.render()
			return false, nil
		}
	}

	s.printf("Submitting...\n")
	_, err := s.ctrl.Submit(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, session.ErrSubmissionInFlight):
		s.printf("A submission is already in progress.\n")
		return false, nil
	case isSubmitFailure(err):
		// Reported by submitFailed.
		return false, nil
	default:
		return false, err
	}
}

func isSubmitFailure(err error) bool {
	var se *session.SubmitError
	return errors.As(err, &se)
}

func (s *screen) confirmQuit(ctx context.Context) (bool, error) {
	yes, finished, err := s.confirm(ctx, "Leave without submitting? Your answers will be lost.")
	if err != nil || finished {
		return finished, err
	}
	if !yes {
		s.render()
		return false, nil
	}
	s.ctrl.Abandon()
	s.printf("Session abandoned.\n")
	return true, nil
}
