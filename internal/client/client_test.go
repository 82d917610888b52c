package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/examprep/internal/config"
	"github.com/stemsi/examprep/internal/model"
	"github.com/stemsi/examprep/internal/response"
	"github.com/stemsi/examprep/internal/service"
	"github.com/stemsi/examprep/internal/session"
)

const testToken = "student-token"

func writeEnvelope(w http.ResponseWriter, status int, data interface{}, code response.ErrCode) {
	env := response.Response{Data: data, Metadata: response.Metadata{RequestID: "req-1"}}
	if code != "" {
		env.Error = &response.ErrorBody{Code: code, Message: response.GetMessage(code)}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer "+testToken {
			writeEnvelope(w, http.StatusUnauthorized, nil, response.ErrTokenInvalid)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL+"/api/v1/", testToken, WithHTTPClient(srv.Client()))
}

func TestFetchForTaking(t *testing.T) {
	examID := uuid.New()
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/v1/student/exams/"+examID.String()+"/take" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		writeEnvelope(w, http.StatusOK, model.ExamForTaking{
			Exam: model.ExamSummary{ID: examID, Title: "Chemistry", DurationMinutes: 30},
			Questions: []model.QuestionForStudent{
				{ID: uuid.New(), Prompt: "pH of water?", Options: []string{"5", "6", "7", "8"}, Marks: 1},
			},
		}, "")
	})

	got, err := c.FetchForTaking(context.Background(), examID)
	if err != nil {
		t.Fatalf("FetchForTaking: %v", err)
	}
	if got.Exam.ID != examID || len(got.Questions) != 1 || got.HasSubmitted {
		t.Fatalf("payload = %+v", got)
	}
}

func TestSubmitSuccess(t *testing.T) {
	examID, qid, resultID := uuid.New(), uuid.New(), uuid.New()
	score := 4.0
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req model.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if req.Answers[qid] != 2 {
			t.Errorf("answers = %v", req.Answers)
		}
		writeEnvelope(w, http.StatusCreated, model.SubmitResult{ResultID: resultID, Score: &score}, "")
	})

	res, err := c.Submit(context.Background(), examID, model.SubmitRequest{Answers: map[uuid.UUID]int{qid: 2}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.ResultID != resultID || res.Score == nil || *res.Score != 4 || res.Passed != nil {
		t.Fatalf("result = %+v", res)
	}
}

func TestSubmitErrorMapping(t *testing.T) {
	existing := uuid.New()
	tests := []struct {
		name          string
		status        int
		code          response.ErrCode
		data          interface{}
		wantDuplicate bool
		wantID        uuid.UUID
		wantRejected  bool
	}{
		{"duplicate with id", http.StatusConflict, response.ErrDuplicateSubmission, model.SubmitResult{ResultID: existing}, true, existing, false},
		{"duplicate without id", http.StatusConflict, response.ErrDuplicateSubmission, nil, true, uuid.Nil, false},
		{"unknown question", http.StatusUnprocessableEntity, response.ErrUnknownQuestion, nil, false, uuid.Nil, true},
		{"not available", http.StatusForbidden, response.ErrExamNotAvailable, nil, false, uuid.Nil, true},
		{"server error", http.StatusInternalServerError, response.ErrInternal, nil, false, uuid.Nil, false},
		{"rate limited", http.StatusTooManyRequests, response.ErrRateLimitExceeded, nil, false, uuid.Nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, tt.status, tt.data, tt.code)
			})
			_, err := c.Submit(context.Background(), uuid.New(), model.SubmitRequest{})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, session.ErrDuplicateSubmission); got != tt.wantDuplicate {
				t.Errorf("duplicate = %v, want %v (%v)", got, tt.wantDuplicate, err)
			}
			if got := errors.Is(err, session.ErrSubmissionRejected); got != tt.wantRejected {
				t.Errorf("rejected = %v, want %v (%v)", got, tt.wantRejected, err)
			}
			var dup *session.DuplicateSubmissionError
			if tt.wantID != uuid.Nil && (!errors.As(err, &dup) || dup.ResultID != tt.wantID) {
				t.Errorf("err = %v, want duplicate of %s", err, tt.wantID)
			}
			if !tt.wantDuplicate && !tt.wantRejected {
				var apiErr *APIError
				if !errors.As(err, &apiErr) || !apiErr.Transient() {
					t.Errorf("err = %v, want transient APIError", err)
				}
			}
		})
	}
}

func TestSubmitNetworkFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(url, testToken)
	_, err := c.Submit(context.Background(), uuid.New(), model.SubmitRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, session.ErrSubmissionRejected) || errors.Is(err, session.ErrDuplicateSubmission) {
		t.Fatalf("network failure classified as final: %v", err)
	}
}

func TestUnauthorizedCarriesCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, nil, response.ErrTokenInvalid)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").Schedule(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.Code != response.ErrTokenInvalid || apiErr.RequestID != "req-1" || apiErr.Transient() {
		t.Fatalf("api error = %+v", apiErr)
	}
}

func TestPeekClaims(t *testing.T) {
	auth := service.NewAuthService(&config.Config{JWTSecret: "s", JWTExpiry: time.Hour})
	tok, err := auth.GenerateStudentToken(77)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := PeekClaims(tok)
	if err != nil || claims.UserID != 77 || claims.TokenType != "student" {
		t.Fatalf("claims = %+v, err %v", claims, err)
	}
	if _, err := PeekClaims("garbage"); err == nil {
		t.Fatal("garbage token decoded")
	}
}

func TestArchive(t *testing.T) {
	ended := uuid.New()
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/student/archive" {
			t.Errorf("path = %s", r.URL.Path)
		}
		writeEnvelope(w, http.StatusOK, model.Listing{Exams: []model.ListedExam{
			{ID: ended, Title: "Biology Review", Status: model.ScheduleEnded, Submitted: true},
		}}, "")
	})

	listing, err := c.Archive(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(listing.Exams) != 1 || listing.Exams[0].ID != ended || !listing.Exams[0].Submitted {
		t.Fatalf("listing = %+v", listing)
	}
}
