package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examprep/internal/config"
	"github.com/stemsi/examprep/internal/middleware"
	"github.com/stemsi/examprep/internal/model"
	"github.com/stemsi/examprep/internal/response"
	"github.com/stemsi/examprep/internal/service"
	ws "github.com/stemsi/examprep/internal/websocket"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testAuth = service.NewAuthService(&config.Config{JWTSecret: "handler-secret", JWTExpiry: time.Hour})

type stubTaker struct {
	payload   *model.ExamForTaking
	result    *model.SubmitResult
	err       error
	gotUser   int
	gotAnswer map[uuid.UUID]int
}

func (s *stubTaker) ForTaking(ctx context.Context, examID uuid.UUID, userID int) (*model.ExamForTaking, error) {
	s.gotUser = userID
	return s.payload, s.err
}

func (s *stubTaker) Submit(ctx context.Context, examID uuid.UUID, userID int, answers map[uuid.UUID]int) (*model.SubmitResult, error) {
	s.gotUser, s.gotAnswer = userID, answers
	return s.result, s.err
}

type stubLobby struct {
	listing []byte
	entries []model.LeaderboardEntry
	limit   int
}

func (s *stubLobby) Schedule(ctx context.Context, userID int) ([]byte, error)  { return s.listing, nil }
func (s *stubLobby) Archive(ctx context.Context, userID int) ([]byte, error)   { return s.listing, nil }
func (s *stubLobby) Dashboard(ctx context.Context, userID int) ([]byte, error) { return s.listing, nil }
func (s *stubLobby) Leaderboard(ctx context.Context, examID uuid.UUID, limit int) ([]model.LeaderboardEntry, error) {
	s.limit = limit
	return s.entries, nil
}

func newPortalRouter(taker Taker, lobby Lobby) *gin.Engine {
	h := NewStudentPortalHandler(taker, lobby, zerolog.Nop())
	r := gin.New()
	r.Use(response.RequestIDMiddleware())
	g := r.Group("/api/v1/student", middleware.RequireStudentJWT(testAuth))
	g.GET("/schedule", h.GetSchedule)
	g.GET("/exams/:exam_id/take", h.TakeExam)
	g.POST("/exams/:exam_id/submit", h.SubmitExam)
	g.GET("/exams/:exam_id/leaderboard", h.GetLeaderboard)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, userID int, body interface{}) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	tok, _ := testAuth.GenerateStudentToken(userID)
	req.Header.Set("Authorization", "Bearer "+tok)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env response.Response
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, w.Body)
	}
	return w, env
}

func TestTakeExam(t *testing.T) {
	examID := uuid.New()
	taker := &stubTaker{payload: &model.ExamForTaking{Exam: model.ExamSummary{ID: examID, Title: "Chemistry"}}}
	r := newPortalRouter(taker, &stubLobby{})

	w, env := do(t, r, http.MethodGet, "/api/v1/student/exams/"+examID.String()+"/take", 11, nil)
	if w.Code != http.StatusOK || env.Error != nil {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	if taker.gotUser != 11 {
		t.Errorf("user = %d, want the token's user", taker.gotUser)
	}
	if env.Metadata.RequestID == "" {
		t.Error("missing request id")
	}
}

func TestTakeExamErrors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		err    error
		status int
		code   response.ErrCode
	}{
		{"bad id", "/api/v1/student/exams/nope/take", nil, http.StatusBadRequest, response.ErrInvalidID},
		{"not found", "", service.ErrExamNotFound, http.StatusNotFound, response.ErrNotFound},
		{"closed", "", service.ErrExamNotAvailable, http.StatusForbidden, response.ErrExamNotAvailable},
		{"empty exam", "", service.ErrNoQuestions, http.StatusUnprocessableEntity, response.ErrNoQuestions},
		{"store down", "", errors.New("connection refused"), http.StatusInternalServerError, response.ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.path
			if path == "" {
				path = "/api/v1/student/exams/" + uuid.NewString() + "/take"
			}
			r := newPortalRouter(&stubTaker{err: tt.err}, &stubLobby{})
			w, env := do(t, r, http.MethodGet, path, 1, nil)
			if w.Code != tt.status || env.Error == nil || env.Error.Code != tt.code {
				t.Fatalf("status = %d, body %s", w.Code, w.Body)
			}
		})
	}
}

func TestSubmitExam(t *testing.T) {
	examID, qid := uuid.New(), uuid.New()
	score, passed := 4.0, true
	taker := &stubTaker{result: &model.SubmitResult{ResultID: uuid.New(), Score: &score, Passed: &passed}}
	r := newPortalRouter(taker, &stubLobby{})

	body := map[string]interface{}{"answers": map[string]int{qid.String(): 2}}
	w, env := do(t, r, http.MethodPost, "/api/v1/student/exams/"+examID.String()+"/submit", 3, body)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	if taker.gotAnswer[qid] != 2 || taker.gotUser != 3 {
		t.Errorf("answers = %v user = %d", taker.gotAnswer, taker.gotUser)
	}
	data, _ := json.Marshal(env.Data)
	var res model.SubmitResult
	_ = json.Unmarshal(data, &res)
	if res.ResultID != taker.result.ResultID || res.Score == nil || *res.Score != 4 {
		t.Errorf("result = %s", data)
	}
}

func TestSubmitExamDuplicate(t *testing.T) {
	existing := uuid.New()
	taker := &stubTaker{result: &model.SubmitResult{ResultID: existing}, err: service.ErrDuplicateSubmission}
	r := newPortalRouter(taker, &stubLobby{})

	w, env := do(t, r, http.MethodPost, "/api/v1/student/exams/"+uuid.NewString()+"/submit", 3, map[string]interface{}{"answers": map[string]int{}})
	if w.Code != http.StatusConflict || env.Error == nil || env.Error.Code != response.ErrDuplicateSubmission {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	data := env.Data.(map[string]interface{})
	if data["result_id"] != existing.String() {
		t.Fatalf("data = %v, want result_id %s", data, existing)
	}
}

func TestSubmitExamRejects(t *testing.T) {
	path := "/api/v1/student/exams/" + uuid.NewString() + "/submit"
	tests := []struct {
		name   string
		body   interface{}
		err    error
		status int
		code   response.ErrCode
	}{
		{"other user", map[string]interface{}{"user_id": 99, "answers": map[string]int{}}, nil, http.StatusForbidden, response.ErrUserMismatch},
		{"malformed json", `{"answers":`, nil, http.StatusBadRequest, response.ErrValidation},
		{"bad question key", `{"answers":{"q1":0}}`, nil, http.StatusBadRequest, response.ErrValidation},
		{"unknown question", map[string]interface{}{"answers": map[string]int{}}, service.ErrUnknownQuestion, http.StatusUnprocessableEntity, response.ErrUnknownQuestion},
		{"invalid option", map[string]interface{}{"answers": map[string]int{}}, service.ErrInvalidOption, http.StatusUnprocessableEntity, response.ErrInvalidOption},
		{"not started", map[string]interface{}{"answers": map[string]int{}}, service.ErrExamNotAvailable, http.StatusForbidden, response.ErrExamNotAvailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			taker := &stubTaker{err: tt.err}
			w, env := do(t, newPortalRouter(taker, &stubLobby{}), http.MethodPost, path, 3, tt.body)
			if w.Code != tt.status || env.Error == nil || env.Error.Code != tt.code {
				t.Fatalf("status = %d, body %s", w.Code, w.Body)
			}
		})
	}
}

func TestScheduleServesCachedJSON(t *testing.T) {
	lobby := &stubLobby{listing: []byte(`{"exams":[{"title":"Algebra"}],"generated_at":"2026-03-02T10:00:00Z"}`)}
	w, env := do(t, newPortalRouter(&stubTaker{}, lobby), http.MethodGet, "/api/v1/student/schedule", 1, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	data := env.Data.(map[string]interface{})
	exams := data["exams"].([]interface{})
	if len(exams) != 1 || exams[0].(map[string]interface{})["title"] != "Algebra" {
		t.Fatalf("data = %v", data)
	}
}

func TestLeaderboardLimit(t *testing.T) {
	lobby := &stubLobby{entries: []model.LeaderboardEntry{{Rank: 1, UserID: 4, Score: 9}}}
	r := newPortalRouter(&stubTaker{}, lobby)
	path := "/api/v1/student/exams/" + uuid.NewString() + "/leaderboard"

	if w, _ := do(t, r, http.MethodGet, path+"?limit=5", 1, nil); w.Code != http.StatusOK || lobby.limit != 5 {
		t.Fatalf("status = %d limit = %d", w.Code, lobby.limit)
	}
	if w, _ := do(t, r, http.MethodGet, path, 1, nil); w.Code != http.StatusOK || lobby.limit != service.DefaultLeaderboardSize {
		t.Fatalf("status = %d limit = %d", w.Code, lobby.limit)
	}
	if w, _ := do(t, r, http.MethodGet, path+"?limit=-1", 1, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestInvalidationStream(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	h := NewWSHandler(rdb, zerolog.Nop(), nil)
	r := gin.New()
	r.GET("/ws/v1/student/invalidations", middleware.RequireStudentWSAuth(testAuth), h.InvalidationStream)
	srv := httptest.NewServer(r)
	defer srv.Close()

	tok, _ := testAuth.GenerateStudentToken(21)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/v1/student/invalidations?token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ready ws.ReadyResponse
	if err := conn.ReadJSON(&ready); err != nil || ready.Event != ws.EventReady || ready.UserID != 21 {
		t.Fatalf("ready = %+v, err %v", ready, err)
	}

	if err := conn.WriteJSON(ws.RequestEnvelope{Action: ws.ActionPing}); err != nil {
		t.Fatal(err)
	}
	var pong ws.PongResponse
	if err := conn.ReadJSON(&pong); err != nil || pong.Event != ws.EventPong {
		t.Fatalf("pong = %+v, err %v", pong, err)
	}

	inv := model.NewSubmissionInvalidation(21, uuid.New(), uuid.New(), time.Now().UTC())
	raw, _ := json.Marshal(inv)
	if err := rdb.Publish(context.Background(), config.CacheKey.UserInvalidationChannel(21), raw).Err(); err != nil {
		t.Fatal(err)
	}

	var got ws.InvalidationResponse
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read invalidation: %v", err)
	}
	if got.Event != ws.EventInvalidation || got.Invalidation.ResultID != inv.ResultID {
		t.Fatalf("got %+v", got)
	}
}

func TestHealth(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	_ = rdb.RPush(context.Background(), config.WorkerKey.InvalidationQueue, "{}", "{}").Err()

	h := NewSystemHandler(nil, rdb, zerolog.Nop())
	r := gin.New()
	r.GET("/health", h.Health)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var env struct {
		Data healthReport `json:"data"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	if env.Data.Status != "ok" || env.Data.InvalidationQueue != 2 {
		t.Fatalf("report = %+v", env.Data)
	}

	mr.Close()
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status with redis down = %d", w.Code)
	}
}
