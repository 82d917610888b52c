package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestIDMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) { Success(c, http.StatusOK, gin.H{"ok": true}) })

	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{"generated", "", false},
		{"client id kept", "trace-123", true},
		{"too long", strings.Repeat("x", maxRequestIDLength+1), false},
		{"control characters", "abc\tdef", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("X-Request-ID", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			got := w.Header().Get("X-Request-ID")
			if got == "" {
				t.Fatal("no X-Request-ID")
			}
			if tt.keep != (got == tt.header) {
				t.Fatalf("X-Request-ID = %q, header %q, keep %v", got, tt.header, tt.keep)
			}

			var body Response
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Metadata.RequestID != got {
				t.Fatalf("metadata request_id = %q, want %q", body.Metadata.RequestID, got)
			}
		})
	}
}

func TestFailWithData(t *testing.T) {
	r := gin.New()
	r.GET("/", func(c *gin.Context) {
		FailWithData(c, http.StatusConflict, ErrDuplicateSubmission, gin.H{"result_id": "r-1"})
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusConflict {
		t.Fatalf("status %d", w.Code)
	}
	var body struct {
		Data  map[string]string `json:"data"`
		Error ErrorBody         `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Code != ErrDuplicateSubmission || body.Data["result_id"] != "r-1" {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
	if body.Error.Message == "" {
		t.Fatal("missing message")
	}
}
