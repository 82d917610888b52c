// Package client talks to the exam API on behalf of one student. It
// implements session.Gateway.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examprep/internal/model"
	"github.com/stemsi/examprep/internal/response"
	"github.com/stemsi/examprep/internal/session"
)

const defaultTimeout = 10 * time.Second

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	StatusCode int
	Code       response.ErrCode
	Message    string
	Fields     map[string]string
	RequestID  string
	data       json.RawMessage
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// Transient reports whether the same request may succeed later.
func (e *APIError) Transient() bool {
	switch {
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode == http.StatusRequestTimeout:
		return true
	}
	return false
}

type envelope struct {
	Data     json.RawMessage     `json:"data"`
	Error    *response.ErrorBody `json:"error"`
	Metadata response.Metadata   `json:"metadata"`
}

// Client is an authenticated API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default 10s-timeout client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a Client for baseURL (e.g. http://localhost:8080/api/v1)
// authenticating with the bearer token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "api_client").Logger()
	return c
}

// FetchForTaking loads the exam for taking. When the student already
// submitted the payload has HasSubmitted set and no questions.
func (c *Client) FetchForTaking(ctx context.Context, examID uuid.UUID) (*model.ExamForTaking, error) {
	var out model.ExamForTaking
	if err := c.do(ctx, http.MethodGet, "/student/exams/"+examID.String()+"/take", nil, &out); err != nil {
		return nil, fmt.Errorf("fetch exam %s: %w", examID, err)
	}
	return &out, nil
}

// Submit sends the answers. A duplicate maps to session.ErrDuplicateSubmission
// (a *session.DuplicateSubmissionError when the server named the existing
// result) and a refused payload to session.ErrSubmissionRejected. Everything
// else, network failures included, is returned as is and may be retried.
func (c *Client) Submit(ctx context.Context, examID uuid.UUID, req model.SubmitRequest) (*model.SubmitResult, error) {
	var out model.SubmitResult
	err := c.do(ctx, http.MethodPost, "/student/exams/"+examID.String()+"/submit", req, &out)
	if err == nil {
		return &out, nil
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return nil, fmt.Errorf("submit exam %s: %w", examID, err)
	}

	switch {
	case apiErr.StatusCode == http.StatusConflict && apiErr.Code == response.ErrDuplicateSubmission:
		var existing model.SubmitResult
		if len(apiErr.data) > 0 && json.Unmarshal(apiErr.data, &existing) == nil && existing.ResultID != uuid.Nil {
			return nil, &session.DuplicateSubmissionError{ResultID: existing.ResultID}
		}
		return nil, fmt.Errorf("%w: %v", session.ErrDuplicateSubmission, apiErr)
	case apiErr.Transient():
		return nil, fmt.Errorf("submit exam %s: %w", examID, apiErr)
	default:
		return nil, fmt.Errorf("%w: %v", session.ErrSubmissionRejected, apiErr)
	}
}

// Schedule returns the student's live and upcoming exams.
func (c *Client) Schedule(ctx context.Context) (*model.Listing, error) {
	var out model.Listing
	if err := c.do(ctx, http.MethodGet, "/student/schedule", nil, &out); err != nil {
		return nil, fmt.Errorf("fetch schedule: %w", err)
	}
	return &out, nil
}

// Archive returns the student's ended exams, most recent first.
func (c *Client) Archive(ctx context.Context) (*model.Listing, error) {
	var out model.Listing
	if err := c.do(ctx, http.MethodGet, "/student/archive", nil, &out); err != nil {
		return nil, fmt.Errorf("fetch archive: %w", err)
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("request_id", env.Metadata.RequestID).
		Dur("latency", time.Since(start)).
		Msg("API call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: env.Metadata.RequestID, data: env.Data}
		if decodeErr == nil && env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Fields = env.Error.Fields
		}
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
