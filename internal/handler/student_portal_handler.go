package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examprep/internal/middleware"
	"github.com/stemsi/examprep/internal/model"
	"github.com/stemsi/examprep/internal/response"
	"github.com/stemsi/examprep/internal/service"
	"github.com/stemsi/examprep/internal/validator"
)

// Taker is implemented by *service.TakingService.
type Taker interface {
	ForTaking(ctx context.Context, examID uuid.UUID, userID int) (*model.ExamForTaking, error)
	Submit(ctx context.Context, examID uuid.UUID, userID int, answers map[uuid.UUID]int) (*model.SubmitResult, error)
}

// Lobby is implemented by *service.LobbyService. Listings come back as
// encoded JSON straight from the cache.
type Lobby interface {
	Schedule(ctx context.Context, userID int) ([]byte, error)
	Archive(ctx context.Context, userID int) ([]byte, error)
	Dashboard(ctx context.Context, userID int) ([]byte, error)
	Leaderboard(ctx context.Context, examID uuid.UUID, limit int) ([]model.LeaderboardEntry, error)
}

// StudentPortalHandler handles student-facing endpoints (exam taking, lobby).
type StudentPortalHandler struct {
	taking Taker
	lobby  Lobby
	log    zerolog.Logger
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(taking Taker, lobby Lobby, log zerolog.Logger) *StudentPortalHandler {
	return &StudentPortalHandler{
		taking: taking,
		lobby:  lobby,
		log:    log.With().Str("component", "student_portal_handler").Logger(),
	}
}

// failService maps service errors onto the envelope.
func (h *StudentPortalHandler) failService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrExamNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrExamNotAvailable):
		response.Fail(c, http.StatusForbidden, response.ErrExamNotAvailable)
	case errors.Is(err, service.ErrNoQuestions):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrNoQuestions)
	case errors.Is(err, service.ErrUnknownQuestion):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrUnknownQuestion)
	case errors.Is(err, service.ErrInvalidOption):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrInvalidOption)
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

func examIDParam(c *gin.Context) (uuid.UUID, bool) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return examID, true
}

// TakeExam godoc
// GET /api/v1/student/exams/:exam_id/take
// Returns the exam without correct answers, or a reference to the existing
// result when the student already submitted.
func (h *StudentPortalHandler) TakeExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := examIDParam(c)
	if !ok {
		return
	}

	payload, err := h.taking.ForTaking(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		h.failService(c, err)
		return
	}
	response.Success(c, http.StatusOK, payload)
}

// SubmitExam godoc
// POST /api/v1/student/exams/:exam_id/submit
// Grades and records the answers. A repeat submit answers 409 and carries
// the existing result id.
func (h *StudentPortalHandler) SubmitExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := examIDParam(c)
	if !ok {
		return
	}

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if req.UserID != 0 && req.UserID != claims.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrUserMismatch)
		return
	}

	result, err := h.taking.Submit(c.Request.Context(), examID, claims.UserID, req.Answers)
	if errors.Is(err, service.ErrDuplicateSubmission) && result != nil {
		response.FailWithData(c, http.StatusConflict, response.ErrDuplicateSubmission, gin.H{"result_id": result.ResultID})
		return
	}
	if err != nil {
		h.failService(c, err)
		return
	}
	response.Success(c, http.StatusCreated, result)
}

// GetSchedule godoc
// GET /api/v1/student/schedule
// Live exams first, then upcoming ones, each soonest first.
func (h *StudentPortalHandler) GetSchedule(c *gin.Context) {
	h.serveListing(c, h.lobby.Schedule)
}

// GetArchive godoc
// GET /api/v1/student/archive
func (h *StudentPortalHandler) GetArchive(c *gin.Context) {
	h.serveListing(c, h.lobby.Archive)
}

// GetDashboard godoc
// GET /api/v1/student/dashboard
func (h *StudentPortalHandler) GetDashboard(c *gin.Context) {
	h.serveListing(c, h.lobby.Dashboard)
}

func (h *StudentPortalHandler) serveListing(c *gin.Context, load func(context.Context, int) ([]byte, error)) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	data, err := load(c.Request.Context(), claims.UserID)
	if err != nil {
		h.failService(c, err)
		return
	}
	response.Raw(c, http.StatusOK, data)
}

// GetLeaderboard godoc
// GET /api/v1/student/exams/:exam_id/leaderboard?limit=10
func (h *StudentPortalHandler) GetLeaderboard(c *gin.Context) {
	examID, ok := examIDParam(c)
	if !ok {
		return
	}
	limit := service.DefaultLeaderboardSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{"limit": "must be a positive integer"})
			return
		}
		limit = n
	}

	entries, err := h.lobby.Leaderboard(c.Request.Context(), examID, limit)
	if err != nil {
		h.failService(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"entries": entries})
}
