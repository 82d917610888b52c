package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/examprep/internal/config"
	"github.com/stemsi/examprep/internal/response"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandler reports process and dependency health.
type SystemHandler struct {
	db        Pinger
	rdb       *redis.Client
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(db Pinger, rdb *redis.Client, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		db:        db,
		rdb:       rdb,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthReport struct {
	Status            string            `json:"status"`
	Uptime            string            `json:"uptime"`
	Checks            map[string]string `json:"checks"`
	Goroutines        int               `json:"goroutines"`
	HeapAlloc         uint64            `json:"heap_alloc"`
	GoVersion         string            `json:"go_version"`
	InvalidationQueue int64             `json:"invalidation_queue"`
}

// Health godoc
// GET /health
// 200 when PostgreSQL and Redis answer, 503 otherwise.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	report := healthReport{
		Status:     "ok",
		Uptime:     formatDuration(time.Since(h.startTime)),
		Checks:     map[string]string{"postgres": "ok", "redis": "ok"},
		Goroutines: runtime.NumGoroutine(),
		GoVersion:  runtime.Version(),
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	report.HeapAlloc = ms.HeapAlloc

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			report.Checks["postgres"] = err.Error()
			report.Status = "degraded"
		}
	}

	pipe := h.rdb.Pipeline()
	pipe.Ping(ctx)
	queueCmd := pipe.LLen(ctx, config.WorkerKey.InvalidationQueue)
	if _, err := pipe.Exec(ctx); err != nil {
		report.Checks["redis"] = err.Error()
		report.Status = "degraded"
	} else {
		report.InvalidationQueue = queueCmd.Val()
	}

	status := http.StatusOK
	if report.Status != "ok" {
		h.log.Warn().Interface("checks", report.Checks).Msg("Health check degraded")
		status = http.StatusServiceUnavailable
	}
	response.Success(c, status, report)
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
