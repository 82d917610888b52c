package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stemsi/examprep/internal/config"
	"github.com/stemsi/examprep/internal/database"
	"github.com/stemsi/examprep/internal/handler"
	"github.com/stemsi/examprep/internal/logger"
	"github.com/stemsi/examprep/internal/middleware"
	"github.com/stemsi/examprep/internal/repository"
	"github.com/stemsi/examprep/internal/router"
	"github.com/stemsi/examprep/internal/service"
	"github.com/stemsi/examprep/internal/validator"
	"github.com/stemsi/examprep/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("exam_timezone", cfg.ExamTimezone.String()).
		Msg("Starting ExamPrep API")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	submissionRepo := repository.NewSubmissionRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	clk := clock.New()
	authService := service.NewAuthService(cfg)
	examService := service.NewExamService(examRepo, questionRepo, rdb, log)
	takingService := service.NewTakingService(examService, submissionRepo, rdb, clk, cfg.ExamTimezone, log)
	lobbyService := service.NewLobbyService(examRepo, submissionRepo, rdb, clk, cfg.ExamTimezone, cfg.ListingCacheTTL, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		StudentPortal: handler.NewStudentPortalHandler(takingService, lobbyService, log),
		WS:            handler.NewWSHandler(rdb, log, cfg.AllowedOrigins),
		System:        handler.NewSystemHandler(pool, rdb, log),
	}
	submitLimiter := middleware.NewRateLimiter(rdb, "submit", cfg.SubmitRatePerMinute, time.Minute, log)

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load all published exams into Redis BEFORE accepting traffic.
	if err := examService.PrewarmAllCaches(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	invalidationWorker := worker.NewInvalidationWorker(rdb, log)
	workers.Add(1)
	go func() {
		defer workers.Done()
		invalidationWorker.Start(workerCtx)
	}()

	statusWorker := worker.NewStatusWorker(examRepo, lobbyService, examService, clk, cfg.ExamTimezone, cfg.StatusRefreshInterval, log)
	if err := statusWorker.Start(workerCtx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start status worker")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, submitLimiter, handlers, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers; the invalidation worker flushes its batch.
	workerCancel()
	statusWorker.Stop()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
