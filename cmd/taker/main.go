package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/stemsi/examprep/internal/client"
	"github.com/stemsi/examprep/internal/config"
	"github.com/stemsi/examprep/internal/events"
	"github.com/stemsi/examprep/internal/logger"
	"github.com/stemsi/examprep/internal/session"
	"golang.org/x/term"
)

func main() {
	var examFlag, tokenFlag string
	var archiveFlag bool
	flag.StringVar(&examFlag, "exam", "", "Exam ID to take (lists the schedule when empty)")
	flag.BoolVar(&archiveFlag, "archive", false, "List ended exams and results, then exit")
	flag.StringVar(&tokenFlag, "token", os.Getenv("EXAMPREP_TOKEN"), "Student bearer token")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	// Logs go to stderr so they never interleave with the question screen.
	log := logger.SetupWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Authenticate ──────────────────────────────────────────────────
	token := strings.TrimSpace(tokenFlag)
	if token == "" {
		var err error
		if token, err = promptToken(); err != nil {
			log.Fatal().Err(err).Msg("Failed to read token")
		}
	}
	api := client.New(cfg.APIBaseURL+"/api/v1", token, client.WithLogger(log))

	if archiveFlag {
		if err := printArchive(ctx, api); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		return
	}

	// Started after the token prompt so the scanner does not race term.ReadPassword.
	lines := readLines(os.Stdin)

	// ─── Invalidation Bus ──────────────────────────────────────────────
	bus := events.NewBus(log)
	defer bus.Close()

	lobby := newLobbyView(api, os.Stdout, log)
	invalidations, err := bus.Subscribe(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe to invalidations")
	}
	go lobby.follow(ctx, invalidations)

	// ─── Pick Exam ─────────────────────────────────────────────────────
	examID, err := pickExam(ctx, lobby, examFlag, lines)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	userID, err := userFromToken(token)
	if err != nil {
		log.Fatal().Err(err).Msg("Token carries no user")
	}

	// ─── Run Session ───────────────────────────────────────────────────
	ui := newScreen(os.Stdout, lines)
	ctrl := session.NewController(session.Options{
		ExamID:         examID,
		UserID:         userID,
		Gateway:        api,
		Publisher:      bus,
		Log:            log,
		OnTick:         ui.tick,
		OnSubmitFailed: ui.submitFailed,
	})
	ui.ctrl = ctrl

	since := lobby.generation()
	if err := ui.run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			ctrl.Abandon()
			fmt.Println("\nSession abandoned.")
			return
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	lobby.waitRefreshed(ctx, since)
}

// readLines feeds stdin lines to a channel so the session can react to the
// countdown while waiting for input.
func readLines(f *os.File) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			ch <- strings.TrimSpace(sc.Text())
		}
	}()
	return ch
}

func promptToken() (string, error) {
	fmt.Print("Student token: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	tok := strings.TrimSpace(string(raw))
	if tok == "" {
		return "", errors.New("token is required")
	}
	return tok, nil
}

func pickExam(ctx context.Context, lobby *lobbyView, examFlag string, lines <-chan string) (uuid.UUID, error) {
	if examFlag != "" {
		return uuid.Parse(examFlag)
	}

	listing, err := lobby.refresh(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("load schedule: %w", err)
	}
	if len(listing.Exams) == 0 {
		return uuid.Nil, errors.New("no live or upcoming exams")
	}

	for {
		fmt.Print("Take exam #: ")
		select {
		case <-ctx.Done():
			return uuid.Nil, ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return uuid.Nil, errors.New("no exam chosen")
			}
			var n int
			if _, err := fmt.Sscanf(line, "%d", &n); err != nil || n < 1 || n > len(listing.Exams) {
				fmt.Println("Enter a number from the list.")
				continue
			}
			return listing.Exams[n-1].ID, nil
		}
	}
}

func printArchive(ctx context.Context, api *client.Client) error {
	listing, err := api.Archive(ctx)
	if err != nil {
		return err
	}
	fmt.Println("\n=== Archive ===")
	if len(listing.Exams) == 0 {
		fmt.Println("  (no ended exams)")
	}
	for _, e := range listing.Exams {
		result := "not taken"
		if e.ResultID != nil {
			result = "result " + e.ResultID.String()
		}
		fmt.Printf("  %-28s %s  %s\n", e.Title, e.ExamDate, result)
	}
	return nil
}

// userFromToken reads the user id claim without verifying the signature;
// the server does that on every request.
func userFromToken(token string) (int, error) {
	claims, err := client.PeekClaims(token)
	if err != nil {
		return 0, err
	}
	return claims.UserID, nil
}
