package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/examprep/internal/client"
	"github.com/stemsi/examprep/internal/model"
)

// lobbyView is the cached schedule. It refetches whenever an invalidation
// names one of the lists it shows.
type lobbyView struct {
	api *client.Client
	out io.Writer
	log zerolog.Logger

	mu        sync.Mutex
	listing   *model.Listing
	applied   int
	refreshed chan struct{}
}

func newLobbyView(api *client.Client, out io.Writer, log zerolog.Logger) *lobbyView {
	return &lobbyView{api: api, out: out, log: log, refreshed: make(chan struct{})}
}

func (v *lobbyView) refresh(ctx context.Context) (*model.Listing, error) {
	listing, err := v.api.Schedule(ctx)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.listing = listing
	v.mu.Unlock()
	v.render(listing)
	return listing, nil
}

func (v *lobbyView) render(l *model.Listing) {
	fmt.Fprintln(v.out, "\n=== Your Schedule ===")
	if len(l.Exams) == 0 {
		fmt.Fprintln(v.out, "  (nothing live or upcoming)")
	}
	for i, e := range l.Exams {
		mark := ""
		if e.Submitted {
			mark = "  [submitted]"
		}
		when := e.ExamDate + " " + e.StartTime + "-" + e.EndTime
		if e.Ambiguous {
			when = "schedule unavailable"
		}
		fmt.Fprintf(v.out, "%2d. %-8s %-28s %s, %d min%s\n", i+1, e.Status, e.Title, when, e.DurationMinutes, mark)
	}
}

// follow applies invalidations until ctx ends.
func (v *lobbyView) follow(ctx context.Context, invalidations <-chan model.Invalidation) {
	for inv := range invalidations {
		if !slices.Contains(inv.Collections, model.CollectionUserExams) {
			continue
		}
		v.log.Debug().Str("exam_id", inv.ExamID.String()).Msg("Schedule invalidated")
		if _, err := v.refresh(ctx); err != nil {
			v.log.Warn().Err(err).Msg("Schedule refresh failed")
		}

		v.mu.Lock()
		v.applied++
		close(v.refreshed)
		v.refreshed = make(chan struct{})
		v.mu.Unlock()
	}
}

// generation returns how many invalidations have been applied.
func (v *lobbyView) generation() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.applied
}

// waitRefreshed waits, briefly, for an invalidation applied after
// generation since.
func (v *lobbyView) waitRefreshed(ctx context.Context, since int) {
	timeout := time.After(3 * time.Second)
	for {
		v.mu.Lock()
		applied, ch := v.applied, v.refreshed
		v.mu.Unlock()
		if applied > since {
			return
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return
		case <-timeout:
			return
		}
	}
}
