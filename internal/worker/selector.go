package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/gauntlet/worker/internal/hotstore"
	"github.com/gauntlet/worker/internal/model"
)

// Selector decides which session the worker drives next: the currently
// active one, else the next scheduled one, else it blocks on the
// new-session channel until the registration API announces one.
type Selector struct {
	db    SessionStore
	store hotstore.Store
	bus   Broadcaster
	clock clockwork.Clock

	// onWait, when set, fires as Pick starts blocking on announcements.
	onWait func()
}

func NewSelector(db SessionStore, store hotstore.Store, bus Broadcaster, clk clockwork.Clock) *Selector {
	return &Selector{db: db, store: store, bus: bus, clock: clk}
}

// Pick returns the next session to drive, skipping ids in completed.
// Blocks until a session is available or ctx ends.
func (s *Selector) Pick(ctx context.Context, completed map[int64]bool) (*model.Session, error) {
	now := s.clock.Now()

	active, err := s.db.ActiveSession(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("worker: query active session: %w", err)
	}
	if active != nil {
		if !completed[active.ID] {
			slog.Info("[Selector] Found active session", "sessionID", active.ID, "name", active.Name)
			return active, nil
		}
		slog.Info("[Selector] Active session already driven to completion", "sessionID", active.ID)
	}

	next, err := s.db.NextSession(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("worker: query next session: %w", err)
	}
	if next != nil && !completed[next.ID] {
		slog.Info("[Selector] Found upcoming session",
			"sessionID", next.ID, "name", next.Name, "startTime", next.StartTime)
		return next, nil
	}

	return s.waitForAnnouncement(ctx, completed)
}

// waitForAnnouncement blocks on the new-session channel for one usable
// session id. The handler hands ids over a buffered one-shot channel;
// duplicate deliveries while we are loading are dropped harmlessly.
func (s *Selector) waitForAnnouncement(ctx context.Context, completed map[int64]bool) (*model.Session, error) {
	slog.Info("[Selector] No sessions scheduled, waiting for announcement",
		"channel", hotstore.ChannelNewSession)
	if s.onWait != nil {
		s.onWait()
	}

	ids := make(chan int64, 1)
	unsubscribe, err := s.store.Subscribe(ctx, hotstore.ChannelNewSession, func(msg []byte) {
		var payload struct {
			SessionID int64 `json:"sessionId"`
		}
		if err := json.Unmarshal(msg, &payload); err != nil {
			slog.Warn("[Selector] Malformed new-session payload", "error", err)
			return
		}
		if payload.SessionID == 0 {
			slog.Warn("[Selector] new-session payload without sessionId")
			return
		}
		select {
		case ids <- payload.SessionID:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("worker: subscribe %s: %w", hotstore.ChannelNewSession, err)
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case id := <-ids:
			if completed[id] {
				slog.Info("[Selector] Announced session already completed", "sessionID", id)
				continue
			}
			session, err := s.db.SessionByID(ctx, id)
			if err != nil {
				// Caller re-picks; by then the announced session shows up
				// in the active/next queries anyway.
				return nil, fmt.Errorf("worker: load announced session %d: %w", id, err)
			}
			if session == nil {
				slog.Warn("[Selector] Announced session not found", "sessionID", id)
				continue
			}

			slog.Info("[Selector] Received session announcement", "sessionID", session.ID, "name", session.Name)
			s.bus.Publish(ctx, ChannelSessions, EventNewSession, NewSessionPayload{
				SessionID: session.ID,
				Name:      session.Name,
				StartTime: session.StartTime,
				EndTime:   session.EndTime,
			})
			return session, nil
		}
	}
}
