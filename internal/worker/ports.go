package worker

import (
	"context"
	"time"

	"github.com/gauntlet/worker/internal/model"
	"github.com/gauntlet/worker/internal/oracle"
)

// SessionStore is the relational surface the worker reads. Satisfied by
// *database.Store.
type SessionStore interface {
	ActiveSession(ctx context.Context, now time.Time) (*model.Session, error)
	NextSession(ctx context.Context, now time.Time) (*model.Session, error)
	SessionByID(ctx context.Context, id int64) (*model.Session, error)
	PlayersBySession(ctx context.Context, sessionID int64) ([]model.Player, error)
}

// Broadcaster delivers events to connected gateway clients. Delivery is
// fire-and-forget; the worker never blocks on a slow client.
type Broadcaster interface {
	Publish(ctx context.Context, channel, event string, payload interface{})
}

// Oracle is the AI decision surface. Satisfied by *oracle.Client.
type Oracle interface {
	RoundAnnouncement(ctx context.Context, agentID string, roundNumber int) (string, error)
	DecideEliminations(ctx context.Context, req oracle.DecisionRequest) (*oracle.Decision, error)
}
