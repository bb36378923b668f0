// Package worker hosts the session orchestrator: a single long-lived
// actor that picks a session, walks its phase timeline against the wall
// clock, fans per-lobby work out at each boundary, and broadcasts the
// results. Sessions are driven strictly one at a time.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gauntlet/worker/internal/clock"
	"github.com/gauntlet/worker/internal/hotstore"
	"github.com/gauntlet/worker/internal/lobby"
	"github.com/gauntlet/worker/internal/metrics"
	"github.com/gauntlet/worker/internal/model"
	"github.com/gauntlet/worker/internal/timeline"
)

// pickRetryDelay paces re-selection after a transient store failure.
const pickRetryDelay = 5 * time.Second

// Config tunes one worker instance.
type Config struct {
	InstanceID       string
	AgentID          string
	PhaseParallelism int
	LobbyCapacity    int
	PurgeFlush       bool
	LeaseEnabled     bool
	LeaseTTL         time.Duration
	LeaseRefresh     time.Duration
}

// Deps wires the worker's collaborators. Clock and Metrics may be nil;
// real implementations are substituted.
type Deps struct {
	DB      SessionStore
	Store   hotstore.Store
	Lobbies *lobby.Manager
	Dist    *lobby.Distributor
	Oracle  Oracle
	Bus     Broadcaster
	Clock   clockwork.Clock
	Metrics *metrics.Metrics
}

// Worker drives session lifecycles.
type Worker struct {
	cfg      Config
	db       SessionStore
	store    hotstore.Store
	lobbies  *lobby.Manager
	dist     *lobby.Distributor
	oracle   Oracle
	bus      Broadcaster
	clock    clockwork.Clock
	metrics  *metrics.Metrics
	selector *Selector
	lease    *Lease

	mu        sync.Mutex
	status    Status
	completed map[int64]bool
}

func New(cfg Config, deps Deps) *Worker {
	if cfg.InstanceID == "" {
		cfg.InstanceID = "worker-" + uuid.NewString()[:8]
	}
	if cfg.AgentID == "" {
		cfg.AgentID = "gamemaster"
	}
	if cfg.PhaseParallelism < 1 {
		cfg.PhaseParallelism = 8
	}
	if cfg.LobbyCapacity < 1 {
		cfg.LobbyCapacity = 10
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(prometheus.NewRegistry())
	}

	w := &Worker{
		cfg:       cfg,
		db:        deps.DB,
		store:     deps.Store,
		lobbies:   deps.Lobbies,
		dist:      deps.Dist,
		oracle:    deps.Oracle,
		bus:       deps.Bus,
		clock:     deps.Clock,
		metrics:   deps.Metrics,
		completed: make(map[int64]bool),
		status: Status{
			InstanceID:        cfg.InstanceID,
			State:             StateSelecting,
			CompletedSessions: []int64{},
			UpdatedAt:         deps.Clock.Now().UTC(),
		},
	}
	w.selector = NewSelector(deps.DB, deps.Store, deps.Bus, deps.Clock)
	w.selector.onWait = func() { w.setState(StateWaiting) }
	if cfg.LeaseEnabled {
		w.lease = NewLease(deps.Store, cfg.InstanceID, cfg.LeaseTTL, cfg.LeaseRefresh, deps.Clock)
	}
	return w
}

// Run drives sessions until ctx ends. Always returns ctx's error.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("[Worker] Starting session worker", "instanceID", w.cfg.InstanceID)
	defer w.setState(StateStopped)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.setState(StateSelecting)

		session, err := w.selector.Pick(ctx, w.completedSet())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("[Worker] Session selection failed, retrying",
				"error", err, "retryIn", pickRetryDelay)
			if serr := clock.SleepFor(ctx, w.clock, pickRetryDelay); serr != nil {
				return serr
			}
			continue
		}

		if w.monitor(ctx, session) {
			w.markCompleted(session.ID)
			w.metrics.SessionsDriven.Inc()
			slog.Info("[Worker] Session driven to completion", "sessionID", session.ID)
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Lease held elsewhere or lost mid-flight; give the holder a TTL
		// before contending again.
		if serr := clock.SleepFor(ctx, w.clock, w.cfg.LeaseTTL); serr != nil {
			return serr
		}
	}
}

// monitor walks one session's timeline to its end. Reports whether the
// session was driven to completion; false means the caller must not mark
// it completed (interrupted, or the lease belongs to another instance).
func (w *Worker) monitor(ctx context.Context, s *model.Session) bool {
	slog.Info("[Worker] Monitoring session",
		"sessionID", s.ID, "name", s.Name,
		"startTime", s.StartTime, "endTime", s.EndTime, "rounds", len(s.Rounds))

	monitorCtx := ctx
	if w.lease != nil {
		leaseCtx, release, ok, err := w.lease.Acquire(ctx, s.ID)
		if err != nil {
			slog.Error("[Worker] Lease acquisition failed", "sessionID", s.ID, "error", err)
			return false
		}
		if !ok {
			return false
		}
		defer release()
		monitorCtx = leaseCtx
	}

	w.setSession(s.ID, s.Name)

	tl := timeline.Build(s, w.clock.Now())
	now := w.clock.Now()
	if !now.Before(tl.End()) {
		slog.Info("[Worker] Session already over, nothing to drive", "sessionID", s.ID)
		return true
	}

	// Resume at the first unreached boundary. Events sharing one instant
	// stay in canonical phase order and all fire once reached.
	events := tl.Events()
	idx := 0
	for idx < len(events) && !events[idx].Time.After(now) {
		idx++
	}
	if idx > 0 && idx < len(events) {
		slog.Info("[Worker] Resuming mid-session",
			"sessionID", s.ID, "skippedBoundaries", idx, "nextPhase", events[idx].Phase)
	}

	for ; idx < len(events); idx++ {
		evt := events[idx]
		w.setNextEvent(&evt)
		if err := clock.SleepUntil(monitorCtx, w.clock, evt.Time); err != nil {
			slog.Info("[Worker] Monitoring interrupted",
				"sessionID", s.ID, "pendingPhase", evt.Phase, "error", err)
			return false
		}
		w.dispatch(monitorCtx, s, &evt)
		if evt.Phase == timeline.PhaseSessionEnd {
			return true
		}
	}

	slog.Info("[Worker] Timeline exhausted", "sessionID", s.ID)
	return true
}

// dispatch runs one phase handler with panic recovery. Handler errors are
// recorded and logged, never propagated: the timeline walk must survive
// any single phase.
func (w *Worker) dispatch(ctx context.Context, s *model.Session, evt *timeline.Event) {
	lag := w.clock.Now().Sub(evt.Time)
	w.metrics.RecordWakeupLag(lag.Seconds())
	slog.Info("[Worker] Dispatching phase",
		"phase", evt.Phase, "sessionID", s.ID, "round", evt.Round, "lag", lag)

	start := time.Now()
	err := w.safeHandle(ctx, s, evt)
	w.metrics.RecordPhase(string(evt.Phase), err != nil, time.Since(start).Seconds())
	if err != nil {
		slog.Error("[Worker] Phase handler failed",
			"phase", evt.Phase, "sessionID", s.ID, "round", evt.Round, "error", err)
	}
}

func (w *Worker) safeHandle(ctx context.Context, s *model.Session, evt *timeline.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker: phase %s panicked: %v", evt.Phase, r)
		}
	}()
	return w.handle(ctx, s, evt)
}
