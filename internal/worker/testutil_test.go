package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/gauntlet/worker/internal/hotstore"
	"github.com/gauntlet/worker/internal/lobby"
	"github.com/gauntlet/worker/internal/metrics"
	"github.com/gauntlet/worker/internal/model"
	"github.com/gauntlet/worker/internal/oracle"
)

// stubDB serves sessions from memory with the same window semantics as
// the SQL queries.
type stubDB struct {
	mu       sync.Mutex
	sessions []*model.Session
	err      error
	lookedUp []int64
}

func (db *stubDB) ActiveSession(_ context.Context, now time.Time) (*model.Session, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.err != nil {
		return nil, db.err
	}
	var best *model.Session
	for _, s := range db.sessions {
		if !now.Before(s.StartTime) && !now.After(s.EndTime) {
			if best == nil || s.StartTime.Before(best.StartTime) {
				best = s
			}
		}
	}
	return best, nil
}

func (db *stubDB) NextSession(_ context.Context, now time.Time) (*model.Session, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.err != nil {
		return nil, db.err
	}
	var best *model.Session
	for _, s := range db.sessions {
		if s.StartTime.After(now) {
			if best == nil || s.StartTime.Before(best.StartTime) {
				best = s
			}
		}
	}
	return best, nil
}

func (db *stubDB) SessionByID(_ context.Context, id int64) (*model.Session, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.lookedUp = append(db.lookedUp, id)
	if db.err != nil {
		return nil, db.err
	}
	for _, s := range db.sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, nil
}

// sawLookup reports whether SessionByID was called with id.
func (db *stubDB) sawLookup(id int64) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, got := range db.lookedUp {
		if got == id {
			return true
		}
	}
	return false
}

// add registers a session mid-test, the way the registration API inserts
// rows while the worker runs.
func (db *stubDB) add(s *model.Session) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.sessions = append(db.sessions, s)
}

func (db *stubDB) PlayersBySession(_ context.Context, id int64) ([]model.Player, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.err != nil {
		return nil, db.err
	}
	for _, s := range db.sessions {
		if s.ID == id {
			return s.Players, nil
		}
	}
	return nil, nil
}

// stubOracle answers with a fixed topic and per-lobby decisions.
type stubOracle struct {
	mu          sync.Mutex
	topic       string
	topicErr    error
	decisions   map[string]*oracle.Decision
	decideErr   error
	decideCalls []oracle.DecisionRequest
}

func (o *stubOracle) RoundAnnouncement(_ context.Context, _ string, _ int) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.topicErr != nil {
		return "", o.topicErr
	}
	return o.topic, nil
}

func (o *stubOracle) DecideEliminations(_ context.Context, req oracle.DecisionRequest) (*oracle.Decision, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decideCalls = append(o.decideCalls, req)
	if o.decideErr != nil {
		return nil, o.decideErr
	}
	if d, ok := o.decisions[req.LobbyID]; ok {
		return d, nil
	}
	return &oracle.Decision{Success: true}, nil
}

type recordedEvent struct {
	Channel string
	Event   string
	Payload interface{}
}

// recordingBus captures broadcasts for assertions.
type recordingBus struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (b *recordingBus) Publish(_ context.Context, channel, event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{Channel: channel, Event: event, Payload: payload})
}

func (b *recordingBus) channel(channel string) []recordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []recordedEvent
	for _, e := range b.events {
		if e.Channel == channel {
			out = append(out, e)
		}
	}
	return out
}

func (b *recordingBus) eventNames(channel string) []string {
	var names []string
	for _, e := range b.channel(channel) {
		names = append(names, e.Event)
	}
	return names
}

func (b *recordingBus) find(channel, event string) (recordedEvent, bool) {
	for _, e := range b.channel(channel) {
		if e.Event == event {
			return e, true
		}
	}
	return recordedEvent{}, false
}

func (b *recordingBus) waitFor(t *testing.T, channel, event string) recordedEvent {
	t.Helper()
	var got recordedEvent
	require.Eventually(t, func() bool {
		e, ok := b.find(channel, event)
		got = e
		return ok
	}, 5*time.Second, 5*time.Millisecond, "waiting for %s/%s", channel, event)
	return got
}

// spyStore signals when the worker subscribes, so tests publish only
// after the subscription exists.
type spyStore struct {
	hotstore.Store
	subscribed chan string
}

func newSpyStore(inner hotstore.Store) *spyStore {
	return &spyStore{Store: inner, subscribed: make(chan string, 4)}
}

func (s *spyStore) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	unsub, err := s.Store.Subscribe(ctx, channel, handler)
	select {
	case s.subscribed <- channel:
	default:
	}
	return unsub, err
}

// oneRoundSession mirrors the one-round happy-path layout: AMS at start,
// AME +30s, RS +35s, RE +4m, ES +4m05s, EE +5m, VS +5m05s, VE +9m, end
// +10m.
func oneRoundSession(t0 time.Time, wallets ...string) *model.Session {
	players := make([]model.Player, 0, len(wallets))
	for i, w := range wallets {
		players = append(players, model.Player{
			ID:            int64(i + 1),
			SessionID:     1,
			WalletAddress: w,
			JoinedAt:      t0.Add(-time.Hour).Add(time.Duration(i) * time.Minute),
			Status:        model.PlayerStatusActive,
		})
	}
	return &model.Session{
		ID:              1,
		Name:            "Friday Gauntlet",
		MaxTotalPlayers: 10,
		TotalRounds:     1,
		StartTime:       t0,
		EndTime:         t0.Add(10 * time.Minute),
		Rounds: []model.Round{{
			ID:               11,
			SessionID:        1,
			Number:           1,
			AIMessageStart:   t0,
			AIMessageEnd:     t0.Add(30 * time.Second),
			StartTime:        t0.Add(35 * time.Second),
			EndTime:          t0.Add(4 * time.Minute),
			EliminationStart: t0.Add(4*time.Minute + 5*time.Second),
			EliminationEnd:   t0.Add(5 * time.Minute),
			VotingStartTime:  t0.Add(5*time.Minute + 5*time.Second),
			VotingEndTime:    t0.Add(9 * time.Minute),
		}},
		Players: players,
	}
}

type testWorker struct {
	w       *Worker
	bus     *recordingBus
	store   hotstore.Store
	lobbies *lobby.Manager
	oracle  *stubOracle
	db      *stubDB
}

func newTestWorker(t *testing.T, db *stubDB, orc *stubOracle, clk clockwork.Clock, store hotstore.Store) *testWorker {
	t.Helper()
	if store == nil {
		store = hotstore.NewMemoryStore()
	}
	t.Cleanup(func() { _ = store.Close() })

	mgr := lobby.NewManager(store)
	dist := lobby.NewDistributor(store, db, mgr)
	bus := &recordingBus{}
	w := New(Config{
		InstanceID:       "worker-test",
		AgentID:          "gamemaster",
		PhaseParallelism: 4,
		LobbyCapacity:    10,
	}, Deps{
		DB:      db,
		Store:   store,
		Lobbies: mgr,
		Dist:    dist,
		Oracle:  orc,
		Bus:     bus,
		Clock:   clk,
		Metrics: metrics.New(prometheus.NewRegistry()),
	})
	return &testWorker{w: w, bus: bus, store: store, lobbies: mgr, oracle: orc, db: db}
}

// seedLobby creates a lobby directly, bypassing distribution, for
// handler-level tests.
func (tw *testWorker) seedLobby(t *testing.T, sessionID int64, lobbyID string, wallets ...string) *model.Lobby {
	t.Helper()
	players := make([]model.LobbyPlayer, 0, len(wallets))
	for _, w := range wallets {
		players = append(players, model.LobbyPlayer{
			WalletAddress: w,
			Status:        model.PlayerStatusActive,
			JoinedAt:      time.Date(2026, 3, 14, 17, 0, 0, 0, time.UTC),
		})
	}
	lb, err := tw.lobbies.CreateLobby(context.Background(), sessionID, lobbyID, players)
	require.NoError(t, err)
	return lb
}

func walletRange(n int) []string {
	wallets := make([]string, 0, n)
	for i := 0; i < n; i++ {
		wallets = append(wallets, fmt.Sprintf("0x%03d", i+1))
	}
	return wallets
}
