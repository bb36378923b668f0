package lobby

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gauntlet/worker/internal/hotstore"
	"github.com/gauntlet/worker/internal/model"
)

func testRoster(wallets ...string) []model.LobbyPlayer {
	players := make([]model.LobbyPlayer, 0, len(wallets))
	for _, w := range wallets {
		players = append(players, model.LobbyPlayer{
			WalletAddress: w,
			Status:        model.PlayerStatusActive,
			JoinedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		})
	}
	return players
}

func TestCreateLobbyIdempotent(t *testing.T) {
	ctx := context.Background()
	store := hotstore.NewMemoryStore()
	m := NewManager(store)

	first, err := m.CreateLobby(ctx, 7, "7-1", testRoster("0xaaa", "0xbbb"))
	require.NoError(t, err)
	require.Len(t, first.Players, 2)
	assert.Equal(t, model.LobbyStatusActive, first.Status)

	// A second create must not reshuffle the roster.
	again, err := m.CreateLobby(ctx, 7, "7-1", testRoster("0xccc"))
	require.NoError(t, err)
	assert.Equal(t, first.Players, again.Players)

	keys, err := store.SMembers(ctx, hotstore.LobbyIndexKey(7))
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestGetAllLobbiesSkipsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	store := hotstore.NewMemoryStore()
	m := NewManager(store)

	_, err := m.CreateLobby(ctx, 7, "7-1", testRoster("0xaaa"))
	require.NoError(t, err)
	_, err = m.CreateLobby(ctx, 7, "7-2", testRoster("0xbbb"))
	require.NoError(t, err)

	// Corrupt one blob and index a key that no longer resolves.
	require.NoError(t, store.Set(ctx, hotstore.LobbyKey(7, "7-2"), []byte("{not json"), 0))
	require.NoError(t, store.SAdd(ctx, hotstore.LobbyIndexKey(7), hotstore.LobbyKey(7, "7-9")))

	lobbies, err := m.GetAllLobbies(ctx, 7)
	require.NoError(t, err)
	require.Len(t, lobbies, 1)
	assert.Equal(t, "7-1", lobbies[0].ID)
}

func TestGetActiveLobbies(t *testing.T) {
	ctx := context.Background()
	store := hotstore.NewMemoryStore()
	m := NewManager(store)

	_, err := m.CreateLobby(ctx, 7, "7-1", testRoster("0xaaa"))
	require.NoError(t, err)
	_, err = m.CreateLobby(ctx, 7, "7-2", testRoster("0xbbb"))
	require.NoError(t, err)
	require.NoError(t, m.UpdateLobbyStatus(ctx, 7, "7-2", model.LobbyStatusCompleted))

	active, err := m.GetActiveLobbies(ctx, 7)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "7-1", active[0].ID)
}

func TestUpdateLobbyStatusMissingLobby(t *testing.T) {
	ctx := context.Background()
	m := NewManager(hotstore.NewMemoryStore())

	err := m.UpdateLobbyStatus(ctx, 7, "7-1", model.LobbyStatusCompleted)
	require.Error(t, err)
	assert.True(t, errors.Is(err, hotstore.ErrNotFound))
}

func TestGetVotingResults(t *testing.T) {
	ctx := context.Background()
	store := hotstore.NewMemoryStore()
	m := NewManager(store)

	key := hotstore.VotesKey(7, "7-1", 2)
	require.NoError(t, store.RPush(ctx, key, "continue", "SHARE", "continue", " share ", "banana", ""))

	results, err := m.GetVotingResults(ctx, 7, "7-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, results[model.VoteContinue])
	assert.Equal(t, 2, results[model.VoteShare])
	assert.Equal(t, 1, results["banana"])

	// No votes at all is an empty tally, not an error.
	empty, err := m.GetVotingResults(ctx, 7, "7-1", 3)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGetRemainingPlayers(t *testing.T) {
	ctx := context.Background()
	store := hotstore.NewMemoryStore()
	m := NewManager(store)

	lb, err := m.CreateLobby(ctx, 7, "7-1", testRoster("0xaaa", "0xbbb", "0xccc"))
	require.NoError(t, err)

	lb.SetPlayerStatus("0xbbb", model.PlayerStatusEliminated)
	require.NoError(t, m.UpdateLobby(ctx, lb))

	remaining, err := m.GetRemainingPlayers(ctx, 7, "7-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"0xaaa", "0xccc"}, remaining)

	// A completed lobby has no remaining players regardless of statuses.
	require.NoError(t, m.UpdateLobbyStatus(ctx, 7, "7-1", model.LobbyStatusCompleted))
	remaining, err = m.GetRemainingPlayers(ctx, 7, "7-1")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestAppendEliminationMergesInOrder(t *testing.T) {
	ctx := context.Background()
	m := NewManager(hotstore.NewMemoryStore())

	merged, err := m.AppendElimination(ctx, "7-1", []string{"0xaaa", "0xbbb"})
	require.NoError(t, err)
	assert.Equal(t, []string{"0xaaa", "0xbbb"}, merged)

	// Re-reporting an already-eliminated wallet must not duplicate it.
	merged, err = m.AppendElimination(ctx, "7-1", []string{"0xbbb", "0xccc"})
	require.NoError(t, err)
	assert.Equal(t, []string{"0xaaa", "0xbbb", "0xccc"}, merged)

	record, err := m.EliminatedPlayers(ctx, "7-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"0xaaa", "0xbbb", "0xccc"}, record)
}

func TestTopicCacheRoundtrip(t *testing.T) {
	ctx := context.Background()
	m := NewManager(hotstore.NewMemoryStore())

	require.NoError(t, m.CacheTopic(ctx, 7, 2, "7-1", "Tonight: trust no one."))

	topic, err := m.CachedTopic(ctx, 7, 2, "7-1")
	require.NoError(t, err)
	assert.Equal(t, "Tonight: trust no one.", topic)

	_, err = m.CachedTopic(ctx, 7, 3, "7-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, hotstore.ErrNotFound))
}

func TestClearVotes(t *testing.T) {
	ctx := context.Background()
	store := hotstore.NewMemoryStore()
	m := NewManager(store)

	key := hotstore.VotesKey(7, "7-1", 1)
	require.NoError(t, store.RPush(ctx, key, "continue"))
	require.NoError(t, m.ClearVotes(ctx, 7, "7-1", 1))

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestPurgeSessionScoped(t *testing.T) {
	ctx := context.Background()
	store := hotstore.NewMemoryStore()
	m := NewManager(store)

	// Populate the full constellation of keys for session 7.
	_, err := m.CreateLobby(ctx, 7, "7-1", testRoster("0xaaa", "0xbbb"))
	require.NoError(t, err)
	require.NoError(t, m.SetPlayerStatus(ctx, "7-1", "0xaaa", model.PlayerStatusActive))
	require.NoError(t, store.SAdd(ctx, hotstore.SessionPlayersKey(7), "0xaaa", "0xbbb"))
	require.NoError(t, store.RPush(ctx, hotstore.VotesKey(7, "7-1", 1), "continue"))
	require.NoError(t, m.CacheTopic(ctx, 7, 1, "7-1", "topic"))
	_, err = m.AppendElimination(ctx, "7-1", []string{"0xbbb"})
	require.NoError(t, err)
	require.NoError(t, store.RPush(ctx, hotstore.ForumMessagesKey("7-1"), "hello"))
	require.NoError(t, store.Set(ctx, hotstore.LeaseKey(7), []byte("worker-1"), 0))

	// A neighboring session must survive the purge.
	_, err = m.CreateLobby(ctx, 8, "8-1", testRoster("0xzzz"))
	require.NoError(t, err)

	require.NoError(t, m.PurgeSession(ctx, 7, false))

	for _, pattern := range []string{"lobby:session:7:*", "session:7:*", "voting:session:7:*", "topic:session:7:*", "lobby:7-1:*", "elimination:lobby:7-1", "forum:lobby:7-1:*"} {
		keys, err := store.ScanKeys(ctx, pattern)
		require.NoError(t, err)
		assert.Empty(t, keys, "pattern %s should be purged", pattern)
	}

	// The session lease belongs to the holder, not to the session state:
	// the purge runs at SESSION_START while the lease is held.
	holder, err := store.Get(ctx, hotstore.LeaseKey(7))
	require.NoError(t, err)
	assert.Equal(t, "worker-1", string(holder))

	survivor, err := m.GetLobby(ctx, 8, "8-1")
	require.NoError(t, err)
	assert.Equal(t, "8-1", survivor.ID)
}

func TestPurgeSessionFlush(t *testing.T) {
	ctx := context.Background()
	store := hotstore.NewMemoryStore()
	m := NewManager(store)

	_, err := m.CreateLobby(ctx, 7, "7-1", testRoster("0xaaa"))
	require.NoError(t, err)
	_, err = m.CreateLobby(ctx, 8, "8-1", testRoster("0xzzz"))
	require.NoError(t, err)

	require.NoError(t, m.PurgeSession(ctx, 7, true))

	// Flush empties the whole store, neighbors included.
	keys, err := store.ScanKeys(ctx, "*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}
