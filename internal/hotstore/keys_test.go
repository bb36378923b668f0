package hotstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// The key layout is a cross-service contract: the registration API and the
// vote/forum writers address the same keys. Pin the exact strings.
func TestKeySchema(t *testing.T) {
	assert.Equal(t, "lobby:session:42:lobby:42-1", LobbyKey(42, "42-1"))
	assert.Equal(t, "lobby:session:42:lobbies", LobbyIndexKey(42))
	assert.Equal(t, "session:42:players", SessionPlayersKey(42))
	assert.Equal(t, "lobby:42-1:player:0xABC", PlayerStateKey("42-1", "0xABC"))
	assert.Equal(t, "forum:lobby:42-1:messages", ForumMessagesKey("42-1"))
	assert.Equal(t, "voting:session:42:lobby:42-1:round:3", VotesKey(42, "42-1", 3))
	assert.Equal(t, "topic:session:42:round:3:lobby:42-1", TopicKey(42, 3, "42-1"))
	assert.Equal(t, "elimination:lobby:42-1", EliminationKey("42-1"))
	assert.Equal(t, "worker:active:42", LeaseKey(42))
}

func TestPurgePatternsCoverWrittenKeys(t *testing.T) {
	// Every key the worker writes for a session must be matched by one of
	// the purge patterns, or SESSION_END leaves garbage behind.
	sessionKeys := []string{
		LobbyKey(7, "7-1"),
		LobbyIndexKey(7),
		SessionPlayersKey(7),
		VotesKey(7, "7-1", 2),
		TopicKey(7, 2, "7-1"),
	}
	assertCovered(t, sessionKeys, SessionPatterns(7))

	lobbyKeys := []string{
		PlayerStateKey("7-1", "0xA"),
		EliminationKey("7-1"),
		ForumMessagesKey("7-1"),
	}
	assertCovered(t, lobbyKeys, LobbyPatterns("7-1"))
}

func TestPurgePatternsLeaveLeaseKey(t *testing.T) {
	// SESSION_START purges while the worker holds its own lease. A pattern
	// matching worker:active:* would evict the holder and let a second
	// instance acquire the same session mid-flight.
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	if err := s.Set(ctx, LeaseKey(7), []byte("worker-a"), 0); err != nil {
		t.Fatalf("set lease: %v", err)
	}
	for _, p := range SessionPatterns(7) {
		found, err := s.ScanKeys(ctx, p)
		if err != nil {
			t.Fatalf("scan %s: %v", p, err)
		}
		assert.NotContains(t, found, LeaseKey(7),
			"pattern %s must not cover the lease key", p)
	}
}

func assertCovered(t *testing.T, keys, patterns []string) {
	t.Helper()
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	for _, k := range keys {
		if err := s.Set(ctx, k, []byte("x"), 0); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	matched := make(map[string]bool)
	for _, p := range patterns {
		found, err := s.ScanKeys(ctx, p)
		if err != nil {
			t.Fatalf("scan %s: %v", p, err)
		}
		for _, k := range found {
			matched[k] = true
		}
	}
	for _, k := range keys {
		assert.True(t, matched[k], "key %s not covered by any purge pattern", k)
	}
}
