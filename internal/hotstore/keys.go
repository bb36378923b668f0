package hotstore

import "fmt"

// Pub/sub channel names shared with external producers and consumers.
const (
	// ChannelNewSession carries {"sessionId": N} when the registration
	// API creates a session.
	ChannelNewSession = "new-session"
	// ChannelSessions and ChannelRounds mirror worker lifecycle notices
	// back onto the hot store for other backend services.
	ChannelSessions = "sessions"
	ChannelRounds   = "rounds"
)

// Key builders for the authoritative schema. Every hot-store key the
// worker touches is constructed here so the purge patterns below stay in
// sync with the writers.

// LobbyKey addresses a lobby's JSON blob.
func LobbyKey(sessionID int64, lobbyID string) string {
	return fmt.Sprintf("lobby:session:%d:lobby:%s", sessionID, lobbyID)
}

// LobbyIndexKey addresses the set of a session's lobby keys (full keys,
// not bare ids, so readers can dereference members directly).
func LobbyIndexKey(sessionID int64) string {
	return fmt.Sprintf("lobby:session:%d:lobbies", sessionID)
}

// SessionPlayersKey addresses the cached set of registered wallets.
func SessionPlayersKey(sessionID int64) string {
	return fmt.Sprintf("session:%d:players", sessionID)
}

// PlayerStateKey addresses a player's per-lobby status JSON {status}.
func PlayerStateKey(lobbyID, wallet string) string {
	return fmt.Sprintf("lobby:%s:player:%s", lobbyID, wallet)
}

// ForumMessagesKey addresses a lobby's forum message list. External
// producers write it; the worker only reads.
func ForumMessagesKey(lobbyID string) string {
	return fmt.Sprintf("forum:lobby:%s:messages", lobbyID)
}

// VotesKey addresses the list of raw choice tokens for one round.
func VotesKey(sessionID int64, lobbyID string, round int) string {
	return fmt.Sprintf("voting:session:%d:lobby:%s:round:%d", sessionID, lobbyID, round)
}

// TopicKey addresses the cached AI topic JSON {topicMessage}.
func TopicKey(sessionID int64, round int, lobbyID string) string {
	return fmt.Sprintf("topic:session:%d:round:%d:lobby:%s", sessionID, round, lobbyID)
}

// EliminationKey addresses a lobby's cumulative elimination record.
func EliminationKey(lobbyID string) string {
	return fmt.Sprintf("elimination:lobby:%s", lobbyID)
}

// LeaseKey addresses the single-driver lease for a session.
func LeaseKey(sessionID int64) string {
	return fmt.Sprintf("worker:active:%d", sessionID)
}

// SessionPatterns returns the glob patterns covering every session-scoped
// key the worker may have written. Lobby-scoped keys (per-player status,
// elimination records, topics, forum logs) are covered by LobbyPatterns
// per lobby id, which the caller collects from the lobby index first.
// The lease key is not covered: the SESSION_START purge runs while the
// worker holds its own lease, so only the holder's release or the TTL may
// remove it.
func SessionPatterns(sessionID int64) []string {
	return []string{
		fmt.Sprintf("lobby:session:%d:*", sessionID),
		fmt.Sprintf("session:%d:*", sessionID),
		fmt.Sprintf("voting:session:%d:*", sessionID),
		fmt.Sprintf("topic:session:%d:*", sessionID),
	}
}

// LobbyPatterns returns the glob patterns for keys scoped to one lobby.
func LobbyPatterns(lobbyID string) []string {
	return []string{
		fmt.Sprintf("lobby:%s:player:*", lobbyID),
		fmt.Sprintf("elimination:lobby:%s", lobbyID),
		fmt.Sprintf("forum:lobby:%s:messages", lobbyID),
	}
}
