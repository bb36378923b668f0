package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gauntlet/worker/internal/model"
)

// oneRoundSession mirrors the standard staging schedule: a ten minute
// session whose single round starts announcing at the session start.
func oneRoundSession(start time.Time) *model.Session {
	return &model.Session{
		ID:          1,
		Name:        "test",
		TotalRounds: 1,
		StartTime:   start,
		EndTime:     start.Add(10 * time.Minute),
		Rounds: []model.Round{{
			ID:               11,
			SessionID:        1,
			Number:           1,
			AIMessageStart:   start,
			AIMessageEnd:     start.Add(30 * time.Second),
			StartTime:        start.Add(35 * time.Second),
			EndTime:          start.Add(4 * time.Minute),
			EliminationStart: start.Add(4*time.Minute + 5*time.Second),
			EliminationEnd:   start.Add(5 * time.Minute),
			VotingStartTime:  start.Add(5*time.Minute + 5*time.Second),
			VotingEndTime:    start.Add(9 * time.Minute),
		}},
	}
}

func TestBuildOrdersEventsWithCanonicalTieBreak(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := oneRoundSession(start)

	// Built before the session starts: SESSION_START is present and wins
	// the tie against AI_MESSAGE_START scheduled at the same instant.
	tl := Build(s, start.Add(-time.Minute))
	events := tl.Events()
	require.Len(t, events, 10)

	wantOrder := []Phase{
		PhaseSessionStart,
		PhaseAIMessageStart,
		PhaseAIMessageEnd,
		PhaseRoundStart,
		PhaseRoundEnd,
		PhaseEliminationStart,
		PhaseEliminationEnd,
		PhaseVotingStart,
		PhaseVotingEnd,
		PhaseSessionEnd,
	}
	for i, want := range wantOrder {
		assert.Equal(t, want, events[i].Phase, "event %d", i)
	}
	assert.Equal(t, start, events[0].Time)
	assert.Equal(t, start, events[1].Time)
}

func TestBuildOmitsSessionStartOnceUnderway(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tl := Build(oneRoundSession(start), start.Add(time.Minute))

	for _, ev := range tl.Events() {
		assert.NotEqual(t, PhaseSessionStart, ev.Phase)
	}
	require.Len(t, tl.Events(), 9)
}

func TestBuildSkipsMissingTimestamps(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := oneRoundSession(start)
	s.Rounds[0].VotingStartTime = time.Time{}

	tl := Build(s, start.Add(-time.Minute))
	for _, ev := range tl.Events() {
		assert.NotEqual(t, PhaseVotingStart, ev.Phase)
	}
	require.Len(t, tl.Events(), 9)
}

func TestNextSkipsPastEventsAfterRestart(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := oneRoundSession(start)

	// Rebuilt four seconds after ROUND_END, as after a crash and restart:
	// the first unreached boundary is ELIMINATION_START.
	now := start.Add(4*time.Minute + 4*time.Second)
	tl := Build(s, now)

	ev := tl.Next(now)
	require.NotNil(t, ev)
	assert.Equal(t, PhaseEliminationStart, ev.Phase)
	assert.Equal(t, start.Add(4*time.Minute+5*time.Second), ev.Time)
	assert.Equal(t, 1, ev.Round)
}

func TestNextAdvancesThroughTheWholeSchedule(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := oneRoundSession(start)
	// Next is strictly-after, so stepping now to each event time only
	// enumerates the whole schedule when every boundary has its own
	// instant. Nudge the announcement off the session start.
	s.Rounds[0].AIMessageStart = start.Add(5 * time.Second)
	tl := Build(s, start.Add(-time.Minute))

	now := start.Add(-time.Minute)
	var seen []Phase
	for {
		ev := tl.Next(now)
		if ev == nil {
			break
		}
		seen = append(seen, ev.Phase)
		now = ev.Time
	}

	assert.Equal(t, []Phase{
		PhaseSessionStart,
		PhaseAIMessageStart,
		PhaseAIMessageEnd,
		PhaseRoundStart,
		PhaseRoundEnd,
		PhaseEliminationStart,
		PhaseEliminationEnd,
		PhaseVotingStart,
		PhaseVotingEnd,
		PhaseSessionEnd,
	}, seen)
}

func TestNextNilAtSessionEnd(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := oneRoundSession(start)
	tl := Build(s, start)

	assert.Nil(t, tl.Next(s.EndTime))
	assert.Nil(t, tl.Next(s.EndTime.Add(time.Hour)))
}

func TestTwoRoundsInterleaveByTime(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := oneRoundSession(start)
	s.EndTime = start.Add(20 * time.Minute)
	s.TotalRounds = 2
	second := s.Rounds[0]
	second.ID = 12
	second.Number = 2
	shift := 10 * time.Minute
	second.AIMessageStart = second.AIMessageStart.Add(shift)
	second.AIMessageEnd = second.AIMessageEnd.Add(shift)
	second.StartTime = second.StartTime.Add(shift)
	second.EndTime = second.EndTime.Add(shift)
	second.EliminationStart = second.EliminationStart.Add(shift)
	second.EliminationEnd = second.EliminationEnd.Add(shift)
	second.VotingStartTime = second.VotingStartTime.Add(shift)
	second.VotingEndTime = second.VotingEndTime.Add(shift)
	s.Rounds = append(s.Rounds, second)

	tl := Build(s, start.Add(-time.Minute))
	events := tl.Events()
	require.Len(t, events, 18)

	// All of round 1 precedes all of round 2; SESSION_END is last.
	for i := 1; i <= 8; i++ {
		assert.Equal(t, 1, events[i].Round, "event %d", i)
	}
	for i := 9; i <= 16; i++ {
		assert.Equal(t, 2, events[i].Round, "event %d", i)
	}
	assert.Equal(t, PhaseSessionEnd, events[17].Phase)
}
