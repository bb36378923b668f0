package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gauntlet/worker/internal/model"
)

// orderedRound builds a round whose eight boundaries ascend one minute
// apart, the shape a healthy schedule row has.
func orderedRound() model.Round {
	t0 := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	return model.Round{
		Number:           1,
		AIMessageStart:   t0,
		AIMessageEnd:     t0.Add(1 * time.Minute),
		StartTime:        t0.Add(2 * time.Minute),
		EndTime:          t0.Add(3 * time.Minute),
		EliminationStart: t0.Add(4 * time.Minute),
		EliminationEnd:   t0.Add(5 * time.Minute),
		VotingStartTime:  t0.Add(6 * time.Minute),
		VotingEndTime:    t0.Add(7 * time.Minute),
	}
}

func TestCheckBoundariesAcceptsOrderedRound(t *testing.T) {
	r := orderedRound()
	assert.Empty(t, checkBoundaries(&r))
}

// Failure messages must name the actual rounds columns so an operator can
// go from the report straight to the offending row.
func TestCheckBoundariesReportsColumnNames(t *testing.T) {
	r := orderedRound()
	r.EliminationStart = time.Time{}
	assert.Equal(t, "elimination_start is not set", checkBoundaries(&r))

	r = orderedRound()
	r.AIMessageEnd = time.Time{}
	assert.Equal(t, "ai_message_end is not set", checkBoundaries(&r))

	r = orderedRound()
	r.EliminationEnd = r.EliminationStart.Add(-time.Second)
	assert.Equal(t, "elimination_end precedes elimination_start", checkBoundaries(&r))

	r = orderedRound()
	r.AIMessageEnd = r.AIMessageStart.Add(-time.Second)
	assert.Equal(t, "ai_message_end precedes ai_message_start", checkBoundaries(&r))
}
