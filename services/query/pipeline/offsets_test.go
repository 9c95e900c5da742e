// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DriftlineAI/driftline/services/query/datatypes"
)

// TestRepairOffsets_BothZero verifies fully absent offsets are derived
// from the text length.
func TestRepairOffsets_BothZero(t *testing.T) {
	repaired := RepairOffsets([]datatypes.RetrievedChunk{
		{Text: "hello world"},
	})

	require.Len(t, repaired, 1)
	assert.Equal(t, 1, repaired[0].StartChar)
	assert.Equal(t, 11, repaired[0].EndChar)
}

// TestRepairOffsets_StartZero verifies a missing start becomes 1.
func TestRepairOffsets_StartZero(t *testing.T) {
	repaired := RepairOffsets([]datatypes.RetrievedChunk{
		{Text: "hello", StartChar: 0, EndChar: 40},
	})

	assert.Equal(t, 1, repaired[0].StartChar)
	assert.Equal(t, 40, repaired[0].EndChar)
}

// TestRepairOffsets_EndZero verifies a missing end is derived from start
// plus the text length.
func TestRepairOffsets_EndZero(t *testing.T) {
	repaired := RepairOffsets([]datatypes.RetrievedChunk{
		{Text: "hello", StartChar: 10, EndChar: 0},
	})

	assert.Equal(t, 10, repaired[0].StartChar)
	assert.Equal(t, 15, repaired[0].EndChar)
}

// TestRepairOffsets_InvertedRange verifies end <= start is forced past
// start.
func TestRepairOffsets_InvertedRange(t *testing.T) {
	repaired := RepairOffsets([]datatypes.RetrievedChunk{
		{Text: "abc", StartChar: 20, EndChar: 5},
	})

	assert.Equal(t, 20, repaired[0].StartChar)
	assert.Equal(t, 23, repaired[0].EndChar)
}

// TestRepairOffsets_ValidUntouched verifies already-valid offsets pass
// through unchanged.
func TestRepairOffsets_ValidUntouched(t *testing.T) {
	repaired := RepairOffsets([]datatypes.RetrievedChunk{
		{Text: "hello", StartChar: 100, EndChar: 105},
	})

	assert.Equal(t, 100, repaired[0].StartChar)
	assert.Equal(t, 105, repaired[0].EndChar)
}

// TestRepairOffsets_Invariant property-tests that every repaired chunk
// satisfies endChar > startChar >= 1 over random inputs, including empty
// texts.
func TestRepairOffsets_Invariant(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 1000; i++ {
		chunk := datatypes.RetrievedChunk{
			Text:      strings.Repeat("x", rng.Intn(50)),
			StartChar: rng.Intn(101) - 20, // includes zero and negatives
			EndChar:   rng.Intn(101) - 20,
		}
		if chunk.StartChar < 0 {
			chunk.StartChar = 0
		}
		if chunk.EndChar < 0 {
			chunk.EndChar = 0
		}

		repaired := RepairOffsets([]datatypes.RetrievedChunk{chunk})[0]

		require.GreaterOrEqual(t, repaired.StartChar, 1,
			"input start=%d end=%d len=%d", chunk.StartChar, chunk.EndChar, len(chunk.Text))
		require.Greater(t, repaired.EndChar, repaired.StartChar,
			"input start=%d end=%d len=%d", chunk.StartChar, chunk.EndChar, len(chunk.Text))
	}
}
