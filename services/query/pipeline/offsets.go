// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"log/slog"

	"github.com/DriftlineAI/driftline/services/query/datatypes"
)

// RepairOffsets normalizes the character offsets on retrieved chunks so
// every emitted chunk satisfies EndChar > StartChar >= 1. Offsets are
// 1-based; ingestion bugs and zero-valued fields from older index entries
// are repaired from the chunk text length rather than dropped.
func RepairOffsets(chunks []datatypes.RetrievedChunk) []datatypes.RetrievedChunk {
	repaired := make([]datatypes.RetrievedChunk, len(chunks))
	for i, chunk := range chunks {
		repaired[i] = repairChunkOffsets(chunk)
	}
	return repaired
}

func repairChunkOffsets(chunk datatypes.RetrievedChunk) datatypes.RetrievedChunk {
	textLen := len(chunk.Text)
	start, end := chunk.StartChar, chunk.EndChar

	switch {
	case start == 0 && end == 0:
		start = 1
		end = max(1, textLen)
	case start == 0:
		start = 1
	case end == 0:
		end = start + max(1, textLen)
	}

	if end <= start {
		end = start + max(1, textLen)
	}

	if start != chunk.StartChar || end != chunk.EndChar {
		slog.Debug("Repaired chunk offsets",
			"chunk_id", chunk.Id,
			"original_start", chunk.StartChar, "original_end", chunk.EndChar,
			"start", start, "end", end)
		chunk.StartChar = start
		chunk.EndChar = end
	}
	return chunk
}
