// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// Key builds a cache key of the form "prefix:part1:part2:...".
//
// Parts should already be deterministic (typically hashes from HashString
// or HashStrings); Key itself does no normalization.
func Key(prefix string, parts ...string) string {
	return prefix + ":" + strings.Join(parts, ":")
}

// HashString returns the hex sha256 of s.
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashStrings hashes a set-like list of strings deterministically: the
// input is copied and sorted first so the same collection always maps to
// the same key regardless of order.
func HashStrings(values []string) string {
	sorted := make([]string, len(values))
	copy(sorted, values)
	sort.Strings(sorted)

	encoded, err := json.Marshal(sorted)
	if err != nil {
		// []string cannot fail to marshal; fall back to a joined form so
		// the key stays deterministic either way.
		return HashString(strings.Join(sorted, "\x00"))
	}
	return HashString(string(encoded))
}

// HashObject hashes an arbitrary JSON-serializable payload. Map keys are
// sorted by encoding/json, so two equal maps hash identically.
func HashObject(v any) (string, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return HashString(string(encoded)), nil
}
