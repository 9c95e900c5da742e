// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package safety

import "regexp"

// injectionPatterns is the fixed list of manipulation phrasings treated
// as prompt injection attempts. Matching any one of them rejects the
// question outright; there is no severity scale.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous\s+)?instructions?`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|above)\s+instructions?`),
	regexp.MustCompile(`(?i)forget\s+(everything|all)\s+(you|we)\s+(said|told)`),
	regexp.MustCompile(`(?i)new\s+instructions?:`),
	regexp.MustCompile(`(?i)system\s*:\s*`),
	regexp.MustCompile(`(?i)\[SYSTEM\]`),
	regexp.MustCompile(`(?i)\[INST\]`),
	regexp.MustCompile(`(?i)you\s+are\s+now`),
	regexp.MustCompile(`(?i)act\s+as\s+(if\s+)?you\s+are`),
	regexp.MustCompile(`(?i)pretend\s+(that\s+)?you\s+are`),
}

// DetectPromptInjection reports whether text matches any known
// manipulation phrasing.
func DetectPromptInjection(text string) bool {
	for _, pattern := range injectionPatterns {
		if pattern.MatchString(text) {
			return true
		}
	}
	return false
}
