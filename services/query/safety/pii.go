// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package safety

import (
	"regexp"
	"strings"

	"github.com/DriftlineAI/driftline/services/query/datatypes"
)

// piiDetector pairs a type name with its pattern. The type name (in its
// original casing) keys the detection map and, uppercased, forms the
// redaction placeholder: email -> [EMAIL_REDACTED].
type piiDetector struct {
	Type    string
	Pattern *regexp.Regexp
}

// piiDetectors is the fixed detector set, checked in order. Broad
// patterns (zipCode in particular overlaps any 5-digit run) are accepted
// as-is: the gate prefers false positives over leaking identifiers.
var piiDetectors = []piiDetector{
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{"phone", regexp.MustCompile(`(\+\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"creditCard", regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`)},
	{"ipAddress", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
	{"passport", regexp.MustCompile(`\b[A-Z]{1,2}\d{6,9}\b`)},
	{"driverLicense", regexp.MustCompile(`\b[A-Z]{1,2}\d{5,8}\b`)},
	{"zipCode", regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`)},
	{"dateOfBirth", regexp.MustCompile(`\b(?:0?[1-9]|1[0-2])[/-](?:0?[1-9]|[12]\d|3[01])[/-](?:19|20)\d{2}\b`)},
	{"apiKey", regexp.MustCompile(`(?i)\b(?:api[_-]?key|apikey|access[_-]?token)[:\s=]+[\w-]+`)},
	{"accountNumber", regexp.MustCompile(`(?i)\b(?:account|acct)[#:\s]+\d{6,}\b`)},
}

// DetectPII pattern-matches text against the fixed detector set.
//
// The returned map is keyed by detector type and holds every matched
// span, so the caller can both report what leaked and redact it.
func DetectPII(text string) datatypes.PIIDetection {
	detected := make(map[string][]string)

	for _, d := range piiDetectors {
		matches := d.Pattern.FindAllString(text, -1)
		if len(matches) > 0 {
			detected[d.Type] = matches
		}
	}

	return datatypes.PIIDetection{
		Detected: len(detected) > 0,
		Types:    detected,
	}
}

// RedactPII replaces every matched span in text with [<TYPE>_REDACTED].
func RedactPII(text string, detection datatypes.PIIDetection) string {
	redacted := text
	for piiType, matches := range detection.Types {
		placeholder := "[" + strings.ToUpper(piiType) + "_REDACTED]"
		for _, match := range matches {
			redacted = strings.ReplaceAll(redacted, match, placeholder)
		}
	}
	return redacted
}
