// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import "strings"

// CorrectionDetector decides whether a follow-up query implicitly
// corrects the previous answer in the session. Implementations must be
// stateless or otherwise safe for concurrent use.
type CorrectionDetector interface {
	// IsCorrection reports whether the query reads as a correction of
	// the preceding answer.
	IsCorrection(query string) bool
}

// defaultCorrectionPrefixes are the follow-up openings treated as
// corrections. Matching is case-insensitive on the trimmed query.
var defaultCorrectionPrefixes = []string{"no,", "actually", "not "}

// PrefixCorrectionDetector flags queries that open with a correction
// phrase. It is deliberately conservative: prefixes only, no fuzzy
// matching, so a query like "Notably, ..." still counts as a fresh
// question ("not " requires the trailing space).
type PrefixCorrectionDetector struct {
	prefixes []string
}

// NewPrefixCorrectionDetector creates a detector with the default
// correction prefixes.
func NewPrefixCorrectionDetector() *PrefixCorrectionDetector {
	return &PrefixCorrectionDetector{prefixes: defaultCorrectionPrefixes}
}

// IsCorrection implements the CorrectionDetector interface.
func (d *PrefixCorrectionDetector) IsCorrection(query string) bool {
	normalized := strings.ToLower(strings.TrimSpace(query))
	for _, prefix := range d.prefixes {
		if strings.HasPrefix(normalized, prefix) {
			return true
		}
	}
	return false
}
