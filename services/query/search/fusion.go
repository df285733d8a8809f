// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"sort"

	"github.com/AleutianAI/AleutianQuery/services/query/datatypes"
)

// DefaultRRFConstant is the smoothing constant K in 1/(K+rank). 60 is the
// value from the original RRF paper and the convention across our corpora.
const DefaultRRFConstant = 60

// fuseRRF merges ranked lists by Reciprocal Rank Fusion.
//
// # Description
//
// Each candidate passage scores sum(1/(K+rank)) over every list it appears
// in, with 1-based ranks; a passage absent from a list contributes zero for
// that list. Candidates are ordered by descending fused score with a
// deterministic chunk-id tie-break, so identical inputs always produce
// identical output ordering.
//
// When a passage appears in more than one list, the occurrence from the
// earlier list wins for content and vector; only the score is fused.
//
// # Inputs
//
//   - lists: Ranked lists, best first. Empty lists are allowed.
//   - k: Smoothing constant (use DefaultRRFConstant).
//   - limit: Maximum number of fused results to return.
//
// # Outputs
//
//   - []datatypes.SearchResult: Fused ranking, truncated to limit, with
//     Score holding the fused RRF score.
func fuseRRF(lists [][]datatypes.SearchResult, k int, limit int) []datatypes.SearchResult {
	if k <= 0 {
		k = DefaultRRFConstant
	}

	type candidate struct {
		result datatypes.SearchResult
		score  float64
	}
	candidates := make(map[string]*candidate)

	for _, list := range lists {
		for i, res := range list {
			contribution := 1.0 / float64(k+i+1)
			if c, ok := candidates[res.ChunkID]; ok {
				c.score += contribution
				continue
			}
			candidates[res.ChunkID] = &candidate{result: res, score: contribution}
		}
	}

	fused := make([]datatypes.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		r := c.result
		r.Score = c.score
		fused = append(fused, r)
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ChunkID < fused[j].ChunkID
	})

	if limit > 0 && len(fused) > limit {
		fused = fused[:limit]
	}
	return fused
}
