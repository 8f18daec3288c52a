// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package budgetui

import (
	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"
)

// Slab sizes passed to the fzf matcher's scratch allocator. These
// match fzf's own defaults; one slab is reused across all matches in
// a single filter pass.
const (
	slab16Size = 100 * 1024
	slab32Size = 2048
)

// FuzzyResult is one fuzzy match: whether it matched, its score for
// ranking, and the matched character positions for highlighting.
type FuzzyResult struct {
	Matched   bool
	Score     int
	Positions []int
}

// newSlab allocates the scratch memory for a filter pass.
func newSlab() *util.Slab {
	return util.MakeSlab(slab16Size, slab32Size)
}

// fuzzyMatch runs fzf's V2 matcher (case-insensitive, normalized,
// forward) over text. Position data is requested so matched runes can
// be highlighted in the list.
func fuzzyMatch(text string, pattern []rune, slab *util.Slab) FuzzyResult {
	if len(pattern) == 0 {
		return FuzzyResult{Matched: true}
	}
	chars := util.ToChars([]byte(text))
	result, positions := algo.FuzzyMatchV2(false, true, true, &chars, pattern, true, slab)
	if result.Start < 0 {
		return FuzzyResult{}
	}
	matched := FuzzyResult{Matched: true, Score: result.Score}
	if positions != nil {
		matched.Positions = *positions
	}
	return matched
}
