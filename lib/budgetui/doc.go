// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

// Package budgetui is the terminal dashboard behind `bursar watch`: a
// live agent budget table with a detail pane for the selected agent's
// pending change requests. Read-only by construction — the model
// holds a client whose credential carries no mutation grants, and no
// code path in this package writes to the ledger.
//
// Layout: the agent list on the left, the detail pane on the right.
// `/` filters the list fuzzily, arrow keys or j/k move the cursor,
// tab switches focus to the detail viewport for scrolling, q quits.
// The table refreshes on a ticker; a refresh failure shows in the
// status bar and the last good data stays on screen.
package budgetui
