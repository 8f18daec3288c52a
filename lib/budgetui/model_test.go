// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package budgetui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/bursar-io/bursar/lib/money"
	"github.com/bursar-io/bursar/lib/schema/budget"
)

// staticSource serves a fixed snapshot, optionally failing.
type staticSource struct {
	snapshot *Snapshot
	err      error
	fetches  int
}

func (s *staticSource) Fetch(ctx context.Context) (*Snapshot, error) {
	s.fetches++
	if s.err != nil {
		return nil, s.err
	}
	return s.snapshot, nil
}

func testRow(agentID string, total, spent float64, pending ...budget.ChangeRequest) AgentRow {
	totalMicros := money.FromUnits(total)
	spentMicros := money.FromUnits(spent)
	return AgentRow{
		Agent: budget.AgentRecord{
			AgentID:      agentID,
			Project:      "atlas",
			Organization: "acme",
			Status:       budget.AgentActive,
		},
		Budget: budget.Statement{
			AgentID:   agentID,
			Total:     totalMicros,
			Spent:     spentMicros,
			Remaining: totalMicros - spentMicros,
		},
		Pending: pending,
	}
}

func testModel(t *testing.T, rows ...AgentRow) Model {
	t.Helper()
	source := &staticSource{snapshot: &Snapshot{Rows: rows}}
	model := New(source, DefaultTheme, time.Hour)

	updated, _ := model.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	model = updated.(Model)
	updated, _ = model.Update(snapshotMsg{snapshot: source.snapshot})
	return updated.(Model)
}

func press(t *testing.T, model Model, keys ...string) Model {
	t.Helper()
	for _, key := range keys {
		var msg tea.KeyMsg
		switch key {
		case "tab":
			msg = tea.KeyMsg{Type: tea.KeyTab}
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEscape}
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		case "backspace":
			msg = tea.KeyMsg{Type: tea.KeyBackspace}
		case "up":
			msg = tea.KeyMsg{Type: tea.KeyUp}
		case "down":
			msg = tea.KeyMsg{Type: tea.KeyDown}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
		}
		updated, _ := model.Update(msg)
		model = updated.(Model)
	}
	return model
}

func TestNewDefaultsRefreshInterval(t *testing.T) {
	model := New(&staticSource{}, DefaultTheme, 0)
	if model.refresh != DefaultRefreshInterval {
		t.Errorf("refresh = %v, want %v", model.refresh, DefaultRefreshInterval)
	}
}

func TestSnapshotPopulatesList(t *testing.T) {
	model := testModel(t,
		testRow("acme/alpha", 100, 20),
		testRow("acme/beta", 50, 5),
	)

	view := model.View()
	if !strings.Contains(view, "acme/alpha") {
		t.Error("view missing acme/alpha")
	}
	if !strings.Contains(view, "acme/beta") {
		t.Error("view missing acme/beta")
	}
}

func TestSnapshotErrorShowsStatus(t *testing.T) {
	model := testModel(t, testRow("acme/alpha", 100, 20))
	updated, _ := model.Update(snapshotMsg{err: context.DeadlineExceeded})
	model = updated.(Model)

	if !strings.Contains(model.View(), "refresh failed") {
		t.Error("expected refresh failure in view")
	}
	// A later successful refresh clears the error.
	updated, _ = model.Update(snapshotMsg{snapshot: &Snapshot{Rows: []AgentRow{testRow("acme/alpha", 100, 20)}}})
	model = updated.(Model)
	if strings.Contains(model.View(), "refresh failed") {
		t.Error("error status not cleared by successful refresh")
	}
}

func TestCursorMovement(t *testing.T) {
	model := testModel(t,
		testRow("acme/alpha", 100, 0),
		testRow("acme/beta", 100, 0),
		testRow("acme/gamma", 100, 0),
	)

	model = press(t, model, "j", "j")
	if row, _ := model.selectedRow(); row.Agent.AgentID != "acme/gamma" {
		t.Errorf("after jj selected %s, want acme/gamma", row.Agent.AgentID)
	}

	// Moving past the end stays put.
	model = press(t, model, "j")
	if row, _ := model.selectedRow(); row.Agent.AgentID != "acme/gamma" {
		t.Errorf("cursor moved past last row to %s", row.Agent.AgentID)
	}

	model = press(t, model, "k", "k", "k")
	if row, _ := model.selectedRow(); row.Agent.AgentID != "acme/alpha" {
		t.Errorf("after kkk selected %s, want acme/alpha", row.Agent.AgentID)
	}

	model = press(t, model, "G")
	if row, _ := model.selectedRow(); row.Agent.AgentID != "acme/gamma" {
		t.Errorf("G selected %s, want acme/gamma", row.Agent.AgentID)
	}
	model = press(t, model, "g")
	if row, _ := model.selectedRow(); row.Agent.AgentID != "acme/alpha" {
		t.Errorf("g selected %s, want acme/alpha", row.Agent.AgentID)
	}
}

func TestRefreshPreservesSelection(t *testing.T) {
	model := testModel(t,
		testRow("acme/alpha", 100, 0),
		testRow("acme/beta", 100, 0),
	)
	model = press(t, model, "j")

	// New snapshot reorders the rows; the cursor follows the agent.
	updated, _ := model.Update(snapshotMsg{snapshot: &Snapshot{Rows: []AgentRow{
		testRow("acme/beta", 100, 10),
		testRow("acme/alpha", 100, 0),
		testRow("acme/delta", 100, 0),
	}}})
	model = updated.(Model)

	row, ok := model.selectedRow()
	if !ok || row.Agent.AgentID != "acme/beta" {
		t.Errorf("selection did not follow agent: got %s", row.Agent.AgentID)
	}
}

func TestFilterNarrowsList(t *testing.T) {
	model := testModel(t,
		testRow("acme/ingest-worker", 100, 0),
		testRow("acme/report-runner", 100, 0),
		testRow("acme/billing", 100, 0),
	)

	model = press(t, model, "/", "ingest", "enter")
	if len(model.visible) != 1 {
		t.Fatalf("visible = %d rows, want 1", len(model.visible))
	}
	if row, _ := model.selectedRow(); row.Agent.AgentID != "acme/ingest-worker" {
		t.Errorf("selected %s, want acme/ingest-worker", row.Agent.AgentID)
	}

	// esc clears the inactive filter and restores the full list.
	model = press(t, model, "esc")
	if len(model.visible) != 3 {
		t.Errorf("after clearing filter visible = %d, want 3", len(model.visible))
	}
}

func TestFilterBackspace(t *testing.T) {
	model := testModel(t,
		testRow("acme/ingest-worker", 100, 0),
		testRow("acme/billing", 100, 0),
	)

	model = press(t, model, "/", "ingestx", "backspace")
	if !model.filterActive {
		t.Fatal("filter should still be active")
	}
	if model.filter != "ingest" {
		t.Errorf("filter = %q, want %q", model.filter, "ingest")
	}
	if len(model.visible) != 1 {
		t.Errorf("visible = %d rows, want 1", len(model.visible))
	}
}

func TestFilterEscapeWhileTypingClears(t *testing.T) {
	model := testModel(t,
		testRow("acme/ingest-worker", 100, 0),
		testRow("acme/billing", 100, 0),
	)

	model = press(t, model, "/", "ing", "esc")
	if model.filterActive {
		t.Error("filter should be inactive after esc")
	}
	if model.filter != "" {
		t.Errorf("filter = %q, want empty", model.filter)
	}
	if len(model.visible) != 2 {
		t.Errorf("visible = %d rows, want 2", len(model.visible))
	}
}

func TestFilterMatchesProjectAndDisplayName(t *testing.T) {
	row := testRow("acme/opaque-id", 100, 0)
	row.Agent.DisplayName = "Nightly Crawler"
	model := testModel(t, row, testRow("acme/billing", 100, 0))

	model = press(t, model, "/", "crawler", "enter")
	if len(model.visible) != 1 {
		t.Fatalf("visible = %d rows, want 1", len(model.visible))
	}
	if selected, _ := model.selectedRow(); selected.Agent.AgentID != "acme/opaque-id" {
		t.Errorf("selected %s, want acme/opaque-id", selected.Agent.AgentID)
	}
}

func TestQuitKeys(t *testing.T) {
	model := testModel(t, testRow("acme/alpha", 100, 0))
	for _, key := range []string{"q"} {
		_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)})
		if cmd == nil {
			t.Fatalf("key %q produced no command", key)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("key %q did not quit", key)
		}
	}
	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("ctrl+c produced no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("ctrl+c did not quit")
	}
}

func TestRefreshKeyFetches(t *testing.T) {
	source := &staticSource{snapshot: &Snapshot{Rows: []AgentRow{testRow("acme/alpha", 100, 0)}}}
	model := New(source, DefaultTheme, time.Hour)
	updated, _ := model.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	model = updated.(Model)

	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	if cmd == nil {
		t.Fatal("r produced no command")
	}
	msg := cmd()
	if _, ok := msg.(snapshotMsg); !ok {
		t.Fatalf("r produced %T, want snapshotMsg", msg)
	}
	if source.fetches != 1 {
		t.Errorf("fetches = %d, want 1", source.fetches)
	}
}

func TestListFlagsExhaustedAndLow(t *testing.T) {
	model := testModel(t,
		testRow("acme/healthy", 100, 10),
		testRow("acme/low", 100, 99.5),
		testRow("acme/spent", 100, 100),
	)

	view := model.View()
	if !strings.Contains(view, "exhausted") {
		t.Error("view missing exhausted flag")
	}
	if !strings.Contains(view, "low") {
		t.Error("view missing low flag")
	}
}

func TestDetailShowsPendingRequest(t *testing.T) {
	request := budget.ChangeRequest{
		ID:              "breq-0011223344556677",
		AgentID:         "acme/alpha",
		Requester:       "agent:acme/alpha",
		SnapshotBudget:  money.FromUnits(100),
		RequestedBudget: money.FromUnits(250),
		Justification:   "Nightly batch **doubled** in size.",
		Status:          budget.RequestPending,
	}
	model := testModel(t, testRow("acme/alpha", 100, 20, request))

	view := model.View()
	if !strings.Contains(view, "PENDING") {
		t.Error("detail missing request status")
	}
	if !strings.Contains(view, "breq-0011223344556677") {
		t.Error("detail missing request ID")
	}
	if !strings.Contains(view, "doubled") {
		t.Error("detail missing rendered justification")
	}
}

func TestDetailShowsBudgetLine(t *testing.T) {
	model := testModel(t, testRow("acme/alpha", 100, 20))
	view := model.View()
	if !strings.Contains(view, "no pending change requests") {
		t.Error("detail missing empty-requests line")
	}
	if !strings.Contains(view, "total 100.00") {
		t.Error("detail missing total")
	}
}

func TestEmptyFilterMessage(t *testing.T) {
	model := testModel(t, testRow("acme/alpha", 100, 0))
	model = press(t, model, "/", "zzzz", "enter")
	if len(model.visible) != 0 {
		t.Fatalf("visible = %d rows, want 0", len(model.visible))
	}
	if !strings.Contains(model.View(), "no agents match") {
		t.Error("view missing empty-filter message")
	}
	if _, ok := model.selectedRow(); ok {
		t.Error("selectedRow should report no selection")
	}
}

func TestPadRowTruncatesLongAgent(t *testing.T) {
	line := padRow(50, strings.Repeat("a", 80), "1.00", "2.00", "")
	if !strings.Contains(line, "…") {
		t.Error("long agent ID not truncated")
	}
}

func TestLowWaterThreshold(t *testing.T) {
	row := testRow("acme/alpha", 100, 99.5)
	if !row.LowWater() {
		t.Error("0.50 remaining should be low water")
	}
	row = testRow("acme/alpha", 100, 10)
	if row.LowWater() {
		t.Error("90.00 remaining should not be low water")
	}
}
