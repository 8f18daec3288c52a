// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package budgetui

import (
	"context"
	"fmt"

	"github.com/bursar-io/bursar/lib/money"
	"github.com/bursar-io/bursar/lib/schema/budget"
	"github.com/bursar-io/bursar/lib/service"
)

// AgentRow is one dashboard row: an agent, its derived budget, and
// its pending change requests.
type AgentRow struct {
	Agent   budget.AgentRecord
	Budget  budget.Statement
	Pending []budget.ChangeRequest
}

// LowWater reports whether the agent's remaining budget is below one
// currency unit, mirroring the runtime guard's default threshold.
func (r AgentRow) LowWater() bool {
	return r.Budget.Remaining < money.PerUnit
}

// Snapshot is one full dashboard refresh.
type Snapshot struct {
	Rows []AgentRow
}

// Source produces dashboard snapshots. The service-backed source is
// the real one; tests substitute their own.
type Source interface {
	Fetch(ctx context.Context) (*Snapshot, error)
}

// ServiceSource fetches snapshots over the ledger service socket.
// The client's credential needs agent/show, agent/list, budget/show,
// and request/list grants and nothing else.
type ServiceSource struct {
	client *service.ServiceClient
}

// NewServiceSource wraps a service client as a dashboard source.
func NewServiceSource(client *service.ServiceClient) *ServiceSource {
	return &ServiceSource{client: client}
}

// Fetch lists active agents and collects each one's budget statement
// and pending change requests.
func (s *ServiceSource) Fetch(ctx context.Context) (*Snapshot, error) {
	var agents budget.AgentListResponse
	err := s.client.Call(ctx, budget.ActionAgentList, map[string]any{
		"status": budget.AgentActive,
	}, &agents)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}

	snapshot := &Snapshot{Rows: make([]AgentRow, 0, len(agents.Agents))}
	for _, agent := range agents.Agents {
		var shown budget.AgentShowResponse
		err := s.client.Call(ctx, budget.ActionAgentShow, map[string]any{
			"agent_id": agent.AgentID,
		}, &shown)
		if err != nil {
			return nil, fmt.Errorf("fetching agent %s: %w", agent.AgentID, err)
		}

		var pending budget.RequestListResponse
		err = s.client.Call(ctx, budget.ActionRequestList, map[string]any{
			"agent_id": agent.AgentID,
			"status":   budget.RequestPending,
		}, &pending)
		if err != nil {
			return nil, fmt.Errorf("fetching requests for %s: %w", agent.AgentID, err)
		}

		snapshot.Rows = append(snapshot.Rows, AgentRow{
			Agent:   shown.Agent,
			Budget:  shown.Budget,
			Pending: pending.Requests,
		})
	}
	return snapshot, nil
}
