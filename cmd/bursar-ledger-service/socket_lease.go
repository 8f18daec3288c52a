// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/bursar-io/bursar/lib/agenttoken"
	"github.com/bursar-io/bursar/lib/codec"
	"github.com/bursar-io/bursar/lib/ledger"
	"github.com/bursar-io/bursar/lib/schema/budget"
)

// Lease handlers all pin the operation to the credential's subject:
// the ledger is told which agent is calling and refuses leases that
// belong to anyone else. A stolen credential is still scoped to one
// agent's budget.

func (d *ledgerDaemon) handleHandshake(ctx context.Context, token *agenttoken.Token, raw []byte) (any, error) {
	if err := requireGrant(token, budget.ActionHandshake, token.Subject); err != nil {
		return nil, err
	}

	var request budget.HandshakeRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	return d.ledger.Handshake(ctx, token.Subject, &request)
}

func (d *ledgerDaemon) handleReport(ctx context.Context, token *agenttoken.Token, raw []byte) (any, error) {
	if err := requireGrant(token, budget.ActionReport, token.Subject); err != nil {
		return nil, err
	}

	var report budget.UsageReport
	if err := codec.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	return d.ledger.ReportUsage(ctx, token.Subject, &report)
}

func (d *ledgerDaemon) handleRefresh(ctx context.Context, token *agenttoken.Token, raw []byte) (any, error) {
	if err := requireGrant(token, budget.ActionRefresh, token.Subject); err != nil {
		return nil, err
	}

	var request budget.RefreshRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}

	// Denial is a protocol outcome, not a failure: the response tells
	// the agent to wind down. Only real errors cross as errors.
	response, err := d.ledger.Refresh(ctx, token.Subject, &request)
	if errors.Is(err, ledger.ErrRefreshDenied) {
		return response, nil
	}
	if err != nil {
		return nil, err
	}
	return response, nil
}

func (d *ledgerDaemon) handleReturn(ctx context.Context, token *agenttoken.Token, raw []byte) (any, error) {
	if err := requireGrant(token, budget.ActionReturn, token.Subject); err != nil {
		return nil, err
	}

	var request budget.ReturnRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	return d.ledger.Return(ctx, token.Subject, &request)
}
