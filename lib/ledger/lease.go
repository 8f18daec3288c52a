// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bursar-io/bursar/lib/audit"
	"github.com/bursar-io/bursar/lib/money"
	"github.com/bursar-io/bursar/lib/schema/budget"
)

// issuedSecret is a provider key sealed for one lease.
type issuedSecret struct {
	KeyID           string
	EncryptedSecret []byte
	LeaseKey        []byte
}

// issueSecret selects a provider key, unseals it, and reseals it for
// the lease. The plaintext lives only for the duration of this call.
func (l *Ledger) issueSecret(ctx context.Context, provider, keyID, leaseID string) (issuedSecret, error) {
	stored, err := l.keys.SelectKey(ctx, provider, keyID)
	if err != nil {
		return issuedSecret{}, err
	}

	providerKey, err := l.vault.UnsealProviderKey(stored.SealedKey)
	if err != nil {
		return issuedSecret{}, fmt.Errorf("ledger: unsealing key %s: %w", stored.KeyID, err)
	}
	defer providerKey.Close()

	sealedSecret, leaseKey, err := l.vault.Issue(providerKey, leaseID)
	if err != nil {
		return issuedSecret{}, fmt.Errorf("ledger: issuing secret for %s: %w", leaseID, err)
	}

	return issuedSecret{
		KeyID:           stored.KeyID,
		EncryptedSecret: sealedSecret,
		LeaseKey:        leaseKey,
	}, nil
}

// handshakeOutcome is what the handshake transaction decides. A denial
// commits too: the superseded lease, if any, stays settled.
type handshakeOutcome struct {
	Denied            bool
	Granted           money.Micros
	Remaining         money.Micros
	SupersededLeaseID string
	Superseded        settlementOutcome
}

// Handshake opens a lease for an authenticated agent: any existing
// active lease is settled as superseded, a tranche of
// min(requested, remaining) is granted, and the provider secret comes
// back sealed to the new lease. The subject must be an enrolled,
// active agent or the handshake fails; an exhausted budget denies with
// ErrBudgetExhausted instead.
func (l *Ledger) Handshake(ctx context.Context, agentID string, req *budget.HandshakeRequest) (*budget.HandshakeResponse, error) {
	if err := budget.ValidAgentID(agentID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	unlock := l.lockAgent(agentID)
	defer unlock()

	if err := l.requireActiveAgent(ctx, agentID); err != nil {
		return nil, err
	}

	// The secret is sealed before the lease exists. Lease keys derive
	// deterministically from the lease ID, so a transaction that never
	// commits leaves nothing to clean up.
	leaseID := newLeaseID()
	secret, err := l.issueSecret(ctx, req.Provider, req.KeyID, leaseID)
	if err != nil {
		return nil, err
	}

	requested := req.RequestedBudget
	if requested == 0 {
		requested = l.defaultTranche
	}

	outcome, err := l.handshakeTx(ctx, agentID, leaseID, req.Provider, secret.KeyID, requested)
	if err != nil {
		return nil, err
	}

	if outcome.SupersededLeaseID != "" {
		l.appendAudit(audit.Record{
			Actor:    agentID,
			Action:   "lease.settle",
			AgentID:  agentID,
			LeaseID:  outcome.SupersededLeaseID,
			Previous: budget.LeaseActive,
			New:      budget.LeaseClosed,
			Detail:   fmt.Sprintf("superseded, returned %s", outcome.Superseded.Returned),
		})
	}

	if outcome.Denied {
		l.logger.Info("handshake denied",
			"agent_id", agentID,
			"requested", requested,
			"remaining", outcome.Remaining)
		return nil, exhausted(outcome.Remaining)
	}

	l.appendAudit(audit.Record{
		Actor:   agentID,
		Action:  "lease.handshake",
		AgentID: agentID,
		LeaseID: leaseID,
		New:     outcome.Granted.String(),
		Detail:  fmt.Sprintf("provider %s key %s", req.Provider, secret.KeyID),
	})
	l.logger.Info("lease opened",
		"agent_id", agentID,
		"lease_id", leaseID,
		"provider", req.Provider,
		"granted", outcome.Granted,
		"remaining", outcome.Remaining)

	return &budget.HandshakeResponse{
		LeaseID:         leaseID,
		BudgetGranted:   outcome.Granted,
		BudgetRemaining: outcome.Remaining,
		Provider:        req.Provider,
		KeyID:           secret.KeyID,
		EncryptedSecret: secret.EncryptedSecret,
		LeaseKey:        secret.LeaseKey,
	}, nil
}

// requireActiveAgent rejects handshakes from subjects that are not
// enrolled, active agents.
func (l *Ledger) requireActiveAgent(ctx context.Context, agentID string) error {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("ledger: handshake %s: %w", agentID, err)
	}
	defer l.pool.Put(conn)

	record, err := loadAgent(conn, agentID)
	if err != nil {
		return fmt.Errorf("%w: agent %s not enrolled", ErrHandshakeFailed, agentID)
	}
	if record.Status != budget.AgentActive {
		return fmt.Errorf("%w: agent %s is archived", ErrHandshakeFailed, agentID)
	}
	return nil
}

func (l *Ledger) handshakeTx(ctx context.Context, agentID, leaseID, provider, keyID string, requested money.Micros) (outcome handshakeOutcome, err error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return handshakeOutcome{}, fmt.Errorf("ledger: handshake %s: %w", agentID, err)
	}
	defer l.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return handshakeOutcome{}, fmt.Errorf("ledger: handshake %s: %w", agentID, err)
	}
	defer endTransaction(&err)

	now := l.clock.Now().Unix()

	old, found, err := activeLease(conn, agentID)
	if err != nil {
		return handshakeOutcome{}, err
	}
	if found {
		outcome.SupersededLeaseID = old.LeaseID
		outcome.Superseded, err = l.closeLease(conn, old, -1, "superseded", now)
		if err != nil {
			return handshakeOutcome{}, l.internalError("handshake", err)
		}
	}

	state, err := loadBudgetState(conn, agentID)
	if err != nil {
		return handshakeOutcome{}, err
	}
	remaining := state.Remaining()
	if remaining < 0 {
		return handshakeOutcome{}, l.internalError("handshake",
			fmt.Errorf("agent %s remaining is negative: %s", agentID, remaining))
	}
	if remaining == 0 {
		outcome.Denied = true
		outcome.Remaining = 0
		return outcome, nil
	}

	granted := min(requested, remaining)
	err = insertLease(conn, leaseRow{
		LeaseID:   leaseID,
		AgentID:   agentID,
		Provider:  provider,
		KeyID:     keyID,
		Granted:   granted,
		CreatedAt: now,
	})
	if err != nil {
		return handshakeOutcome{}, err
	}

	outcome.Granted = granted
	outcome.Remaining = remaining - granted
	return outcome, nil
}
