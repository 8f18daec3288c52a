// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

// bursar-ledger-service is the budget control plane daemon. It owns
// the ledger database, the provider key vault, and the audit trail,
// and serves the CBOR socket API that agent runtimes and the bursar
// CLI speak.
//
// Agent runtimes authenticate with the Ed25519 credential minted at
// enrollment and operate the lease protocol: handshake, usage
// reports, refresh, return. Operators administer budgets, change
// requests, provider keys, and agent lifecycle through the same
// socket with their own credentials.
package main
