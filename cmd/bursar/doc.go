// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

// Command bursar is the operator CLI for the ledger service: agent
// enrollment, budget administration, change request review, provider
// key management, rollup reports, and the live dashboard.
package main
