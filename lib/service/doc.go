// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the socket protocol shared by the bursar
// ledger daemon and its clients.
//
// The ledger service is a standalone binary serving a CBOR
// request-response protocol on a Unix socket. Each connection carries
// exactly one request and one response; streaming actions hold the
// connection open and write CBOR values until done. This package
// extracts the scaffolding every side of that protocol needs:
//
//   - Socket server: action dispatch, connection timeouts, graceful
//     shutdown, and socket file lifecycle.
//   - Authentication: requests to protected actions carry a signed
//     agent credential in the "token" field, verified against the
//     service signing key before the handler runs.
//   - Client: one-connection-per-call CBOR client with automatic
//     action and token injection.
//
// Callers compose these pieces in their own main() rather than
// subclassing a framework.
package service
