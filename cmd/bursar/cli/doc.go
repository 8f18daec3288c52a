// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command tree framework for the bursar CLI:
// subcommand dispatch, flag parsing with typo suggestions, structured
// help output, and the shared service connection flags.
package cli
