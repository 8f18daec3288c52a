// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Code that reads the clock or waits on it takes a Clock field instead
// of calling the time package directly. Production wiring passes
// Real(); tests pass Fake(epoch) and drive time with Advance, which
// makes retry backoff, lease timestamps, and ticker-driven refresh
// deterministic under test.
package clock

import "time"

// Clock is the time surface the ledger and client code depend on:
// reading the current time, one-shot waits, periodic ticks, and
// sleeping.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once
	// duration d has elapsed. If d <= 0 the channel receives
	// immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker delivering ticks every d. Panics if
	// d <= 0, matching time.NewTicker.
	NewTicker(d time.Duration) *Ticker

	// Sleep blocks the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Ticker delivers periodic ticks on C. The channel has capacity 1;
// ticks are dropped, not queued, when the consumer falls behind. Call
// Stop to release the ticker.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns the ticker off. No ticks arrive on C after Stop returns.
// Stop does not close C.
func (t *Ticker) Stop() { t.stop() }
