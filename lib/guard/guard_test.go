// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package guard

import (
	"errors"
	"sync"
	"testing"

	"github.com/bursar-io/bursar/lib/money"
)

func units(n int64) money.Micros {
	return money.Micros(n) * money.PerUnit
}

func TestCheckAndRecord(t *testing.T) {
	g := New(units(10), 0)

	if err := g.Check(units(3)); err != nil {
		t.Fatalf("Check(3) on fresh 10-unit guard: %v", err)
	}
	g.Record(units(3))
	if got := g.Remaining(); got != units(7) {
		t.Fatalf("Remaining = %s, want 7.00", got)
	}

	if err := g.Check(units(8)); !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("Check(8) with 7 remaining = %v, want ErrBudgetExceeded", err)
	}
	if err := g.Check(units(7)); err != nil {
		t.Fatalf("Check(7) with exactly 7 remaining: %v", err)
	}
}

func TestCheckZeroEstimate(t *testing.T) {
	g := New(units(1), 0)

	// An unestimable call passes while any balance remains.
	if err := g.Check(0); err != nil {
		t.Fatalf("Check(0) with balance: %v", err)
	}

	g.Record(units(1))
	if err := g.Check(0); !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("Check(0) with zero balance = %v, want ErrBudgetExceeded", err)
	}
}

func TestRecordIgnoresNegative(t *testing.T) {
	g := New(units(5), 0)
	g.Record(-units(1))
	if got := g.Spent(); got != 0 {
		t.Fatalf("Spent after negative Record = %s, want 0", got)
	}
}

func TestLowWater(t *testing.T) {
	g := New(units(5), 0)
	if g.LowWater() {
		t.Fatal("LowWater true with 5 units remaining")
	}

	g.Record(units(4))
	if g.LowWater() {
		t.Fatal("LowWater true with exactly 1 unit remaining")
	}

	g.Record(money.Micros(1))
	if !g.LowWater() {
		t.Fatal("LowWater false just below the default threshold")
	}
}

func TestLowWaterCustomThreshold(t *testing.T) {
	g := New(units(10), units(3))
	g.Record(units(7))
	if g.LowWater() {
		t.Fatal("LowWater true with remaining equal to threshold")
	}
	g.Record(money.Micros(1))
	if !g.LowWater() {
		t.Fatal("LowWater false below custom threshold")
	}
}

func TestSwap(t *testing.T) {
	g := New(units(10), 0)
	g.Record(units(9) + units(1)/2)

	old := g.Swap(units(10))
	if old != units(9)+units(1)/2 {
		t.Fatalf("Swap returned %s, want 9.50", old)
	}
	if got := g.Remaining(); got != units(10) {
		t.Fatalf("Remaining after Swap = %s, want 10.00", got)
	}
	if g.LowWater() {
		t.Fatal("LowWater true after refresh")
	}
}

func TestConcurrentRecord(t *testing.T) {
	const (
		workers = 8
		calls   = 1000
	)
	g := New(units(workers*calls), 0)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range calls {
				if err := g.Check(units(1)); err != nil {
					t.Errorf("Check: %v", err)
					return
				}
				g.Record(units(1))
			}
		}()
	}
	wg.Wait()

	if got := g.Remaining(); got != 0 {
		t.Fatalf("Remaining after exact concurrent spend = %s, want 0", got)
	}
	if err := g.Check(units(1)); !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("Check after exhaustion = %v, want ErrBudgetExceeded", err)
	}
}

func BenchmarkCheck(b *testing.B) {
	g := New(units(1_000_000), 0)
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if err := g.Check(units(1)); err != nil {
				b.Fatal(err)
			}
		}
	})
}
