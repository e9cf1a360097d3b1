package subset

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestApplyUnfilterReset(t *testing.T) {
	m := NewManager(nil)
	m.Register("roads", "base")

	prev, err := m.Apply("roads", "expr1")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if prev != "base" {
		t.Errorf("previous = %q, want base", prev)
	}
	if _, err := m.Apply("roads", "expr2"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := m.Current("roads"); got != "expr2" {
		t.Errorf("current = %q", got)
	}
	if got := m.HistoryDepth("roads"); got != 2 {
		t.Errorf("history depth = %d, want 2", got)
	}

	if err := m.Unfilter("roads"); err != nil {
		t.Fatalf("Unfilter: %v", err)
	}
	if got := m.Current("roads"); got != "expr1" {
		t.Errorf("after unfilter current = %q, want expr1", got)
	}

	if _, err := m.Apply("roads", "expr3"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := m.Reset("roads"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got := m.Current("roads"); got != "base" {
		t.Errorf("after reset current = %q, want base", got)
	}
	if got := m.HistoryDepth("roads"); got != 0 {
		t.Errorf("reset should clear history, depth = %d", got)
	}
}

func TestUnfilterEmptyHistoryIsNoop(t *testing.T) {
	m := NewManager(nil)
	m.Register("roads", "base")
	if err := m.Unfilter("roads"); err != nil {
		t.Fatalf("Unfilter on empty history: %v", err)
	}
	if got := m.Current("roads"); got != "base" {
		t.Errorf("current = %q, want base untouched", got)
	}
}

func TestRegisterPreservesBaseline(t *testing.T) {
	m := NewManager(nil)
	m.Register("roads", "base")
	m.Register("roads", "other")
	if _, err := m.Apply("roads", "expr"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := m.Reset("roads"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got := m.Current("roads"); got != "base" {
		t.Errorf("re-register must not overwrite baseline, got %q", got)
	}
}

func TestApplierFailureLeavesStateUntouched(t *testing.T) {
	boom := errors.New("host rejected expression")
	m := NewManager(func(layerID, expr string) error { return boom })
	m.Register("roads", "base")

	if _, err := m.Apply("roads", "expr"); !errors.Is(err, boom) {
		t.Fatalf("Apply error = %v, want applier failure", err)
	}
	if got := m.Current("roads"); got != "base" {
		t.Errorf("failed apply mutated state: %q", got)
	}
	if got := m.HistoryDepth("roads"); got != 0 {
		t.Errorf("failed apply grew history: %d", got)
	}
}

func TestConcurrentAppliesLinearize(t *testing.T) {
	m := NewManager(nil)
	m.Register("roads", "base")

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := m.Apply("roads", fmt.Sprintf("expr%d", i)); err != nil {
				t.Errorf("Apply: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := m.HistoryDepth("roads"); got != n {
		t.Errorf("history depth = %d, want %d", got, n)
	}
	// Unwinding the full history must land back on the baseline.
	for i := 0; i < n; i++ {
		if err := m.Unfilter("roads"); err != nil {
			t.Fatalf("Unfilter: %v", err)
		}
	}
	if got := m.Current("roads"); got != "base" {
		t.Errorf("after full unwind current = %q, want base", got)
	}
}

func TestLayersAreIndependent(t *testing.T) {
	m := NewManager(nil)
	m.Register("roads", "r")
	m.Register("parcels", "p")

	if _, err := m.Apply("roads", "expr"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := m.Current("parcels"); got != "p" {
		t.Errorf("sibling layer mutated: %q", got)
	}
}
