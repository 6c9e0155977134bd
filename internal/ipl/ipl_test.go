package ipl

import (
	"sync"
	"testing"
)

func TestRaiseRestoresLevel(t *testing.T) {
	var d Disc
	restore := d.Raise()
	if d.level != 1 {
		t.Fatalf("expected level 1 while raised, got %d", d.level)
	}
	restore()
	if d.level != 0 {
		t.Fatalf("expected level 0 after restore, got %d", d.level)
	}
}

func TestRaiseSerializesConcurrentCallers(t *testing.T) {
	var d Disc
	var active int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	maxSeen := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			restore := d.Raise()
			defer restore()

			mu.Lock()
			active++
			if int(active) > maxSeen {
				maxSeen = int(active)
			}
			mu.Unlock()

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected at most one goroutine inside the critical section at a time, saw %d", maxSeen)
	}
}

func TestNestedRaiseFromSameGoroutineDoesNotDeadlock(t *testing.T) {
	var d Disc
	outer := d.Raise()
	if d.level != 1 {
		t.Fatalf("expected level 1 after the outer raise, got %d", d.level)
	}

	inner := d.Raise()
	if d.level != 2 {
		t.Fatalf("expected level 2 after a nested raise from the same goroutine, got %d", d.level)
	}

	inner()
	if d.level != 1 {
		t.Fatalf("expected level 1 after the inner restore, got %d", d.level)
	}

	outer()
	if d.level != 0 {
		t.Fatalf("expected level 0 after the outer restore, got %d", d.level)
	}
}

func TestNestedRestoreOutOfOrderPanics(t *testing.T) {
	var d Disc
	outer := d.Raise()
	_ = d.Raise()

	defer func() {
		if recover() == nil {
			t.Fatal("expected restoring the outer raise before the inner one to panic")
		}
	}()
	outer()
}

func TestMustHoldPanicsWithoutRaise(t *testing.T) {
	var d Disc
	defer func() {
		if recover() == nil {
			t.Fatal("expected MustHold to panic outside a raise")
		}
	}()
	d.MustHold()
}

func TestMustHoldOkWhileRaised(t *testing.T) {
	var d Disc
	restore := d.Raise()
	defer restore()
	d.MustHold()
}

func TestUnbalancedRestorePanics(t *testing.T) {
	var d Disc
	restore := d.Raise()
	restore()

	defer func() {
		if recover() == nil {
			t.Fatal("expected calling restore a second time to panic")
		}
	}()
	restore()
}
