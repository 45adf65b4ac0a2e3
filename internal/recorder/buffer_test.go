package recorder

import (
	"sync"
	"testing"
)

func TestBuffer_PushDrain(t *testing.T) {
	buf := NewBuffer[int](10, 0)

	for i := 0; i < 5; i++ {
		if !buf.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}
	if buf.Len() != 5 {
		t.Errorf("Len() = %d, want 5", buf.Len())
	}

	got := buf.DrainTo(3)
	if len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Errorf("DrainTo(3) = %v, want [0 1 2]", got)
	}
	got = buf.DrainTo(0)
	if len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Errorf("DrainTo(0) = %v, want [3 4]", got)
	}
	if got := buf.DrainTo(0); got != nil {
		t.Errorf("DrainTo on empty = %v, want nil", got)
	}
}

func TestBuffer_GrowAt70Percent(t *testing.T) {
	buf := NewBuffer[int](10, 0)

	for i := 0; i < 7; i++ {
		buf.Push(i)
	}

	stats := buf.Stats()
	if stats.Capacity != 20 {
		t.Errorf("Capacity = %d, want 20 after 70%% fill", stats.Capacity)
	}
	if stats.Resizes != 1 {
		t.Errorf("Resizes = %d, want 1", stats.Resizes)
	}

	for i, v := range buf.DrainTo(0) {
		if v != i {
			t.Fatalf("item %d = %d, order lost across grow", i, v)
		}
	}
}

func TestBuffer_GrowAfterWrap(t *testing.T) {
	buf := NewBuffer[int](4, 0)

	// Move head forward so the ring wraps before growing
	buf.Push(0)
	buf.Push(1)
	buf.DrainTo(2)
	for i := 2; i < 12; i++ {
		buf.Push(i)
	}

	got := buf.DrainTo(0)
	if len(got) != 10 {
		t.Fatalf("drained %d items, want 10", len(got))
	}
	for i, v := range got {
		if v != i+2 {
			t.Errorf("item %d = %d, want %d", i, v, i+2)
		}
	}
}

func TestBuffer_EvictsOldestAtMax(t *testing.T) {
	buf := NewBuffer[int](2, 4)

	for i := 0; i < 6; i++ {
		if !buf.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}

	stats := buf.Stats()
	if stats.Capacity != 4 {
		t.Errorf("Capacity = %d, want 4", stats.Capacity)
	}
	if stats.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", stats.Dropped)
	}

	got := buf.DrainTo(0)
	want := []int{2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("DrainTo = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("DrainTo = %v, want %v", got, want)
			break
		}
	}
}

func TestBuffer_Close(t *testing.T) {
	buf := NewBuffer[int](4, 0)
	buf.Push(1)
	buf.Close()

	if buf.Push(2) {
		t.Error("Push after Close returned true")
	}
	if got := buf.DrainTo(0); len(got) != 1 || got[0] != 1 {
		t.Errorf("DrainTo after Close = %v, want [1]", got)
	}
}

func TestBuffer_Concurrent(t *testing.T) {
	buf := NewBuffer[int](8, 0)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				buf.Push(i)
			}
		}()
	}

	var drained int
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		drained += len(buf.DrainTo(16))
		select {
		case <-done:
			drained += len(buf.DrainTo(0))
			if drained != 1000 {
				t.Errorf("drained %d, want 1000", drained)
			}
			stats := buf.Stats()
			if stats.Pushed != 1000 || stats.Drained != 1000 {
				t.Errorf("Stats = %+v", stats)
			}
			return
		default:
		}
	}
}
