package supervisor

import (
	"fmt"
	"sync"
	"testing"
)

func TestLineRing_TailOrder(t *testing.T) {
	r := newLineRing(10)
	for i := 1; i <= 5; i++ {
		r.Append(fmt.Sprintf("line %d", i))
	}

	tail := r.Tail(3)
	want := []string{"line 3", "line 4", "line 5"}
	if len(tail) != len(want) {
		t.Fatalf("tail len = %d, want %d", len(tail), len(want))
	}
	for i := range want {
		if tail[i] != want[i] {
			t.Fatalf("tail[%d] = %q, want %q", i, tail[i], want[i])
		}
	}
}

func TestLineRing_DropsOldestWhenFull(t *testing.T) {
	r := newLineRing(3)
	for i := 1; i <= 5; i++ {
		r.Append(fmt.Sprintf("line %d", i))
	}

	if r.Len() != 3 {
		t.Fatalf("len = %d, want 3", r.Len())
	}
	tail := r.Tail(0)
	if tail[0] != "line 3" || tail[2] != "line 5" {
		t.Fatalf("tail = %#v", tail)
	}
}

func TestLineRing_TailBeyondLen(t *testing.T) {
	r := newLineRing(10)
	r.Append("only")
	tail := r.Tail(100)
	if len(tail) != 1 || tail[0] != "only" {
		t.Fatalf("tail = %#v", tail)
	}
}

func TestLineRing_Reset(t *testing.T) {
	r := newLineRing(10)
	r.Append("a")
	r.Reset()
	if r.Len() != 0 {
		t.Fatalf("len after reset = %d", r.Len())
	}
	if tail := r.Tail(5); len(tail) != 0 {
		t.Fatalf("tail after reset = %#v", tail)
	}
}

func TestLineRing_ConcurrentAppendRead(t *testing.T) {
	r := newLineRing(100)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			r.Append("x")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = r.Tail(10)
		}
	}()
	wg.Wait()
	if r.Len() != 100 {
		t.Fatalf("len = %d, want 100", r.Len())
	}
}
