package supervisor

import "sync"

// lineRing is a bounded buffer of output lines. The drain goroutine appends
// while HTTP handlers read, so every method takes the internal lock. When the
// buffer is full the oldest line is dropped.
type lineRing struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newLineRing(max int) *lineRing {
	if max <= 0 {
		max = 500
	}
	return &lineRing{max: max}
}

func (r *lineRing) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if len(r.lines) > r.max {
		// Shift rather than re-slice so the backing array does not pin
		// every line ever appended.
		n := copy(r.lines, r.lines[len(r.lines)-r.max:])
		r.lines = r.lines[:n]
	}
}

// Tail returns the most recent n lines, oldest first. n <= 0 returns all
// buffered lines.
func (r *lineRing) Tail(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.lines) {
		n = len(r.lines)
	}
	out := make([]string, n)
	copy(out, r.lines[len(r.lines)-n:])
	return out
}

func (r *lineRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lines)
}

func (r *lineRing) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = nil
}
