package engine

import "sync"

// resultRing is a fixed-capacity ring buffer of completed execution results.
// Oldest entries are silently dropped; the buffer is observability-only and
// never influences control flow.
type resultRing struct {
	mu    sync.Mutex
	buf   []*ExecutionResult
	next  int
	count int
}

func newResultRing(capacity int) *resultRing {
	if capacity < 1 {
		capacity = 1
	}
	return &resultRing{buf: make([]*ExecutionResult, capacity)}
}

func (r *resultRing) Add(result *ExecutionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.next] = result
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Snapshot returns the buffered results oldest-first.
func (r *resultRing) Snapshot() []*ExecutionResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*ExecutionResult, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

func (r *resultRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
