package registry

import "github.com/tejasdessai01/agentwatch-app/internal/domain"

// logRing is a fixed-capacity FIFO of log entries. When full, push
// overwrites the oldest entry. Not safe for concurrent use on its own.
type logRing struct {
	buf   []domain.LogEntry
	start int
	size  int
}

func newLogRing(capacity int) logRing {
	return logRing{buf: make([]domain.LogEntry, capacity)}
}

func (r *logRing) push(e domain.LogEntry) {
	if len(r.buf) == 0 {
		return
	}
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = e
		r.size++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

// entries returns the stored entries oldest first. Never nil, so the
// JSON form is always an array.
func (r *logRing) entries() []domain.LogEntry {
	out := make([]domain.LogEntry, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *logRing) len() int { return r.size }
