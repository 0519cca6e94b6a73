package feed

import "sync"

// compactThreshold is the number of consumed slots tolerated at the front
// of the buffer before it is compacted.
const compactThreshold = 1024

// Queue is an unbounded, consume-once FIFO of output lines.
//
// Each line is handed to exactly one TryDrain caller. With several readers
// attached, every reader sees a disjoint subset of the output; steward's web
// console expects a single observer.
type Queue struct {
	mu     sync.Mutex
	lines  []Line
	head   int
	closed bool
}

// NewQueue returns an empty, open Queue.
func NewQueue() *Queue {
	return &Queue{}
}

var (
	_ Publisher = (*Queue)(nil)
	_ Drainer   = (*Queue)(nil)
)

// Publish appends line to the queue. It never blocks on readers.
// Lines published after Close are dropped.
func (q *Queue) Publish(line Line) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.lines = append(q.lines, line)
}

// TryDrain removes and returns the oldest line. It reports false when the
// queue is empty or closed.
func (q *Queue) TryDrain() (Line, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head >= len(q.lines) {
		return Line{}, false
	}
	line := q.lines[q.head]
	q.lines[q.head] = Line{}
	q.head++

	switch {
	case q.head == len(q.lines):
		q.lines = q.lines[:0]
		q.head = 0
	case q.head >= compactThreshold && q.head*2 >= len(q.lines):
		n := copy(q.lines, q.lines[q.head:])
		q.lines = q.lines[:n]
		q.head = 0
	}
	return line, true
}

// Len returns the number of lines waiting to be drained.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lines) - q.head
}

// Close tears the queue down: buffered lines are dropped and later
// publishes are ignored. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.lines = nil
	q.head = 0
}
