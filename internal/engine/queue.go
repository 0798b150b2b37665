package engine

import "sync"

// commit describes one committed write transaction.
type commit struct {
	Seq    int64
	Tables []string
}

// touches reports whether the commit wrote table.
func (c commit) touches(table string) bool {
	for _, t := range c.Tables {
		if t == table {
			return true
		}
	}
	return false
}

// commitQueue is a thread-safe FIFO of commits awaiting one observation.
//
// The queue is unbounded so that publishing never blocks the writer,
// however slow the observation's consumer is. A buffered signal channel of
// size 1 coalesces wake-ups and allows context-aware waiting.
type commitQueue struct {
	mu        sync.Mutex
	commits   []commit
	published int64
	closed    bool
	signal    chan struct{}
}

func newCommitQueue() *commitQueue {
	return &commitQueue{
		commits: make([]commit, 0, 8),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue appends c. Returns false if the queue is closed.
func (q *commitQueue) Enqueue(c commit) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.commits = append(q.commits, c)
	q.published++

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes and returns the front commit without blocking.
func (q *commitQueue) TryDequeue() (commit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.commits) == 0 {
		return commit{}, false
	}
	c := q.commits[0]
	q.commits[0] = commit{}
	if len(q.commits) == 1 {
		q.commits = q.commits[:0]
	} else {
		q.commits = q.commits[1:]
	}
	return c, true
}

// Drain removes every queued commit and returns the highest sequence
// number among them and how many were removed.
func (q *commitQueue) Drain() (seq int64, n int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, c := range q.commits {
		if c.Seq > seq {
			seq = c.Seq
		}
		q.commits[i] = commit{}
	}
	n = len(q.commits)
	q.commits = q.commits[:0]
	return seq, n
}

// Published returns how many commits were ever enqueued.
func (q *commitQueue) Published() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.published
}

// Wait returns a channel that signals when commits may be available.
// The channel is closed when the queue is closed.
func (q *commitQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued commits.
func (q *commitQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.commits)
}

// Close stops further enqueues and wakes any waiter.
func (q *commitQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Closed reports whether Close has been called.
func (q *commitQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
