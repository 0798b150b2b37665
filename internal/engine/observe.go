package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Emission is one value delivered by an Observation.
type Emission[T any] struct {
	// Seq is the commit sequence number the value reflects.
	// Seq never decreases across the emissions of one observation.
	Seq int64

	// Value is the query result at Seq.
	Value T
}

// Observation is a live query subscription.
//
// The current result is emitted first; afterwards the query is re-run on
// every commit that touches the observed table, and a new value is emitted
// only when it differs from the previous emission. Values are delivered on
// an unbuffered channel by a dedicated goroutine, so a slow consumer delays
// only its own observation.
//
// Thread-safety: Updates, Last and Unsubscribe may be called from any
// goroutine, including the consumer while an emission is in flight.
type Observation[T any] struct {
	table   string
	updates chan Emission[T]
	done    chan struct{}
	exited  chan struct{}
	queue   *commitQueue
	cancel  context.CancelFunc
	detach  func()
	logger  *slog.Logger

	once      sync.Once
	mu        sync.Mutex
	started   bool
	stopped   bool
	last      Emission[T]
	hasLast   bool
	evaluated int64
	progress  chan struct{}
}

// loader computes the observed value.
type loader[T any] func(ctx context.Context) (T, error)

// observe registers an observation on table, loads the initial value and
// starts delivery. Registration happens before the initial load so that no
// commit racing with it can be missed.
func observe[T any](ctx context.Context, e *Engine, table string, load loader[T], equal func(a, b T) bool) (*Observation[T], error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	q := newCommitQueue()
	o := &Observation[T]{
		table:    table,
		updates:  make(chan Emission[T]),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
		queue:    q,
		cancel:   cancel,
		detach:   func() { e.hub.remove(q) },
		logger:   e.logger,
		progress: make(chan struct{}),
	}
	if !e.hub.add(q, table, o.Unsubscribe) {
		cancel()
		return nil, errClosed()
	}

	seq := e.clock.Current()
	initial, err := load(ctx)
	if err != nil {
		o.Unsubscribe()
		return nil, err
	}
	if !o.start(runCtx, Emission[T]{Seq: seq, Value: initial}, load, equal) {
		return nil, errClosed()
	}

	e.logger.Debug("observation started", "table", table, "seq", seq)
	return o, nil
}

func (o *Observation[T]) start(ctx context.Context, initial Emission[T], load loader[T], equal func(a, b T) bool) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return false
	}
	o.started = true
	go o.run(ctx, initial, load, equal)
	return true
}

func (o *Observation[T]) run(ctx context.Context, initial Emission[T], load loader[T], equal func(a, b T) bool) {
	defer close(o.exited)

	if !o.send(initial) {
		return
	}
	prev := initial
	for {
		select {
		case <-o.done:
			return
		case <-o.queue.Wait():
		}

		seq, n := o.queue.Drain()
		if n == 0 {
			if o.queue.Closed() {
				return
			}
			continue
		}

		v, err := load(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			o.logger.Warn("observation refresh failed",
				"table", o.table,
				"seq", seq,
				"error", err,
			)
		case !equal(prev.Value, v):
			next := Emission[T]{Seq: max(seq, prev.Seq), Value: v}
			if !o.send(next) {
				return
			}
			prev = next
		}
		o.advance(n)
	}
}

// advance records that n more commits have been fully evaluated.
func (o *Observation[T]) advance(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.evaluated += int64(n)
	close(o.progress)
	o.progress = make(chan struct{})
}

// Settle blocks until every commit published to the observation before
// the call has been evaluated and any resulting emission has been received
// from Updates. The caller must keep receiving from Updates (in another
// goroutine or a select loop) while it waits. Settle returns nil once the
// observation is released.
func (o *Observation[T]) Settle(ctx context.Context) error {
	target := o.queue.Published()
	for {
		o.mu.Lock()
		if o.evaluated >= target || o.stopped {
			o.mu.Unlock()
			return nil
		}
		wait := o.progress
		o.mu.Unlock()

		select {
		case <-wait:
		case <-o.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (o *Observation[T]) send(em Emission[T]) bool {
	o.mu.Lock()
	o.last = em
	o.hasLast = true
	o.mu.Unlock()

	select {
	case o.updates <- em:
		return true
	case <-o.done:
		return false
	}
}

// Updates returns the emission channel. It is closed by Unsubscribe
// (or Engine.Close) after the delivery goroutine has exited.
func (o *Observation[T]) Updates() <-chan Emission[T] {
	return o.updates
}

// Last returns the most recent emission. ok is false before the first.
func (o *Observation[T]) Last() (em Emission[T], ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last, o.hasLast
}

// Unsubscribe releases the observation. It is idempotent and safe to call
// at any time. After it returns no further emission is delivered and the
// Updates channel is closed.
func (o *Observation[T]) Unsubscribe() {
	o.once.Do(func() {
		o.mu.Lock()
		o.stopped = true
		started := o.started
		o.mu.Unlock()

		o.detach()
		o.queue.Close()
		o.cancel()
		close(o.done)
		if started {
			<-o.exited
		}
		close(o.updates)
	})
}

// Each calls fn for every emission until the observation is released.
//
// A panic in fn is recovered and logged, the observation is unsubscribed,
// and Each returns an error describing the panic. Other observations and
// the engine are unaffected. Each returns nil after a normal Unsubscribe.
func (o *Observation[T]) Each(fn func(Emission[T])) error {
	for em := range o.updates {
		if err := o.call(fn, em); err != nil {
			o.logger.Error("observer callback failed",
				"table", o.table,
				"seq", em.Seq,
				"error", err,
			)
			o.Unsubscribe()
			return err
		}
	}
	return nil
}

func (o *Observation[T]) call(fn func(Emission[T]), em Emission[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer callback panicked: %v", r)
		}
	}()
	fn(em)
	return nil
}

// hub routes commits to the observations of the tables they touched.
type hub struct {
	mu     sync.Mutex
	closed bool
	subs   map[*commitQueue]subscription
}

type subscription struct {
	table string
	stop  func()
}

func newHub() *hub {
	return &hub{subs: make(map[*commitQueue]subscription)}
}

// add registers q for commits on table. Returns false once the hub is closed.
func (h *hub) add(q *commitQueue, table string, stop func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.subs[q] = subscription{table: table, stop: stop}
	return true
}

func (h *hub) remove(q *commitQueue) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, q)
}

// publish enqueues c on every observation of a table c touched.
// Never blocks on consumers.
func (h *hub) publish(c commit) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for q, sub := range h.subs {
		if c.touches(sub.table) {
			q.Enqueue(c)
		}
	}
}

// Len returns the number of registered observations.
func (h *hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// close refuses new observations and releases every registered one.
func (h *hub) close() {
	h.mu.Lock()
	h.closed = true
	stops := make([]func(), 0, len(h.subs))
	for _, sub := range h.subs {
		stops = append(stops, sub.stop)
	}
	h.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
}
