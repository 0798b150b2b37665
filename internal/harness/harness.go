package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/roach88/lofi/internal/compiler"
	"github.com/roach88/lofi/internal/dberr"
	"github.com/roach88/lofi/internal/engine"
	"github.com/roach88/lofi/internal/migration"
	"github.com/roach88/lofi/internal/queryir"
	"github.com/roach88/lofi/internal/schema"
	"github.com/roach88/lofi/internal/testutil"
)

// errAbort rolls back a transaction step on request.
var errAbort = errors.New("transaction aborted by scenario")

// Harness executes one scenario against its own engine.
type Harness struct {
	engine   *engine.Engine
	ids      *testutil.SequentialIDs
	clock    *testutil.StepClock
	refs     map[string]recordRef
	watchers map[string]watcher
	result   *Result
	step     int
}

type recordRef struct {
	table string
	id    string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh database file in a temporary directory,
// with sequential record ids and a clock that advances one millisecond per
// write. Expectation failures are reported in the result; an error is
// returned only when the scenario cannot be executed at all.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	s, ms, err := declarations(scenario)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "lofi-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	h := &Harness{
		ids:      testutil.NewSequentialIDs("rec"),
		clock:    testutil.NewStepClock(testutil.Epoch, time.Millisecond),
		refs:     make(map[string]recordRef),
		watchers: make(map[string]watcher),
		result:   NewResult(),
	}
	h.engine, err = engine.Open(ctx, filepath.Join(dir, "scenario.db"), s, ms,
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))), // Suppress logs in scenarios
		engine.WithIDGenerator(h.ids),
		engine.WithNow(h.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	defer h.engine.Close()

	for i, st := range scenario.Steps {
		h.step = i + 1
		if err := h.exec(ctx, st); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", h.step, st.Op, err)
		}
		if err := h.settle(ctx); err != nil {
			return nil, fmt.Errorf("step %d (%s): settle observations: %w", h.step, st.Op, err)
		}
	}

	for _, name := range h.watcherNames() {
		h.watchers[name].stop()
	}
	return h.result, nil
}

// declarations returns the scenario's schema and migrations.
func declarations(scenario *Scenario) (schema.Schema, []migration.Migration, error) {
	if scenario.Schema != nil {
		return *scenario.Schema, nil, nil
	}
	d, err := compiler.LoadDir(scenario.Declarations)
	if err != nil {
		return schema.Schema{}, nil, fmt.Errorf("failed to load declarations: %w", err)
	}
	return d.Schema, d.Migrations, nil
}

// exec runs one top-level step. Only infrastructure failures are returned;
// step outcomes go to the result.
func (h *Harness) exec(ctx context.Context, st Step) error {
	switch st.Op {
	case OpTransaction:
		h.transaction(ctx, st)
	case OpObserve:
		return h.observe(ctx, st)
	case OpUnobserve:
		h.unobserve(st)
	case OpFind, OpFetch, OpCount:
		ev, err := h.read(ctx, h.engine, st)
		h.record(st, ev, err)
	default:
		var ev TraceEvent
		err := h.engine.Write(ctx, func(ctx context.Context, tx *engine.Tx) error {
			var err error
			ev, err = h.apply(ctx, tx, st)
			return err
		})
		ev.Seq = h.engine.Seq()
		h.record(st, ev, err)
	}
	return nil
}

// transaction runs nested steps in one write transaction. Events of a
// committed transaction carry its commit sequence.
func (h *Harness) transaction(ctx context.Context, st Step) {
	start := len(h.result.Trace)
	before := h.engine.Seq()
	refs := make(map[string]recordRef, len(h.refs))
	for k, v := range h.refs {
		refs[k] = v
	}

	var tables []string
	err := h.engine.Write(ctx, func(ctx context.Context, tx *engine.Tx) error {
		for _, inner := range st.Steps {
			var (
				ev  TraceEvent
				err error
			)
			switch inner.Op {
			case OpFind, OpFetch, OpCount:
				ev, err = h.read(ctx, tx, inner)
			default:
				ev, err = h.apply(ctx, tx, inner)
			}
			ev.Seq = before
			h.record(inner, ev, err)
		}
		tables = tx.Tables()
		if st.Abort {
			return errAbort
		}
		return nil
	})

	end := TraceEvent{Type: EventCommit, Step: h.step, Op: OpTransaction, Seq: h.engine.Seq(), Tables: tables}
	switch {
	case err == nil:
		for i := start; i < len(h.result.Trace); i++ {
			h.result.Trace[i].Seq = end.Seq
		}
		if st.Expect != nil && st.Expect.Error != "" {
			h.fail(st, "expected error %s, got commit", st.Expect.Error)
		}
	case errors.Is(err, errAbort):
		end.Type = EventRollback
		end.Tables = nil
		h.refs = refs
	default:
		end.Type = EventRollback
		end.Tables = nil
		end.Code = codeOf(err)
		h.refs = refs
		if st.Expect == nil || st.Expect.Error != end.Code {
			h.fail(st, "transaction failed: %v", err)
		}
	}
	h.result.Add(end)
}

// writer is the write surface a step applies to.
type writer interface {
	Create(ctx context.Context, table string, init func(*engine.Draft)) (*engine.Record, error)
	Update(ctx context.Context, rec *engine.Record, mutate func(*engine.Draft)) (*engine.Record, error)
	MarkDeleted(ctx context.Context, rec *engine.Record) (*engine.Record, error)
	DestroyPermanently(ctx context.Context, rec *engine.Record) error
	PurgeDeleted(ctx context.Context, table string) (int, error)
	Find(ctx context.Context, table, id string) (*engine.Record, error)
}

// apply runs a write step.
func (h *Harness) apply(ctx context.Context, tx writer, st Step) (TraceEvent, error) {
	ev := TraceEvent{Type: EventWrite, Step: h.step, Op: st.Op, Table: st.Table}

	if st.Op == OpCreate {
		rec, err := tx.Create(ctx, st.Table, func(d *engine.Draft) { d.SetAll(st.Values) })
		if err != nil {
			return ev, err
		}
		if st.As != "" {
			h.refs[st.As] = recordRef{table: rec.Table, id: rec.ID}
		}
		ev.Record = rec.Map()
		return ev, nil
	}

	if st.Op == OpPurge {
		n, err := tx.PurgeDeleted(ctx, st.Table)
		ev.Count = &n
		return ev, err
	}

	ref, err := h.lookup(st.Ref)
	if err != nil {
		return ev, err
	}
	ev.Table = ref.table

	if st.Op == OpDestroy {
		ev.ID = ref.id
		return ev, tx.DestroyPermanently(ctx, &engine.Record{ID: ref.id, Table: ref.table})
	}

	cur, err := tx.Find(ctx, ref.table, ref.id)
	if err != nil {
		return ev, err
	}
	var rec *engine.Record
	switch st.Op {
	case OpUpdate:
		rec, err = tx.Update(ctx, cur, func(d *engine.Draft) { d.SetAll(st.Values) })
	case OpMarkDeleted:
		rec, err = tx.MarkDeleted(ctx, cur)
	default:
		return ev, fmt.Errorf("unknown write op %q", st.Op)
	}
	if err != nil {
		return ev, err
	}
	ev.Record = rec.Map()
	return ev, nil
}

// reader is the read surface shared by the engine and an open transaction.
type reader interface {
	Find(ctx context.Context, table, id string) (*engine.Record, error)
	Fetch(ctx context.Context, q queryir.Query) ([]*engine.Record, error)
}

// read runs a find, fetch or count step.
func (h *Harness) read(ctx context.Context, r reader, st Step) (TraceEvent, error) {
	ev := TraceEvent{Type: EventRead, Step: h.step, Seq: h.engine.Seq(), Op: st.Op, Table: st.Table}

	switch st.Op {
	case OpFind:
		ref, err := h.lookup(st.Ref)
		if err != nil {
			return ev, err
		}
		ev.Table = ref.table
		rec, err := r.Find(ctx, ref.table, ref.id)
		if err != nil {
			return ev, err
		}
		ev.Record = rec.Map()
		return ev, nil

	case OpFetch:
		q, err := query(st)
		if err != nil {
			return ev, err
		}
		recs, err := r.Fetch(ctx, q)
		if err != nil {
			return ev, err
		}
		ev.Records = renderRecords(recs)
		return ev, nil

	case OpCount:
		q, err := query(st)
		if err != nil {
			return ev, err
		}
		var n int
		if c, ok := r.(interface {
			Count(ctx context.Context, q queryir.Query) (int, error)
		}); ok {
			n, err = c.Count(ctx, q)
		} else {
			var recs []*engine.Record
			recs, err = r.Fetch(ctx, q)
			n = len(recs)
		}
		if err != nil {
			return ev, err
		}
		ev.Count = &n
		return ev, nil
	}
	return ev, fmt.Errorf("unknown read op %q", st.Op)
}

// record adds the step outcome to the trace and checks expectations.
func (h *Harness) record(st Step, ev TraceEvent, err error) {
	want := ""
	if st.Expect != nil {
		want = st.Expect.Error
	}

	if err != nil {
		code := codeOf(err)
		h.result.Add(TraceEvent{
			Type:  EventError,
			Step:  h.step,
			Seq:   ev.Seq,
			Op:    st.Op,
			Table: ev.Table,
			Code:  code,
		})
		switch {
		case want == "":
			h.fail(st, "unexpected error: %v", err)
		case want != code:
			h.fail(st, "expected error %s, got %v", want, err)
		}
		return
	}

	h.result.Add(ev)
	if want != "" {
		h.fail(st, "expected error %s, got success", want)
		return
	}
	for _, msg := range h.check(st.Expect, ev) {
		h.fail(st, "%s", msg)
	}
}

func (h *Harness) fail(st Step, format string, args ...any) {
	label := st.Op
	if st.As != "" {
		label += " " + st.As
	} else if st.Ref != "" {
		label += " " + st.Ref
	}
	h.result.AddError(fmt.Sprintf("step %d (%s): %s", h.step, label, fmt.Sprintf(format, args...)))
}

func (h *Harness) lookup(name string) (recordRef, error) {
	ref, ok := h.refs[name]
	if !ok {
		return recordRef{}, fmt.Errorf("unknown record ref %q", name)
	}
	return ref, nil
}

// observe starts a named observation and records its initial emission.
func (h *Harness) observe(ctx context.Context, st Step) error {
	if _, exists := h.watchers[st.As]; exists {
		h.fail(st, "observation %q already exists", st.As)
		return nil
	}
	q, err := query(st)
	if err != nil {
		h.record(st, TraceEvent{Seq: h.engine.Seq(), Table: st.Table}, err)
		return nil
	}
	tq := h.engine.Table(q.Table).Query(q.Where...).SortBy(q.Sort...).Take(q.Limit).Skip(q.Offset)

	var w watcher
	if st.Count {
		obs, err := tq.ObserveCount(ctx)
		if err != nil {
			h.record(st, TraceEvent{Seq: h.engine.Seq(), Table: st.Table}, err)
			return nil
		}
		w = &watch[int]{name: st.As, table: st.Table, obs: obs, render: renderCount}
	} else {
		obs, err := tq.Observe(ctx)
		if err != nil {
			h.record(st, TraceEvent{Seq: h.engine.Seq(), Table: st.Table}, err)
			return nil
		}
		w = &watch[[]*engine.Record]{name: st.As, table: st.Table, obs: obs, render: renderRows}
	}
	h.watchers[st.As] = w

	ev, err := w.first(ctx, h.step)
	if err != nil {
		return err
	}
	ev.Op = OpObserve
	h.record(st, ev, nil)
	return nil
}

func (h *Harness) unobserve(st Step) {
	w, ok := h.watchers[st.Ref]
	if !ok {
		h.fail(st, "unknown observation %q", st.Ref)
		return
	}
	w.stop()
	delete(h.watchers, st.Ref)
}

// settle records every emission caused by the steps so far, in
// observation name order.
func (h *Harness) settle(ctx context.Context) error {
	for _, name := range h.watcherNames() {
		events, err := h.watchers[name].settle(ctx, h.step)
		if err != nil {
			return err
		}
		for _, ev := range events {
			h.result.Add(ev)
		}
	}
	return nil
}

func (h *Harness) watcherNames() []string {
	names := make([]string, 0, len(h.watchers))
	for name := range h.watchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// query builds the query descriptor of a read or observe step.
// Where filters apply in column-name order.
func query(st Step) (queryir.Query, error) {
	cols := make([]string, 0, len(st.Where))
	for col := range st.Where {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	q := queryir.New(st.Table)
	for _, col := range cols {
		q = q.Filter(queryir.Eq(col, st.Where[col]))
	}
	if st.ExcludeDeleted {
		q = q.Filter(queryir.NotDeleted())
	}
	for _, raw := range st.Sort {
		key, err := parseSortKey(raw)
		if err != nil {
			return queryir.Query{}, err
		}
		q = q.SortBy(key)
	}
	return q.Take(st.Limit).Skip(st.Offset), nil
}

// parseSortKey parses "column" or "column:asc|desc".
func parseSortKey(raw string) (queryir.SortKey, error) {
	col, dir, _ := strings.Cut(raw, ":")
	if col == "" {
		return queryir.SortKey{}, fmt.Errorf("invalid sort key %q", raw)
	}
	switch strings.ToLower(dir) {
	case "", "asc":
		return queryir.Asc(col), nil
	case "desc":
		return queryir.Desc(col), nil
	}
	return queryir.SortKey{}, fmt.Errorf("invalid sort direction in %q", raw)
}

func codeOf(err error) string {
	if code := dberr.CodeOf(err); code != "" {
		return string(code)
	}
	return "ERROR"
}

func renderRecords(recs []*engine.Record) []any {
	out := make([]any, len(recs))
	for i, r := range recs {
		out[i] = r.Map()
	}
	return out
}

func renderRows(ev *TraceEvent, recs []*engine.Record) {
	ev.Records = renderRecords(recs)
}

func renderCount(ev *TraceEvent, n int) {
	ev.Count = &n
}

// watcher is a type-erased observation.
type watcher interface {
	first(ctx context.Context, step int) (TraceEvent, error)
	settle(ctx context.Context, step int) ([]TraceEvent, error)
	stop()
}

type watch[T any] struct {
	name   string
	table  string
	obs    *engine.Observation[T]
	render func(ev *TraceEvent, v T)
}

func (w *watch[T]) event(step int, em engine.Emission[T]) TraceEvent {
	ev := TraceEvent{Type: EventEmission, Step: step, Seq: em.Seq, Table: w.table, Observer: w.name}
	w.render(&ev, em.Value)
	return ev
}

// first receives the initial emission.
func (w *watch[T]) first(ctx context.Context, step int) (TraceEvent, error) {
	select {
	case em, ok := <-w.obs.Updates():
		if !ok {
			return TraceEvent{}, fmt.Errorf("observation %q closed before its first emission", w.name)
		}
		return w.event(step, em), nil
	case <-ctx.Done():
		return TraceEvent{}, ctx.Err()
	}
}

// settle receives emissions until every commit published so far has been
// evaluated.
func (w *watch[T]) settle(ctx context.Context, step int) ([]TraceEvent, error) {
	settled := make(chan error, 1)
	go func() { settled <- w.obs.Settle(ctx) }()

	var events []TraceEvent
	for {
		select {
		case em, ok := <-w.obs.Updates():
			if !ok {
				return events, <-settled
			}
			events = append(events, w.event(step, em))
		case err := <-settled:
			return events, err
		}
	}
}

func (w *watch[T]) stop() {
	w.obs.Unsubscribe()
}
