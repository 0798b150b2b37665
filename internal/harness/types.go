package harness

// Trace event types.
const (
	EventWrite    = "write"
	EventRead     = "read"
	EventCommit   = "commit"
	EventRollback = "rollback"
	EventEmission = "emission"
	EventError    = "error"
)

// TraceEvent is one observable outcome of a scenario step.
type TraceEvent struct {
	// Type is one of the Event constants.
	Type string `json:"type"`

	// Step is the 1-based index of the top-level step that produced the
	// event. Nested transaction steps share their transaction's index.
	Step int `json:"step"`

	// Seq is the engine commit sequence the event reflects. Writes inside
	// a transaction carry the transaction's commit sequence.
	Seq int64 `json:"seq"`

	Op       string `json:"op,omitempty"`
	Table    string `json:"table,omitempty"`
	Observer string `json:"observer,omitempty"`
	ID       string `json:"id,omitempty"`
	Code     string `json:"code,omitempty"`

	// Record is the single record a write or find produced.
	Record map[string]any `json:"record,omitempty"`

	// Records is the result of fetch or of a row observation, in order.
	// Non-nil (possibly empty) when the event carries a row set.
	Records []any `json:"records,omitempty"`

	// Count is the result of count, purge, or a count observation.
	Count *int `json:"count,omitempty"`

	// Tables lists the tables a commit touched.
	Tables []string `json:"tables,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step met its expectations.
	Pass bool `json:"pass"`

	// Trace contains every event in execution order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Add appends an event to the trace.
func (r *Result) Add(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

// canonical renders the event as plain values for canonical JSON.
// Empty optional fields are omitted; a non-nil Records is always kept.
func (ev TraceEvent) canonical() map[string]any {
	m := map[string]any{
		"type": ev.Type,
		"step": ev.Step,
		"seq":  ev.Seq,
	}
	if ev.Op != "" {
		m["op"] = ev.Op
	}
	if ev.Table != "" {
		m["table"] = ev.Table
	}
	if ev.Observer != "" {
		m["observer"] = ev.Observer
	}
	if ev.ID != "" {
		m["id"] = ev.ID
	}
	if ev.Code != "" {
		m["code"] = ev.Code
	}
	if ev.Record != nil {
		m["record"] = ev.Record
	}
	if ev.Records != nil {
		m["records"] = ev.Records
	}
	if ev.Count != nil {
		m["count"] = *ev.Count
	}
	if len(ev.Tables) > 0 {
		m["tables"] = ev.Tables
	}
	return m
}
