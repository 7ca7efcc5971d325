package harness

// TraceEvent records the outcome of one step.
type TraceEvent struct {
	Step int    `json:"step"`
	Do   string `json:"do"`
	OK   bool   `json:"ok"`
	// Error is the error code of a failed step.
	Error string `json:"error,omitempty"`
	// Detail holds the step's observable outcome (offline flag, sync
	// counts). Ids are left out so traces do not depend on id generation.
	Detail map[string]any `json:"detail,omitempty"`
	// Unsynced is the unsynced mutation count after the step.
	Unsynced int `json:"unsynced"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true if every step met its expectation and every assertion
	// held.
	Pass bool `json:"pass"`

	// Trace has one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
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
