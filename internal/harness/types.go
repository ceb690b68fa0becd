package harness

// Result is the outcome of one scenario execution.
type Result struct {
	// Scenario is the scenario name this result belongs to.
	Scenario string `json:"scenario"`

	// Pass is true when every step ran and every expectation held.
	Pass bool `json:"pass"`

	// Trace holds one rendered line per wire call, in start order.
	Trace []string `json:"trace"`

	// Errors lists step failures and unmet expectations. Empty when Pass
	// is true.
	Errors []string `json:"errors,omitempty"`

	// FinalContent is the authoritative server-side content after the run.
	FinalContent string `json:"final_content"`

	// FinalVersion is the last server version the engine confirmed.
	FinalVersion int64 `json:"final_version"`

	// Status is the engine's final reported status.
	Status string `json:"status"`
}

// NewResult returns a passing result for the named scenario.
func NewResult(scenario string) *Result {
	return &Result{
		Scenario: scenario,
		Pass:     true,
		Trace:    []string{},
		Errors:   []string{},
	}
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}
