package harness

// TraceEvent records the outcome of one step. Publish steps carry the
// pipeline entries, pull steps the pull report.
type TraceEvent struct {
	Seq      int          `json:"seq"`
	Step     string       `json:"step"`
	Target   string       `json:"target,omitempty"`
	Error    string       `json:"error,omitempty"`
	Pipeline *PipelineRun `json:"pipeline,omitempty"`
	Pull     *PullRun     `json:"pull,omitempty"`
}

// PipelineRun summarizes a publish.
type PipelineRun struct {
	ID      string     `json:"id"`
	Status  string     `json:"status"`
	Entries []EntryRun `json:"entries"`
}

// EntryRun summarizes one pipeline entry.
type EntryRun struct {
	File     string   `json:"file"`
	Phase    string   `json:"phase"`
	Kind     string   `json:"kind"`
	RecordID string   `json:"record_id,omitempty"`
	Fields   any      `json:"fields,omitempty"`
	Status   string   `json:"status"`
	Error    string   `json:"error,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// PullRun summarizes a pull.
type PullRun struct {
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Removed   []string `json:"removed,omitempty"`
	Conflicts []string `json:"conflicts,omitempty"`
}

// Result is the outcome of a scenario.
type Result struct {
	// Pass is true when every step met its expectation and every
	// assertion held.
	Pass   bool         `json:"pass"`
	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}, Errors: []string{}}
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addEvent(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}

// lastPipeline returns the most recent publish in the trace.
func (r *Result) lastPipeline() *PipelineRun {
	for i := len(r.Trace) - 1; i >= 0; i-- {
		if r.Trace[i].Pipeline != nil {
			return r.Trace[i].Pipeline
		}
	}
	return nil
}
