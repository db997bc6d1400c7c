package harness

// Trace directions.
const (
	DirectionSend = "send"
	DirectionRecv = "recv"
)

// TraceEvent is one line crossing the boundary between a client and
// the engine.
type TraceEvent struct {
	Step      int    `json:"step"`
	Cycle     uint64 `json:"cycle"`
	Client    string `json:"client"`
	Direction string `json:"direction"`
	Line      string `json:"line"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds every sent and received line in order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds the failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`

	// Document is the XML dump of the document after the last step.
	Document string `json:"document"`

	// Cycle is the last cycle closed by the run.
	Cycle uint64 `json:"cycle"`
}

// NewResult creates a passing result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddSend records a line queued by a client.
func (r *Result) AddSend(step int, cycle uint64, client, line string) {
	r.Trace = append(r.Trace, TraceEvent{Step: step, Cycle: cycle, Client: client, Direction: DirectionSend, Line: line})
}

// AddRecv records a line delivered to a client.
func (r *Result) AddRecv(step int, cycle uint64, client, line string) {
	r.Trace = append(r.Trace, TraceEvent{Step: step, Cycle: cycle, Client: client, Direction: DirectionRecv, Line: line})
}

// Received returns the lines delivered to client, in order.
func (r *Result) Received(client string) []string {
	var lines []string
	for _, ev := range r.Trace {
		if ev.Direction == DirectionRecv && ev.Client == client {
			lines = append(lines, ev.Line)
		}
	}
	return lines
}
