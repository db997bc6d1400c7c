package harness

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/pondoc/internal/channel"
	"github.com/roach88/pondoc/internal/document"
	"github.com/roach88/pondoc/internal/engine"
	"github.com/roach88/pondoc/internal/eval"
	"github.com/roach88/pondoc/internal/testutil"
)

// Harness drives one engine through the steps of a scenario.
type Harness struct {
	engine *engine.Engine
	doc    *document.Document
	sinks  map[string]*testutil.Lines
	order  []string
	dtime  float64
}

// Run executes a scenario against a fresh engine and returns the
// result. Each step queues its input, closes one cycle and collects
// what every client received.
//
// A returned error means the scenario could not run at all; failed
// expectations and assertions are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a context passed to every engine step.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	registry, err := eval.NewStdRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}
	if err := channel.RegisterRequests(registry); err != nil {
		return nil, fmt.Errorf("failed to register requests: %w", err)
	}

	doc, warnings, err := document.LoadString(registry, scenario.Document)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	for _, w := range warnings {
		slog.Warn("scenario document", "scenario", scenario.Name, "warning", w.String())
	}

	eng, err := engine.New(doc,
		engine.WithIDGenerator(engine.NewFixedGenerator(scenario.Clients...)),
		engine.WithMaxRequestsPerCycle(scenario.MaxRequestsPerCycle),
		engine.WithMetrics(prometheus.NewRegistry()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	defer eng.Stop()

	h := &Harness{
		engine: eng,
		doc:    doc,
		sinks:  make(map[string]*testutil.Lines, len(scenario.Clients)),
		order:  scenario.Clients,
		dtime:  scenario.DTime,
	}
	if h.dtime == 0 {
		h.dtime = DefaultDTime
	}

	for _, want := range scenario.Clients {
		lines := &testutil.Lines{}
		id, err := eng.Connect(lines.Append)
		if err != nil {
			return nil, fmt.Errorf("failed to connect %s: %w", want, err)
		}
		if string(id) != want {
			return nil, fmt.Errorf("client id %q generated for %q", id, want)
		}
		h.sinks[want] = lines
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	xml, err := doc.XML()
	if err != nil {
		return nil, fmt.Errorf("failed to dump document: %w", err)
	}
	result.Document = xml
	result.Cycle = eng.Stats().Cycle

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, doc) {
		result.AddError(msg)
	}
	return result, nil
}

// executeStep queues the reload, then the lines, then the disconnects
// of one step and closes a cycle.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	if step.Reload != "" {
		if err := h.engine.Reload([]byte(step.Reload)); err != nil {
			return err
		}
	}
	for _, m := range step.Send {
		if err := h.engine.Send(channel.ClientID(m.Client), m.Line); err != nil {
			return err
		}
	}
	for _, c := range step.Disconnect {
		if err := h.engine.Disconnect(channel.ClientID(c)); err != nil {
			return err
		}
	}

	report, err := h.engine.Step(ctx, h.dtime)
	if err != nil {
		return err
	}

	for _, m := range step.Send {
		result.AddSend(index, report.Cycle, m.Client, m.Line)
	}
	for _, c := range h.order {
		got := h.sinks[c].Take()
		for _, line := range got {
			result.AddRecv(index, report.Cycle, c, line)
		}
		if want, ok := step.Expect[c]; ok && !slices.Equal(got, want) {
			result.AddError(fmt.Sprintf("step %d (cycle %d): client %s\n  Expected: %q\n  Actual: %q",
				index, report.Cycle, c, want, got))
		}
	}
	return nil
}
