package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/roach88/pondoc/internal/channel"
	"github.com/roach88/pondoc/internal/document"
	"github.com/roach88/pondoc/internal/store"
	"github.com/roach88/pondoc/internal/stream"
)

// Sink receives the lines produced for one client during a cycle. It
// is called from the update loop and must not block.
type Sink func(lines []string)

// DefaultMaxFPS is the default cap on cycles per second.
const DefaultMaxFPS = 60

// Engine is the single-writer update loop around a document.
//
// Thread-safety model:
//   - Connect, Send, Disconnect, Reload, Stop and Stats: any goroutine
//   - Run and Step: exactly one goroutine
type Engine struct {
	doc      *document.Document
	streams  *stream.Registry
	dispatch *channel.Dispatcher
	queue    *eventQueue
	clock    *Clock
	ids      ClientIDGenerator
	quota    *QuotaEnforcer
	metrics  *Metrics

	sinks    map[channel.ClientID]Sink
	deferred []Event
	begun    bool

	journal       *store.Store
	session       string
	snapshotEvery uint64

	maxFPS        float64
	fixedTimestep float64

	cycle   atomic.Uint64
	clients atomic.Int64
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithClock sets the clock numbering journaled requests. Used when a
// session continues after replay.
func WithClock(c *Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIDGenerator sets how connecting clients are named.
func WithIDGenerator(g ClientIDGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithMaxRequestsPerCycle caps the lines each client gets handled per
// cycle. Zero disables the cap.
func WithMaxRequestsPerCycle(n int) EngineOption {
	return func(e *Engine) {
		e.quota = NewQuotaEnforcer(n)
	}
}

// WithMetrics registers the engine collectors with reg.
func WithMetrics(reg prometheus.Registerer) EngineOption {
	return func(e *Engine) {
		e.metrics = NewMetrics(reg)
	}
}

// WithJournal records every handled request of the session in s, and
// a snapshot of the document every snapshotEvery cycles that changed
// it. The session must already exist.
func WithJournal(s *store.Store, sessionID string, snapshotEvery uint64) EngineOption {
	return func(e *Engine) {
		e.journal = s
		e.session = sessionID
		e.snapshotEvery = snapshotEvery
	}
}

// WithMaxFPS caps how often Run closes a cycle. Zero or less runs
// unpaced.
func WithMaxFPS(fps float64) EngineOption {
	return func(e *Engine) {
		e.maxFPS = fps
	}
}

// WithFixedTimestep makes Run report dtime as a constant instead of
// the measured wall time between cycles.
func WithFixedTimestep(dtime float64) EngineOption {
	return func(e *Engine) {
		e.fixedTimestep = dtime
	}
}

// New creates an engine serving doc. The request functions are added
// to the document's registry if missing. doc must have a root.
func New(doc *document.Document, opts ...EngineOption) (*Engine, error) {
	if _, ok := doc.Root(); !ok {
		return nil, &RuntimeError{Code: ErrCodeNoRoot, Message: "document has no root entity"}
	}
	registry := doc.Registry()
	if _, ok := registry.Function("set_properties"); !ok {
		if err := channel.RegisterRequests(registry); err != nil {
			return nil, fmt.Errorf("register requests: %w", err)
		}
	}

	streams := stream.NewRegistry()
	e := &Engine{
		doc:      doc,
		streams:  streams,
		dispatch: channel.NewDispatcher(registry, channel.DocumentHandler(doc), streams.Handler(doc)),
		queue:    newEventQueue(),
		clock:    NewClock(),
		ids:      UUIDv7Generator{},
		quota:    NewQuotaEnforcer(0),
		sinks:    make(map[channel.ClientID]Sink),
		maxFPS:   DefaultMaxFPS,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(prometheus.NewRegistry())
	}
	return e, nil
}

// Document returns the served document. Only the goroutine running
// the loop may touch it while the engine runs.
func (e *Engine) Document() *document.Document {
	return e.doc
}

// Streams returns the stream registry.
func (e *Engine) Streams() *stream.Registry {
	return e.streams
}

// Clock returns the journal clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// ============================================================================
// Events
// ============================================================================

// Connect registers a new client whose output goes to sink and returns
// its id. The client exists from the next cycle on.
func (e *Engine) Connect(sink Sink) (channel.ClientID, error) {
	id := channel.ClientID(e.ids.Generate())
	if !e.queue.Enqueue(Event{Type: EventConnect, Client: id, Sink: sink}) {
		return "", errStopped
	}
	return id, nil
}

// Send queues one request line from client.
func (e *Engine) Send(client channel.ClientID, line string) error {
	if !e.queue.Enqueue(Event{Type: EventLine, Client: client, Line: line}) {
		return errStopped
	}
	return nil
}

// Disconnect drops client and closes every stream it owns.
func (e *Engine) Disconnect(client channel.ClientID) error {
	if !e.queue.Enqueue(Event{Type: EventDisconnect, Client: client}) {
		return errStopped
	}
	return nil
}

// Reload queues a replacement of the document content with the XML in
// data. The root entity is kept.
func (e *Engine) Reload(data []byte) error {
	if !e.queue.Enqueue(Event{Type: EventReload, Data: data}) {
		return errStopped
	}
	return nil
}

// Stop closes the event queue, which makes Run return.
func (e *Engine) Stop() {
	e.queue.Close()
}

// Stats is a snapshot of the loop counters, safe to read while the
// engine runs.
type Stats struct {
	Cycle   uint64
	Clients int64
}

// Stats returns the current loop counters.
func (e *Engine) Stats() Stats {
	return Stats{Cycle: e.cycle.Load(), Clients: e.clients.Load()}
}

// ============================================================================
// Loop
// ============================================================================

// Run closes cycles until ctx is cancelled or Stop is called, paced to
// at most the configured frames per second.
//
// A failed journal write is logged and the loop continues; requests
// are never retried.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting", "max_fps", e.maxFPS, "fixed_timestep", e.fixedTimestep)

	limit := rate.Inf
	if e.maxFPS > 0 {
		limit = rate.Limit(e.maxFPS)
	}
	limiter := rate.NewLimiter(limit, 1)
	last := time.Now()

	for {
		if e.queue.Closed() {
			slog.Info("engine stopping: queue closed")
			return nil
		}
		if err := limiter.Wait(ctx); err != nil {
			e.queue.Close()
			if ctx.Err() != nil {
				slog.Info("engine stopping: context cancelled")
				return ctx.Err()
			}
			return err
		}

		now := time.Now()
		dtime := e.fixedTimestep
		if dtime <= 0 {
			dtime = now.Sub(last).Seconds()
		}
		last = now

		if _, err := e.Step(ctx, dtime); err != nil {
			slog.Error("cycle failed", "cycle", e.cycle.Load(), "error", err)
		}
	}
}

// Report describes one closed cycle.
type Report struct {
	Cycle       uint64
	Requests    int
	Deferred    int
	Messages    int
	Invalidated int
	Changed     bool
}

// Step runs one cycle: it applies the queued events, closes the
// document cycle, produces stream output and delivers every line to
// its client. dtime is reported to frame streams.
func (e *Engine) Step(ctx context.Context, dtime float64) (Report, error) {
	start := time.Now()
	var errs []error
	if !e.begun {
		if err := e.begin(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	cycle := e.doc.Bus().Cycle()
	report := Report{Cycle: cycle}

	events := append(e.deferred, e.queue.Drain()...)
	e.deferred = nil
	e.quota.Reset()
	held := make(map[channel.ClientID]bool)

	var out []channel.Outgoing
	for _, ev := range events {
		if ev.Client != "" && held[ev.Client] {
			e.deferred = append(e.deferred, ev)
			continue
		}
		switch ev.Type {
		case EventConnect:
			e.sinks[ev.Client] = ev.Sink
			e.clients.Store(int64(len(e.sinks)))
			slog.Info("client connected", "client", ev.Client)

		case EventDisconnect:
			delete(e.sinks, ev.Client)
			e.clients.Store(int64(len(e.sinks)))
			n := e.streams.RemoveClient(ev.Client)
			slog.Info("client disconnected", "client", ev.Client, "streams", n)

		case EventReload:
			warnings, err := e.doc.Reload(bytes.NewReader(ev.Data))
			if err != nil {
				slog.Error("reload failed", "error", err)
				continue
			}
			slog.Info("document reloaded", "cycle", cycle, "warnings", len(warnings))

		case EventLine:
			if err := e.quota.Check(ev.Client); err != nil {
				held[ev.Client] = true
				e.deferred = append(e.deferred, ev)
				continue
			}
			replies := e.dispatch.HandleLine(ev.Client, ev.Line)
			report.Requests++
			if err := e.record(ctx, cycle, ev, replies); err != nil {
				errs = append(errs, err)
			}
			out = append(out, replies...)
		}
	}
	report.Deferred = len(e.deferred)
	if report.Deferred > 0 {
		e.metrics.deferred.Add(float64(report.Deferred))
	}

	changes := e.doc.CloseCycle()
	report.Changed = changes.Changed()
	report.Invalidated = len(changes.InvalidatedProperties)
	out = append(out, e.streams.OnCycle(e.doc, &changes, dtime)...)

	if report.Changed && e.snapshotDue(changes.Cycle) {
		if err := e.snapshot(ctx, changes.Cycle); err != nil {
			errs = append(errs, err)
		}
	}

	report.Messages = e.deliver(out)

	e.cycle.Store(changes.Cycle)
	e.metrics.cycles.Inc()
	e.metrics.invalidated.Observe(float64(report.Invalidated))
	e.metrics.clients.Set(float64(len(e.sinks)))
	e.metrics.streams.Set(float64(e.streams.Len()))
	e.metrics.entities.Set(float64(e.doc.Len()))
	e.metrics.cycleDuration.Observe(time.Since(start).Seconds())

	if len(errs) > 0 {
		return report, errs[0]
	}
	return report, nil
}

// begin closes the cycle holding the initial load so requests start in
// a fresh one, and journals the loaded document as the baseline
// snapshot.
func (e *Engine) begin(ctx context.Context) error {
	e.begun = true
	changes := e.doc.CloseCycle()
	e.cycle.Store(changes.Cycle)
	if e.journal == nil {
		return nil
	}
	return e.snapshot(ctx, changes.Cycle)
}

func (e *Engine) snapshotDue(cycle uint64) bool {
	return e.journal != nil && e.snapshotEvery > 0 && cycle%e.snapshotEvery == 0
}

// Snapshot journals the current document under the last closed cycle.
// Call it from the loop goroutine or after Run returned.
func (e *Engine) Snapshot(ctx context.Context) error {
	if e.journal == nil {
		return nil
	}
	return e.snapshot(ctx, e.cycle.Load())
}

func (e *Engine) snapshot(ctx context.Context, cycle uint64) error {
	xml, err := e.doc.XML()
	if err != nil {
		return &RuntimeError{Code: ErrCodeJournal, Message: "dump document", Cycle: cycle, Err: err}
	}
	snap := store.Snapshot{SessionID: e.session, Cycle: cycle, Entities: e.doc.Len(), XML: xml}
	if err := e.journal.WriteSnapshot(ctx, snap); err != nil {
		return &RuntimeError{Code: ErrCodeJournal, Message: "write snapshot", Cycle: cycle, Err: err}
	}
	slog.Debug("snapshot written", "session", e.session, "cycle", cycle, "entities", snap.Entities)
	return nil
}

// record counts a handled line and journals it. The last reply of a
// request is its answer; earlier ones are stream output.
func (e *Engine) record(ctx context.Context, cycle uint64, ev Event, replies []channel.Outgoing) error {
	outcome := store.OutcomeOK
	reply := ""
	if n := len(replies); n > 0 {
		last := replies[n-1]
		reply = last.Line()
		if last.Err != nil {
			outcome = string(last.Err.Type)
		}
	}
	e.metrics.requests.WithLabelValues(outcome).Inc()

	if e.journal == nil {
		return nil
	}
	ch, expr, _ := strings.Cut(ev.Line, " ")
	req := store.Request{
		SessionID: e.session,
		Seq:       e.clock.Next(),
		Cycle:     cycle,
		Client:    string(ev.Client),
		Channel:   ch,
		Request:   expr,
		Outcome:   outcome,
		Reply:     reply,
	}
	if err := e.journal.WriteRequest(ctx, req); err != nil {
		return &RuntimeError{Code: ErrCodeJournal, Message: fmt.Sprintf("write request seq %d", req.Seq), Cycle: cycle, Err: err}
	}
	return nil
}

// deliver hands each client its lines in production order and returns
// how many lines were delivered. Output for clients without a sink is
// dropped.
func (e *Engine) deliver(out []channel.Outgoing) int {
	if len(out) == 0 {
		return 0
	}
	var order []channel.ClientID
	lines := make(map[channel.ClientID][]string)
	for _, o := range out {
		if _, ok := e.sinks[o.Client]; !ok {
			continue
		}
		if _, seen := lines[o.Client]; !seen {
			order = append(order, o.Client)
		}
		lines[o.Client] = append(lines[o.Client], o.Line())
	}
	n := 0
	for _, c := range order {
		e.sinks[c](lines[c])
		n += len(lines[c])
	}
	return n
}
