package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pondoc/internal/channel"
	"github.com/roach88/pondoc/internal/document"
	"github.com/roach88/pondoc/internal/eval"
	"github.com/roach88/pondoc/internal/store"
	"github.com/roach88/pondoc/internal/testutil"
)

const fixture = `<Root>
  <Entity name="a" x="1">
    <Entity name="b" y="@a.x" />
  </Entity>
</Root>`

func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	r, err := eval.NewStdRegistry()
	require.NoError(t, err)
	require.NoError(t, channel.RegisterRequests(r))
	doc := document.MustLoadString(r, fixture)

	opts = append([]EngineOption{WithIDGenerator(NewFixedGenerator("c1", "c2", "c3"))}, opts...)
	e, err := New(doc, opts...)
	require.NoError(t, err)
	return e
}

func connect(t *testing.T, e *Engine) (channel.ClientID, *testutil.Lines) {
	t.Helper()
	c := &testutil.Lines{}
	id, err := e.Connect(c.Append)
	require.NoError(t, err)
	return id, c
}

func step(t *testing.T, e *Engine) Report {
	t.Helper()
	r, err := e.Step(context.Background(), 0.25)
	require.NoError(t, err)
	return r
}

// ============================================================================
// Cycles
// ============================================================================

func TestEngine_RepliesThenStreams(t *testing.T) {
	e := newTestEngine(t)
	id, out := connect(t, e)
	assert.Equal(t, channel.ClientID("c1"), id)
	step(t, e)

	require.NoError(t, e.Send(id, "1 frame_stream_create {}"))
	require.NoError(t, e.Send(id, "2 set_properties { entity: a, properties: { x: 3 } }"))
	r := step(t, e)

	assert.Equal(t, uint64(2), r.Cycle)
	assert.Equal(t, 2, r.Requests)
	assert.True(t, r.Changed)
	assert.Equal(t, []string{
		"1 ok ()",
		"2 ok ()",
		"1 ok frame { cycle: 2, dtime: 0.25 }",
	}, out.Take())

	b, err := e.Document().EntityByName("b")
	require.NoError(t, err)
	y, err := e.Document().Number(b, "y")
	require.NoError(t, err)
	assert.Equal(t, 3.0, y)
	assert.Equal(t, uint64(2), e.Stats().Cycle)
}

func TestEngine_BadLineIsAnsweredOnItsChannel(t *testing.T) {
	e := newTestEngine(t)
	id, out := connect(t, e)
	require.NoError(t, e.Send(id, "7 no_such_request {}"))
	step(t, e)

	lines := out.Take()
	require.Len(t, lines, 1)
	assert.Regexp(t, `^7 err bad_request: `, lines[0])
}

func TestEngine_QuotaDefersInOrder(t *testing.T) {
	e := newTestEngine(t, WithMaxRequestsPerCycle(1))
	id, out := connect(t, e)
	other, otherOut := connect(t, e)
	step(t, e)

	for _, line := range []string{"1 reserve_entity_ids { count: 1 }", "2 reserve_entity_ids { count: 1 }", "3 reserve_entity_ids { count: 1 }"} {
		require.NoError(t, e.Send(id, line))
	}
	require.NoError(t, e.Send(other, "9 reserve_entity_ids { count: 0 }"))

	r := step(t, e)
	assert.Equal(t, 2, r.Requests)
	assert.Equal(t, 2, r.Deferred)
	assert.Equal(t, []string{"1 ok [4, 4]"}, out.Take())
	assert.Len(t, otherOut.Take(), 1, "other clients are not held back")

	step(t, e)
	assert.Equal(t, []string{"2 ok [5, 5]"}, out.Take())
	r = step(t, e)
	assert.Equal(t, []string{"3 ok [6, 6]"}, out.Take())
	assert.Zero(t, r.Deferred)
}

func TestEngine_DisconnectDropsStreams(t *testing.T) {
	e := newTestEngine(t)
	id, _ := connect(t, e)
	require.NoError(t, e.Send(id, "1 frame_stream_create {}"))
	require.NoError(t, e.Send(id, "2 doc_stream_create { selector: root:* }"))
	step(t, e)
	require.Equal(t, 2, e.Streams().Len())
	assert.Equal(t, int64(1), e.Stats().Clients)

	require.NoError(t, e.Disconnect(id))
	step(t, e)
	assert.Zero(t, e.Streams().Len())
	assert.Zero(t, e.Stats().Clients)
}

func TestEngine_Reload(t *testing.T) {
	e := newTestEngine(t)
	id, out := connect(t, e)
	require.NoError(t, e.Send(id, "1 doc_stream_create { selector: root:* }"))
	step(t, e)
	out.Take()

	require.NoError(t, e.Reload([]byte(`<Root><Entity name="z" /></Root>`)))
	r := step(t, e)
	assert.True(t, r.Changed)

	_, err := e.Document().EntityByName("a")
	assert.Error(t, err)
	_, err = e.Document().EntityByName("z")
	assert.NoError(t, err)

	lines := out.Take()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "doc_stream_cycle")
}

func TestEngine_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := newTestEngine(t, WithMetrics(reg))
	id, _ := connect(t, e)
	require.NoError(t, e.Send(id, "1 reserve_entity_ids { count: 2 }"))
	require.NoError(t, e.Send(id, "2 remove_entity { entity: root:[name=nope] }"))
	step(t, e)
	step(t, e)

	assert.Equal(t, 2.0, promtest.ToFloat64(e.metrics.cycles))
	assert.Equal(t, 1.0, promtest.ToFloat64(e.metrics.requests.WithLabelValues(store.OutcomeOK)))
	assert.Equal(t, 1.0, promtest.ToFloat64(e.metrics.requests.WithLabelValues(store.OutcomeBadRequest)))
	assert.Equal(t, 1.0, promtest.ToFloat64(e.metrics.clients))
	assert.Equal(t, 3.0, promtest.ToFloat64(e.metrics.entities))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestEngine_StoppedRejectsEvents(t *testing.T) {
	e := newTestEngine(t)
	e.Stop()

	_, err := e.Connect(func([]string) {})
	assert.True(t, IsStoppedError(err))
	assert.True(t, IsStoppedError(e.Send("c1", "1 x")))
	assert.NoError(t, e.Run(context.Background()), "Run returns at once on a stopped engine")
}

func TestNew_RequiresRoot(t *testing.T) {
	r, err := eval.NewStdRegistry()
	require.NoError(t, err)
	_, err = New(document.New(r))
	require.Error(t, err)
	assert.True(t, IsNoRootError(err))
}

func TestEngine_RunPacesAndCancels(t *testing.T) {
	e := newTestEngine(t, WithMaxFPS(200), WithFixedTimestep(0.5))
	frames := make(chan string, 16)
	id, err := e.Connect(func(lines []string) {
		for _, l := range lines {
			select {
			case frames <- l:
			default:
			}
		}
	})
	require.NoError(t, err)
	require.NoError(t, e.Send(id, "f frame_stream_create {}"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	var got []string
	timeout := time.After(5 * time.Second)
	for len(got) < 3 {
		select {
		case l := <-frames:
			got = append(got, l)
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, "f ok ()", got[0])
	assert.Regexp(t, `^f ok frame \{ cycle: \d+, dtime: 0\.5 \}$`, got[1])
}

// ============================================================================
// Journal
// ============================================================================

func newJournal(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.WriteSession(context.Background(), store.Session{
		ID:           "s1",
		StartedAt:    time.UnixMilli(1700000000000),
		DocumentPath: "fixture.xml",
	}))
	return st
}

func TestEngine_JournalAndReplay(t *testing.T) {
	ctx := context.Background()
	st := newJournal(t)
	e := newTestEngine(t, WithJournal(st, "s1", 1))
	id, _ := connect(t, e)
	step(t, e)

	require.NoError(t, e.Send(id, "1 set_properties { entity: a, properties: { x: 3 } }"))
	require.NoError(t, e.Send(id, "2 remove_entity { entity: root:[name=nope] }"))
	step(t, e)
	require.NoError(t, e.Send(id, "3 append_entity { parent: b, type_name: 'Leaf', properties: { z: '@parent.y' } }"))
	step(t, e)

	reqs, err := st.ReadRequests(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, reqs, 3)
	assert.Equal(t, int64(1), reqs[0].Seq)
	assert.Equal(t, uint64(2), reqs[0].Cycle)
	assert.Equal(t, "1", reqs[0].Channel)
	assert.Equal(t, "set_properties { entity: a, properties: { x: 3 } }", reqs[0].Request)
	assert.Equal(t, store.OutcomeBadRequest, reqs[1].Outcome)
	assert.Equal(t, uint64(3), reqs[2].Cycle)
	assert.Equal(t, "3 ok 4", reqs[2].Reply)

	snaps, err := st.ReadSnapshots(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, snaps, 3, "baseline plus the two changed cycles")
	assert.Equal(t, uint64(0), snaps[0].Cycle)

	r, err := eval.NewStdRegistry()
	require.NoError(t, err)
	doc, result, err := Replay(ctx, st, "s1", r, -1)
	require.NoError(t, err)
	assert.True(t, result.OK(), "mismatches: %+v", result)
	assert.Equal(t, 3, result.Requests)
	assert.Equal(t, 2, result.Cycles)
	assert.Equal(t, []uint64{2, 3}, result.Verified)
	assert.Equal(t, int64(3), result.LastSeq)

	want, err := e.Document().XML()
	require.NoError(t, err)
	got, err := doc.XML()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEngine_JournalResumesClock(t *testing.T) {
	st := newJournal(t)
	e := newTestEngine(t, WithJournal(st, "s1", 0), WithClock(NewClockAt(10)))
	id, _ := connect(t, e)
	require.NoError(t, e.Send(id, "1 reserve_entity_ids { count: 1 }"))
	step(t, e)

	reqs, err := st.ReadRequests(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, int64(11), reqs[0].Seq)

	snaps, err := st.ReadSnapshots(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, snaps, 1, "only the baseline without periodic snapshots")
}

func TestReplay_MissingSnapshot(t *testing.T) {
	st := newJournal(t)
	r, err := eval.NewStdRegistry()
	require.NoError(t, err)
	_, _, err = Replay(context.Background(), st, "s1", r, -1)
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeReplay, re.Code)
}
