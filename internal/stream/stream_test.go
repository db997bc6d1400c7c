package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pondoc/internal/channel"
	"github.com/roach88/pondoc/internal/document"
	"github.com/roach88/pondoc/internal/eval"
	"github.com/roach88/pondoc/internal/pon"
)

const fixture = `<Root>
  <Entity name="a">
    <Entity name="b" x="5">
      <Car name="c" />
    </Entity>
    <Entity name="d" />
  </Entity>
  <Entity name="e" x="5" />
</Root>`

type harness struct {
	t        *testing.T
	doc      *document.Document
	streams  *Registry
	dispatch *channel.Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	r, err := eval.NewStdRegistry()
	require.NoError(t, err)
	require.NoError(t, channel.RegisterRequests(r))
	d := document.MustLoadString(r, fixture)
	d.CloseCycle()
	streams := NewRegistry()
	return &harness{
		t:        t,
		doc:      d,
		streams:  streams,
		dispatch: channel.NewDispatcher(r, channel.DocumentHandler(d), streams.Handler(d)),
	}
}

func (h *harness) send(client channel.ClientID, line string) []channel.Outgoing {
	h.t.Helper()
	return h.dispatch.HandleLine(client, line)
}

func (h *harness) cycle() []channel.Outgoing {
	h.t.Helper()
	cc := h.doc.CloseCycle()
	return h.streams.OnCycle(h.doc, &cc, 0.5)
}

func (h *harness) id(name string) pon.EntityID {
	h.t.Helper()
	id, err := h.doc.EntityByName(name)
	require.NoError(h.t, err)
	return id
}

func cycleOf(t *testing.T, out channel.Outgoing) pon.Object {
	t.Helper()
	require.Nil(t, out.Err)
	call, ok := out.Value.(pon.Call)
	require.True(t, ok, "got %s", pon.Stringify(out.Value))
	require.Equal(t, "doc_stream_cycle", call.Name)
	return call.Arg.(pon.Object)
}

// ============================================================================
// Cycle rendering
// ============================================================================

func TestCycle_ToPon(t *testing.T) {
	c := Cycle{
		EntitiesAdded: []AddedEntity{{EntityID: 5, ParentID: 4, TypeName: "Test"}},
		UpdatedProperties: []PropertyValue{
			{EntityID: 5, Key: "z", Expression: pon.Number(2), Value: "2"},
		},
	}
	assert.Equal(t,
		"doc_stream_cycle { entities_added: [{ entity_id: 5, parent_id: 4, type_name: 'Test' }], "+
			"entities_removed: [], "+
			"updated_properties: [{ entity_id: 5, property_expression: 2, property_key: 'z', property_value: '2' }] }",
		pon.Stringify(c.ToPon()))
}

func TestCycle_ToPonErrorAndRoot(t *testing.T) {
	c := Cycle{
		EntitiesAdded:     []AddedEntity{{EntityID: 1, TypeName: "Root"}},
		EntitiesRemoved:   []pon.EntityID{3},
		UpdatedProperties: []PropertyValue{{EntityID: 1, Key: "y", Failed: true, Error: "boom"}},
	}
	assert.Equal(t,
		"doc_stream_cycle { entities_added: [{ entity_id: 1, type_name: 'Root' }], "+
			"entities_removed: [3], "+
			"updated_properties: [{ entity_id: 1, property_error: 'boom', property_key: 'y' }] }",
		pon.Stringify(c.ToPon()))
}

func TestCycle_Empty(t *testing.T) {
	assert.True(t, Cycle{}.Empty())
	assert.False(t, Cycle{EntitiesRemoved: []pon.EntityID{1}}.Empty())
}

// ============================================================================
// Doc streams
// ============================================================================

func TestDocStream_Scenario(t *testing.T) {
	h := newHarness(t)

	out := h.send("c1", "1 doc_stream_create { selector: root:[z=2], property_regex: '^z$' }")
	require.Len(t, out, 1, "empty selection sends only the reply")
	assert.Equal(t, "1 ok ()", out[0].Line())
	assert.Empty(t, h.cycle())

	out = h.send("c1", "2 append_entity { parent: root:[name=c], type_name: 'Test', properties: { z: 2, w: 1 } }")
	require.Len(t, out, 1)
	n := pon.EntityID(out[0].Value.(pon.Number))

	msgs := h.cycle()
	require.Len(t, msgs, 1)
	assert.Equal(t, channel.ChannelID("1"), msgs[0].Channel)
	obj := cycleOf(t, msgs[0])
	assert.Equal(t, pon.Array{pon.Object{
		"entity_id": pon.Number(n),
		"parent_id": pon.Number(h.id("c")),
		"type_name": pon.String("Test"),
	}}, obj["entities_added"])
	assert.Equal(t, pon.Array{pon.Object{
		"entity_id":           pon.Number(n),
		"property_key":        pon.String("z"),
		"property_expression": pon.Number(2),
		"property_value":      pon.String("2"),
	}}, obj["updated_properties"])

	assert.Empty(t, h.cycle(), "quiet cycle")

	h.send("c1", "3 set_properties { entity: #"+pon.FormatNumber(float64(n))+", properties: { w: 5, z: 2 } }")
	assert.Empty(t, h.cycle(), "unmatched key and idempotent set")

	h.send("c1", "4 set_properties { entity: #"+pon.FormatNumber(float64(n))+", properties: { z: 3 } }")
	msgs = h.cycle()
	require.Len(t, msgs, 1)
	obj = cycleOf(t, msgs[0])
	assert.Equal(t, pon.Array{pon.Number(n)}, obj["entities_removed"])
	assert.Equal(t, pon.Array{}, obj["updated_properties"])
}

func TestDocStream_InitReportsMatches(t *testing.T) {
	h := newHarness(t)

	out := h.send("c1", "1 doc_stream_create { channel_id: 's', selector: root:[x=5], property_regex: 'x' }")
	require.Len(t, out, 2)
	assert.Equal(t, channel.ChannelID("s"), out[0].Channel)
	assert.Equal(t, "1 ok ()", out[1].Line())

	obj := cycleOf(t, out[0])
	added := obj["entities_added"].(pon.Array)
	require.Len(t, added, 2)
	assert.Equal(t, pon.Number(h.id("b")), added[0].(pon.Object)["entity_id"])
	assert.Equal(t, pon.Number(h.id("e")), added[1].(pon.Object)["entity_id"])
	props := obj["updated_properties"].(pon.Array)
	require.Len(t, props, 2)
	assert.Equal(t, pon.String("5"), props[0].(pon.Object)["property_value"])
}

func TestDocStream_DependentPropertyIsReported(t *testing.T) {
	h := newHarness(t)
	b := h.id("b")
	require.NoError(t, h.doc.SetProperty(b, "y", pon.MustParse("@root:[name=e].x"), false))
	h.doc.CloseCycle()

	h.send("c1", "1 doc_stream_create { selector: root:[name=b], property_regex: '^y$' }")
	h.send("c1", "2 set_properties { entity: root:[name=e], properties: { x: 8 } }")

	msgs := h.cycle()
	require.Len(t, msgs, 1)
	props := cycleOf(t, msgs[0])["updated_properties"].(pon.Array)
	require.Len(t, props, 1)
	assert.Equal(t, pon.String("y"), props[0].(pon.Object)["property_key"])
	assert.Equal(t, pon.String("8"), props[0].(pon.Object)["property_value"])
}

func TestDocStream_NoRegexStreamsMembershipOnly(t *testing.T) {
	h := newHarness(t)
	h.send("c1", "1 doc_stream_create { selector: root:Car }")

	h.send("c1", "2 set_properties { entity: root:[name=c], properties: { speed: 3 } }")
	assert.Empty(t, h.cycle())

	car := h.id("c")
	h.send("c1", "3 remove_entity { entity: root:[name=b] }")
	msgs := h.cycle()
	require.Len(t, msgs, 1)
	assert.Equal(t, pon.Array{pon.Number(car)}, cycleOf(t, msgs[0])["entities_removed"])
}

func TestDocStream_BadRegex(t *testing.T) {
	h := newHarness(t)
	out := h.send("c1", "1 doc_stream_create { selector: root, property_regex: '(' }")
	require.Len(t, out, 1)
	require.NotNil(t, out[0].Err)
	assert.Equal(t, channel.BadRequest, out[0].Err.Type)
	assert.Zero(t, h.streams.Len())
}

// ============================================================================
// Registry
// ============================================================================

func TestRegistry_FrameStream(t *testing.T) {
	h := newHarness(t)
	out := h.send("c1", "9 frame_stream_create {}")
	assert.Equal(t, "9 ok ()", out[0].Line())

	msgs := h.cycle()
	require.Len(t, msgs, 1)
	call := msgs[0].Value.(pon.Call)
	assert.Equal(t, "frame", call.Name)
	assert.Equal(t, pon.Number(0.5), call.Arg.(pon.Object)["dtime"])
}

func TestRegistry_CloseStream(t *testing.T) {
	h := newHarness(t)
	h.send("c1", "1 frame_stream_create { channel_id: 'f' }")
	require.Equal(t, 1, h.streams.Len())

	out := h.send("c1", "2 close_stream { channel_id: 'f' }")
	assert.Equal(t, "2 ok ()", out[0].Line())
	assert.Zero(t, h.streams.Len())
	assert.Empty(t, h.cycle())

	out = h.send("c1", "3 close_stream { channel_id: 'f' }")
	assert.Equal(t, channel.BadRequest, out[0].Err.Type)
}

func TestRegistry_StreamsAreOwnedByClient(t *testing.T) {
	h := newHarness(t)
	h.send("c1", "1 frame_stream_create {}")
	h.send("c2", "1 frame_stream_create {}")
	h.send("c2", "2 doc_stream_create { selector: root:* }")
	require.Equal(t, 3, h.streams.Len())

	out := h.send("c1", "3 close_stream { channel_id: '2' }")
	assert.Equal(t, channel.BadRequest, out[0].Err.Type, "c1 cannot close c2's stream")

	msgs := h.cycle()
	require.Len(t, msgs, 2)
	assert.Equal(t, channel.ClientID("c1"), msgs[0].Client)
	assert.Equal(t, channel.ClientID("c2"), msgs[1].Client)

	assert.Equal(t, 2, h.streams.RemoveClient("c2"))
	assert.Equal(t, 1, h.streams.Len())
}
