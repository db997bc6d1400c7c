package stream

import (
	"cmp"
	"log/slog"
	"regexp"
	"slices"

	"github.com/roach88/pondoc/internal/channel"
	"github.com/roach88/pondoc/internal/document"
	"github.com/roach88/pondoc/internal/pon"
)

// FrameStream reports the cycle number and frame time every cycle.
type FrameStream struct {
	client  channel.ClientID
	channel channel.ChannelID
}

// Frame renders one frame message.
func Frame(cycle uint64, dtime float64) pon.Value {
	return pon.Call{Name: "frame", Arg: pon.Object{
		"cycle": pon.Number(cycle),
		"dtime": pon.Number(dtime),
	}}
}

type key struct {
	client  channel.ClientID
	channel channel.ChannelID
}

func compareKeys(a, b key) int {
	if c := cmp.Compare(a.client, b.client); c != 0 {
		return c
	}
	return cmp.Compare(a.channel, b.channel)
}

// Registry holds the open streams of every client.
type Registry struct {
	docs   map[key]*DocStream
	frames map[key]*FrameStream
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		docs:   make(map[key]*DocStream),
		frames: make(map[key]*FrameStream),
	}
}

// Len returns the number of open streams.
func (r *Registry) Len() int {
	return len(r.docs) + len(r.frames)
}

// Open registers a doc stream and returns its initial message, if the
// selection is not empty. An existing stream on the same channel is
// replaced.
func (r *Registry) Open(doc *document.Document, s *DocStream) (channel.Outgoing, bool) {
	k := key{s.client, s.channel}
	delete(r.frames, k)
	r.docs[k] = s
	c := s.Init(doc)
	if c.Empty() {
		return channel.Outgoing{}, false
	}
	return channel.Outgoing{Client: s.client, Channel: s.channel, Value: c.ToPon()}, true
}

// OpenFrames registers a frame stream.
func (r *Registry) OpenFrames(client channel.ClientID, ch channel.ChannelID) {
	k := key{client, ch}
	delete(r.docs, k)
	r.frames[k] = &FrameStream{client: client, channel: ch}
}

// Close removes one stream. It reports whether the stream existed.
func (r *Registry) Close(client channel.ClientID, ch channel.ChannelID) bool {
	k := key{client, ch}
	_, doc := r.docs[k]
	_, frame := r.frames[k]
	delete(r.docs, k)
	delete(r.frames, k)
	return doc || frame
}

// RemoveClient drops every stream the client owns.
func (r *Registry) RemoveClient(client channel.ClientID) int {
	n := 0
	for k := range r.docs {
		if k.client == client {
			delete(r.docs, k)
			n++
		}
	}
	for k := range r.frames {
		if k.client == client {
			delete(r.frames, k)
			n++
		}
	}
	if n > 0 {
		slog.Debug("removed client streams", "client", client, "count", n)
	}
	return n
}

// OnCycle produces the messages of every stream for a closed cycle.
// Messages are ordered by client and channel; doc streams with nothing
// to report stay silent.
func (r *Registry) OnCycle(doc *document.Document, changes *document.CycleChanges, dtime float64) []channel.Outgoing {
	keys := make([]key, 0, r.Len())
	for k := range r.docs {
		keys = append(keys, k)
	}
	for k := range r.frames {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)

	var out []channel.Outgoing
	for _, k := range keys {
		if s, ok := r.docs[k]; ok {
			c := s.OnCycle(doc, changes)
			if !c.Empty() {
				out = append(out, channel.Outgoing{Client: k.client, Channel: k.channel, Value: c.ToPon()})
			}
			continue
		}
		out = append(out, channel.Outgoing{Client: k.client, Channel: k.channel, Value: Frame(changes.Cycle, dtime)})
	}
	return out
}

// Handler answers the stream requests. Doc stream selectors are
// evaluated from the document root.
func (r *Registry) Handler(doc *document.Document) channel.Handler {
	return func(in channel.Incoming) ([]channel.Outgoing, error) {
		switch req := in.Request.(type) {
		case channel.DocStreamCreate:
			root, ok := doc.Root()
			if !ok {
				return []channel.Outgoing{in.BadRequest("Document has no root")}, nil
			}
			var re *regexp.Regexp
			if req.PropertyRegex != "" {
				var err error
				if re, err = regexp.Compile(req.PropertyRegex); err != nil {
					return []channel.Outgoing{in.BadRequest("Bad property_regex %q: %v", req.PropertyRegex, err)}, nil
				}
			}
			ch := req.ChannelID
			if ch == "" {
				ch = in.Channel
			}
			var out []channel.Outgoing
			if msg, ok := r.Open(doc, NewDocStream(in.Client, ch, req.Selector, root, re)); ok {
				out = append(out, msg)
			}
			return append(out, in.OK(nil)), nil

		case channel.FrameStreamCreate:
			ch := req.ChannelID
			if ch == "" {
				ch = in.Channel
			}
			r.OpenFrames(in.Client, ch)
			return []channel.Outgoing{in.OK(nil)}, nil

		case channel.CloseStream:
			if !r.Close(in.Client, req.ChannelID) {
				return []channel.Outgoing{in.BadRequest("No such stream: %s", req.ChannelID)}, nil
			}
			return []channel.Outgoing{in.OK(nil)}, nil
		}
		return nil, channel.ErrUnhandled
	}
}
