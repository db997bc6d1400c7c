package channel

import (
	"errors"
	"log/slog"

	"github.com/roach88/pondoc/internal/eval"
	"github.com/roach88/pondoc/internal/pon"
)

// ErrUnhandled is returned by a Handler for requests it does not know.
var ErrUnhandled = errors.New("unhandled request")

// Handler applies requests of the kinds it knows. It returns
// ErrUnhandled for the rest so the next handler gets a turn.
type Handler func(in Incoming) ([]Outgoing, error)

// Dispatcher routes each request through a fixed chain of handlers.
type Dispatcher struct {
	registry *eval.Registry
	handlers []Handler
}

// NewDispatcher creates a dispatcher decoding with registry.
func NewDispatcher(registry *eval.Registry, handlers ...Handler) *Dispatcher {
	return &Dispatcher{registry: registry, handlers: handlers}
}

// Use appends a handler to the chain.
func (d *Dispatcher) Use(h Handler) {
	d.handlers = append(d.handlers, h)
}

// Dispatch hands in to the first handler that accepts it. A handler
// failure becomes an internal_error reply.
func (d *Dispatcher) Dispatch(in Incoming) []Outgoing {
	for _, h := range d.handlers {
		out, err := h(in)
		if errors.Is(err, ErrUnhandled) {
			continue
		}
		if err != nil {
			slog.Warn("request failed",
				"client", in.Client,
				"channel", in.Channel,
				"request", in.Request.Name(),
				"error", err)
			return []Outgoing{in.InternalError("%v", err)}
		}
		return out
	}
	slog.Warn("unhandled request", "client", in.Client, "request", in.Request.Name())
	return []Outgoing{in.InternalError("unhandled request %s", in.Request.Name())}
}

// HandleLine decodes and dispatches one request line. Undecodable
// lines are answered with bad_request on whatever channel they named.
func (d *Dispatcher) HandleLine(client ClientID, line string) []Outgoing {
	in, err := DecodeLine(d.registry, client, line)
	if err != nil {
		slog.Debug("rejected request line", "client", client, "line", line, "error", err)
		var le *LineError
		if errors.As(err, &le) && le.Err != nil {
			err = le.Err
		}
		return []Outgoing{in.BadRequest("%v", err)}
	}
	return d.Dispatch(in)
}

// ============================================================================
// Document requests
// ============================================================================

// Document is what the document handler mutates.
type Document interface {
	Root() (pon.EntityID, bool)
	FindFirst(sel pon.Selector, from pon.EntityID) (pon.EntityID, error)
	SetProperty(id pon.EntityID, key string, expr pon.Value, volatile bool) error
	AppendEntityWithID(id, parent pon.EntityID, typeName, name string) (pon.EntityID, error)
	RemoveEntity(id pon.EntityID) error
	ClearChildren(id pon.EntityID) error
	ReserveEntityIDs(count int) (lo, hi pon.EntityID, err error)
}

// DocumentHandler applies the tree and property requests to doc.
// Selectors are evaluated from the root.
func DocumentHandler(doc Document) Handler {
	return func(in Incoming) ([]Outgoing, error) {
		switch req := in.Request.(type) {
		case SetProperties:
			id, fail := find(doc, in, req.Entity)
			if fail != nil {
				return fail, nil
			}
			setProperties(doc, in, id, req.Properties)
			return []Outgoing{in.OK(nil)}, nil

		case AppendEntity:
			parent, fail := find(doc, in, req.Parent)
			if fail != nil {
				return fail, nil
			}
			id, err := doc.AppendEntityWithID(req.EntityID, parent, req.TypeName, "")
			if err != nil {
				return []Outgoing{in.BadRequest("Failed to append entity: %v", err)}, nil
			}
			setProperties(doc, in, id, req.Properties)
			return []Outgoing{in.OK(pon.Number(id))}, nil

		case RemoveEntity:
			id, fail := find(doc, in, req.Entity)
			if fail != nil {
				return fail, nil
			}
			if err := doc.RemoveEntity(id); err != nil {
				return []Outgoing{in.BadRequest("Failed to remove entity %s: %v", pon.Stringify(req.Entity), err)}, nil
			}
			return []Outgoing{in.OK(nil)}, nil

		case ClearChildren:
			id, fail := find(doc, in, req.Entity)
			if fail != nil {
				return fail, nil
			}
			if err := doc.ClearChildren(id); err != nil {
				return []Outgoing{in.BadRequest("Failed to clear children of %s: %v", pon.Stringify(req.Entity), err)}, nil
			}
			return []Outgoing{in.OK(nil)}, nil

		case ReserveEntityIDs:
			lo, hi, err := doc.ReserveEntityIDs(req.Count)
			if err != nil {
				return []Outgoing{in.BadRequest("Failed to reserve entity ids: %v", err)}, nil
			}
			return []Outgoing{in.OK(pon.Array{pon.Number(lo), pon.Number(hi)})}, nil
		}
		return nil, ErrUnhandled
	}
}

func find(doc Document, in Incoming, sel pon.Selector) (pon.EntityID, []Outgoing) {
	root, ok := doc.Root()
	if !ok {
		return pon.NoEntity, []Outgoing{in.BadRequest("Document has no root")}
	}
	id, err := doc.FindFirst(sel, root)
	if err != nil {
		return pon.NoEntity, []Outgoing{in.BadRequest("No such entity: %s", pon.Stringify(sel))}
	}
	return id, nil
}

// setProperties applies each property in key order. A failing property
// is logged and skipped; the request still succeeds.
func setProperties(doc Document, in Incoming, id pon.EntityID, props map[string]pon.Value) {
	for _, key := range SortedKeys(props) {
		expr := props[key]
		if err := doc.SetProperty(id, key, expr, false); err != nil {
			slog.Warn("failed to set property",
				"client", in.Client,
				"entity", id,
				"key", key,
				"expression", pon.Stringify(expr),
				"error", err)
		}
	}
}
