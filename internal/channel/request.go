package channel

import (
	"sort"

	"github.com/roach88/pondoc/internal/eval"
	"github.com/roach88/pondoc/internal/pon"
)

// Module is the documentation module of the request functions.
const Module = "Document"

// TagRequest is the native tag of decoded requests.
const TagRequest = "request"

// Request is a decoded client request. Every request formats back to
// the call that produced it.
type Request interface {
	// Name is the function name, e.g. "set_properties".
	Name() string

	// Arg is the call argument.
	Arg() pon.Value
}

// Call returns the call form of req.
func Call(req Request) pon.Call {
	return pon.Call{Name: req.Name(), Arg: req.Arg()}
}

// SetProperties stores expressions on an entity. The expressions are
// kept as written; dependencies resolve inside the document.
type SetProperties struct {
	Entity     pon.Selector
	Properties map[string]pon.Value
}

// AppendEntity appends an entity under Parent. EntityID is NoEntity
// unless the client reserved one.
type AppendEntity struct {
	EntityID   pon.EntityID
	Parent     pon.Selector
	TypeName   string
	Properties map[string]pon.Value
}

// RemoveEntity removes an entity and its subtree.
type RemoveEntity struct {
	Entity pon.Selector
}

// ClearChildren removes the children of an entity.
type ClearChildren struct {
	Entity pon.Selector
}

// ReserveEntityIDs sets aside Count ids.
type ReserveEntityIDs struct {
	Count int
}

// DocStreamCreate opens a document stream. ChannelID is empty when the
// stream should use the request's channel.
type DocStreamCreate struct {
	ChannelID     ChannelID
	Selector      pon.Selector
	PropertyRegex string
}

// FrameStreamCreate opens a stream that reports every cycle.
type FrameStreamCreate struct {
	ChannelID ChannelID
}

// CloseStream closes a stream the client owns.
type CloseStream struct {
	ChannelID ChannelID
}

func (SetProperties) Name() string     { return "set_properties" }
func (AppendEntity) Name() string      { return "append_entity" }
func (RemoveEntity) Name() string      { return "remove_entity" }
func (ClearChildren) Name() string     { return "clear_children" }
func (ReserveEntityIDs) Name() string  { return "reserve_entity_ids" }
func (DocStreamCreate) Name() string   { return "doc_stream_create" }
func (FrameStreamCreate) Name() string { return "frame_stream_create" }
func (CloseStream) Name() string       { return "close_stream" }

func (r SetProperties) Arg() pon.Value {
	return pon.Object{"entity": r.Entity, "properties": propertiesObject(r.Properties)}
}

func (r AppendEntity) Arg() pon.Value {
	obj := pon.Object{
		"parent":     r.Parent,
		"type_name":  pon.String(r.TypeName),
		"properties": propertiesObject(r.Properties),
	}
	if r.EntityID != pon.NoEntity {
		obj["entity_id"] = pon.Number(r.EntityID)
	}
	return obj
}

func (r RemoveEntity) Arg() pon.Value {
	return pon.Object{"entity": r.Entity}
}

func (r ClearChildren) Arg() pon.Value {
	return pon.Object{"entity": r.Entity}
}

func (r ReserveEntityIDs) Arg() pon.Value {
	return pon.Object{"count": pon.Number(r.Count)}
}

func (r DocStreamCreate) Arg() pon.Value {
	obj := pon.Object{"selector": r.Selector}
	if r.ChannelID != "" {
		obj["channel_id"] = pon.String(r.ChannelID)
	}
	if r.PropertyRegex != "" {
		obj["property_regex"] = pon.String(r.PropertyRegex)
	}
	return obj
}

func (r FrameStreamCreate) Arg() pon.Value {
	if r.ChannelID == "" {
		return pon.Object{}
	}
	return pon.Object{"channel_id": pon.String(r.ChannelID)}
}

func (r CloseStream) Arg() pon.Value {
	return pon.Object{"channel_id": pon.String(r.ChannelID)}
}

func propertiesObject(props map[string]pon.Value) pon.Object {
	obj := make(pon.Object, len(props))
	for k, v := range props {
		obj[k] = v
	}
	return obj
}

// SortedKeys returns the property keys of a request in the order they
// are applied.
func SortedKeys(props map[string]pon.Value) []string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ============================================================================
// Registration
// ============================================================================

var (
	selectorSchema = eval.ValueSchema{Type: pon.TypeSelector}
	stringSchema   = eval.ValueSchema{Type: pon.TypeString}
	numberSchema   = eval.ValueSchema{Type: pon.TypeNumber}
	rawSchema      = eval.RawSchema{}
)

// RegisterRequests adds the request native and the request functions
// to r.
func RegisterRequests(r *eval.Registry) error {
	if !r.Natives().Has(TagRequest) {
		err := r.Natives().Register(pon.NativeType{
			Tag: TagRequest,
			Format: func(data any) pon.Value {
				return Call(data.(Request))
			},
		})
		if err != nil {
			return err
		}
	}
	return r.RegisterAll(requestFunctions()...)
}

func request(name, doc string, arg eval.Schema, build func(eval.Args) (Request, error)) eval.Function {
	return eval.Function{
		Name:    name,
		Module:  Module,
		Doc:     doc,
		Returns: TagRequest,
		Arg:     arg,
		Call: func(ctx *eval.Context, a eval.Args) (pon.Value, error) {
			req, err := build(a)
			if err != nil {
				return nil, err
			}
			return ctx.Natives().Wrap(TagRequest, req)
		},
	}
}

func properties(a eval.Args, name string) (map[string]pon.Value, error) {
	v := a.Value(name)
	obj, ok := v.(pon.Object)
	if !ok {
		return nil, eval.Errorf("%s must be an object, got %s", name, pon.TypeName(v))
	}
	props := make(map[string]pon.Value, len(obj))
	for k, e := range obj {
		props[k] = e
	}
	return props, nil
}

func count(a eval.Args, name string) (int, error) {
	n := a.Number(name)
	if n < 0 || n != float64(int(n)) {
		return 0, eval.Errorf("%s must be a non-negative integer, got %s", name, pon.FormatNumber(n))
	}
	return int(n), nil
}

func selectorArg(a eval.Args, name string) pon.Selector {
	sel, _ := a.Selector(name)
	return sel
}

func requestFunctions() []eval.Function {
	return []eval.Function{
		request("set_properties",
			"Set properties of an entity. Expressions in properties are stored, not evaluated at request time",
			eval.MapSchema{Fields: []eval.Field{
				eval.Required("entity", selectorSchema),
				eval.Required("properties", rawSchema),
			}},
			func(a eval.Args) (Request, error) {
				props, err := properties(a, "properties")
				if err != nil {
					return nil, err
				}
				return SetProperties{Entity: selectorArg(a, "entity"), Properties: props}, nil
			}),
		request("append_entity",
			"Append an entity to a parent entity. Properties are stored as in set_properties",
			eval.MapSchema{Fields: []eval.Field{
				eval.Optional("entity_id", numberSchema),
				eval.Required("parent", selectorSchema),
				eval.Required("type_name", stringSchema),
				eval.Defaulted("properties", rawSchema, "{}"),
			}},
			func(a eval.Args) (Request, error) {
				props, err := properties(a, "properties")
				if err != nil {
					return nil, err
				}
				req := AppendEntity{Parent: selectorArg(a, "parent"), TypeName: a.String("type_name"), Properties: props}
				if a.Has("entity_id") {
					id, err := count(a, "entity_id")
					if err != nil {
						return nil, err
					}
					req.EntityID = pon.EntityID(id)
				}
				return req, nil
			}),
		request("remove_entity", "Remove an entity",
			eval.MapSchema{Fields: []eval.Field{eval.Required("entity", selectorSchema)}},
			func(a eval.Args) (Request, error) {
				return RemoveEntity{Entity: selectorArg(a, "entity")}, nil
			}),
		request("clear_children", "Clear children of an entity",
			eval.MapSchema{Fields: []eval.Field{eval.Required("entity", selectorSchema)}},
			func(a eval.Args) (Request, error) {
				return ClearChildren{Entity: selectorArg(a, "entity")}, nil
			}),
		request("reserve_entity_ids", "Reserve a number of entity ids for use in append_entity",
			eval.MapSchema{Fields: []eval.Field{eval.Required("count", numberSchema)}},
			func(a eval.Args) (Request, error) {
				n, err := count(a, "count")
				if err != nil {
					return nil, err
				}
				return ReserveEntityIDs{Count: n}, nil
			}),
		request("doc_stream_create",
			"Create a doc stream. Streams changes to the document, filtered by selector and optionally property_regex",
			eval.MapSchema{Fields: []eval.Field{
				eval.Optional("channel_id", stringSchema),
				eval.Required("selector", selectorSchema),
				eval.Optional("property_regex", stringSchema),
			}},
			func(a eval.Args) (Request, error) {
				return DocStreamCreate{
					ChannelID:     ChannelID(a.String("channel_id")),
					Selector:      selectorArg(a, "selector"),
					PropertyRegex: a.String("property_regex"),
				}, nil
			}),
		request("frame_stream_create", "Create a stream that reports the cycle number and frame time every cycle",
			eval.MapSchema{Fields: []eval.Field{eval.Optional("channel_id", stringSchema)}},
			func(a eval.Args) (Request, error) {
				return FrameStreamCreate{ChannelID: ChannelID(a.String("channel_id"))}, nil
			}),
		request("close_stream", "Close a stream",
			eval.MapSchema{Fields: []eval.Field{eval.Required("channel_id", stringSchema)}},
			func(a eval.Args) (Request, error) {
				return CloseStream{ChannelID: ChannelID(a.String("channel_id"))}, nil
			}),
	}
}
