package eval

import (
	"fmt"
	"sort"

	"github.com/roach88/pondoc/internal/bus"
	"github.com/roach88/pondoc/internal/pon"
)

// Env is what translation reads through: resolved dependency
// references go to Get, plain references to Resolve.
type Env interface {
	Get(key pon.PropRef) (pon.Value, error)
	Resolve(ref pon.NamedPropRef) (pon.Value, error)
}

// CallFunc is a function body. Args are already bound against the
// function's schema.
type CallFunc func(ctx *Context, args Args) (pon.Value, error)

// Function is a registered, documented function.
type Function struct {
	// Name is what calls use, e.g. "vec3".
	Name string

	// Module groups functions in the documentation.
	Module string

	// Doc is a one-line description.
	Doc string

	// Returns names the result type for the documentation.
	Returns string

	// Arg is the argument schema.
	Arg Schema

	// Call is the body.
	Call CallFunc
}

// Registry holds the functions and native types known to a document.
// Build one at startup and hand it to the document; there is no global
// registry.
type Registry struct {
	functions map[string]*Function
	natives   *pon.NativeRegistry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		functions: make(map[string]*Function),
		natives:   pon.NewNativeRegistry(),
	}
}

// Register adds a function. Names must be unique and defaults in the
// schema must parse.
func (r *Registry) Register(fn Function) error {
	if fn.Name == "" {
		return fmt.Errorf("register function: empty name")
	}
	if fn.Call == nil {
		return fmt.Errorf("register function %q: no body", fn.Name)
	}
	if _, exists := r.functions[fn.Name]; exists {
		return fmt.Errorf("register function %q: already registered", fn.Name)
	}
	if fn.Arg == nil {
		fn.Arg = NilSchema{}
	}
	if err := checkSchema(fn.Arg); err != nil {
		return fmt.Errorf("register function %q: %w", fn.Name, err)
	}
	f := fn
	r.functions[fn.Name] = &f
	return nil
}

// RegisterAll registers each function in order, stopping at the first
// failure.
func (r *Registry) RegisterAll(fns ...Function) error {
	for _, fn := range fns {
		if err := r.Register(fn); err != nil {
			return err
		}
	}
	return nil
}

// Function looks up a function by name.
func (r *Registry) Function(name string) (*Function, bool) {
	f, ok := r.functions[name]
	return f, ok
}

// Names returns the registered function names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.functions))
	for n := range r.functions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Natives returns the native type registry.
func (r *Registry) Natives() *pon.NativeRegistry {
	return r.natives
}

// Translate evaluates v against env.
func (r *Registry) Translate(v pon.Value, env Env) (pon.Value, error) {
	return r.NewContext(env).Translate(v)
}

// NewContext creates a translation context over env.
func (r *Registry) NewContext(env Env) *Context {
	return &Context{registry: r, env: env}
}

// Context is handed to function bodies so they can translate nested
// values and resolve plain references.
type Context struct {
	registry *Registry
	env      Env
}

// Registry returns the registry the context translates with.
func (c *Context) Registry() *Registry {
	return c.registry
}

// Natives returns the native type registry.
func (c *Context) Natives() *pon.NativeRegistry {
	return c.registry.natives
}

// Translate evaluates v: calls are invoked, dependency references are
// read from the env, and arrays and objects are translated element by
// element. Everything else translates to itself.
func (c *Context) Translate(v pon.Value) (pon.Value, error) {
	switch v := v.(type) {
	case nil:
		return pon.Nil{}, nil
	case pon.Call:
		return c.call(v)
	case pon.DepReference:
		return c.dependency(v)
	case pon.Array:
		out := make(pon.Array, len(v))
		for i, e := range v {
			t, err := c.Translate(e)
			if err != nil {
				return nil, err
			}
			out[i] = t
		}
		return out, nil
	case pon.Object:
		out := make(pon.Object, len(v))
		for _, k := range v.SortedKeys() {
			t, err := c.Translate(v[k])
			if err != nil {
				return nil, err
			}
			out[k] = t
		}
		return out, nil
	default:
		return v, nil
	}
}

// Resolve reads the current value behind a plain reference.
func (c *Context) Resolve(ref pon.Reference) (pon.Value, error) {
	if c.env == nil {
		return nil, Errorf("cannot resolve %s without a document", pon.Stringify(ref))
	}
	return c.env.Resolve(ref.Ref)
}

func (c *Context) dependency(d pon.DepReference) (pon.Value, error) {
	if d.Resolved == nil {
		return nil, &Error{Code: ErrCodeUnresolvedDependency, Ref: d.Ref}
	}
	if c.env == nil {
		return nil, &Error{Code: ErrCodeBadDependency, Ref: d.Ref, Err: fmt.Errorf("no document")}
	}
	v, err := c.env.Get(*d.Resolved)
	if err != nil {
		if bus.IsNoSuchEntry(err) {
			return nil, &Error{Code: ErrCodeBadDependency, Ref: d.Ref, Err: err}
		}
		return nil, &Error{Code: ErrCodeBusError, Ref: d.Ref, Err: err}
	}
	return v, nil
}

func (c *Context) call(call pon.Call) (pon.Value, error) {
	fn, ok := c.registry.functions[call.Name]
	if !ok {
		return nil, &Error{Code: ErrCodeNoSuchFunction, Function: call.Name}
	}
	args := Args{}
	whole, err := c.bind(fn.Arg, call.Arg, &args)
	if err != nil {
		return nil, callFailed(call, err)
	}
	args.whole = whole
	out, err := fn.Call(c, args)
	if err != nil {
		return nil, callFailed(call, err)
	}
	if out == nil {
		return pon.Nil{}, nil
	}
	return out, nil
}
