package eval

import (
	"fmt"

	"github.com/roach88/pondoc/internal/pon"
)

// Schema describes the argument a function accepts. Binding a call's
// argument against its schema translates the argument and collects
// named captures into Args.
type Schema interface {
	schema() // Sealed

	// Doc describes the schema for the generated documentation.
	Doc() SchemaDoc
}

// AnyType accepts a value of any type in ValueSchema, ArraySchema and
// ObjectSchema.
const AnyType = ""

// NilSchema takes no argument. Calls pass "()".
type NilSchema struct{}

// ValueSchema accepts a single value of Type.
type ValueSchema struct {
	Type string
}

// ArraySchema accepts an array whose elements have type Elem.
type ArraySchema struct {
	Elem string
}

// ObjectSchema accepts an object with arbitrary keys whose values have
// type Elem.
type ObjectSchema struct {
	Elem string
}

// Field is one named entry of a MapSchema. Default is expression text
// used when the field is absent; Optional fields may simply be absent.
type Field struct {
	Name     string
	Optional bool
	Default  string
	Schema   Schema
}

// MapSchema accepts an object with the given fields. Each field is bound
// by name into Args.
type MapSchema struct {
	Fields []Field
}

// EnumOption maps an accepted string to the value it binds.
type EnumOption struct {
	Name  string
	Value pon.Value
}

// EnumSchema accepts one of a fixed set of strings.
type EnumSchema struct {
	Options []EnumOption
}

// CaptureSchema binds the value matched by Schema under Name.
type CaptureSchema struct {
	Name   string
	Schema Schema
}

// RawSchema accepts any value without translating it. Requests use it to
// carry expressions that are stored rather than evaluated.
type RawSchema struct{}

func (NilSchema) schema()     {}
func (ValueSchema) schema()   {}
func (ArraySchema) schema()   {}
func (ObjectSchema) schema()  {}
func (MapSchema) schema()     {}
func (EnumSchema) schema()    {}
func (CaptureSchema) schema() {}
func (RawSchema) schema()     {}

// Capture is shorthand for CaptureSchema{Name, Schema}.
func Capture(name string, s Schema) CaptureSchema {
	return CaptureSchema{Name: name, Schema: s}
}

// Required is a required map field.
func Required(name string, s Schema) Field {
	return Field{Name: name, Schema: s}
}

// Optional is a map field that may be absent.
func Optional(name string, s Schema) Field {
	return Field{Name: name, Optional: true, Schema: s}
}

// Defaulted is a map field with a default expression.
func Defaulted(name string, s Schema, def string) Field {
	return Field{Name: name, Default: def, Schema: s}
}

// checkSchema verifies that every default in s parses.
func checkSchema(s Schema) error {
	switch s := s.(type) {
	case nil:
		return fmt.Errorf("nil schema")
	case MapSchema:
		seen := map[string]bool{}
		for _, f := range s.Fields {
			if seen[f.Name] {
				return fmt.Errorf("duplicate field %q", f.Name)
			}
			seen[f.Name] = true
			if f.Default != "" {
				if _, err := pon.Parse(f.Default); err != nil {
					return fmt.Errorf("field %q: bad default: %w", f.Name, err)
				}
			}
			if err := checkSchema(f.Schema); err != nil {
				return fmt.Errorf("field %q: %w", f.Name, err)
			}
		}
	case CaptureSchema:
		return checkSchema(s.Schema)
	case EnumSchema:
		if len(s.Options) == 0 {
			return fmt.Errorf("enum without options")
		}
	}
	return nil
}

// bind matches arg against s, translating as the schema requires, and
// records captures in args. It returns the bound value.
func (c *Context) bind(s Schema, arg pon.Value, args *Args) (pon.Value, error) {
	switch s := s.(type) {
	case NilSchema:
		return pon.Nil{}, nil

	case RawSchema:
		return arg, nil

	case CaptureSchema:
		v, err := c.bind(s.Schema, arg, args)
		if err != nil {
			return nil, err
		}
		args.set(s.Name, v)
		return v, nil

	case ValueSchema:
		v, err := c.Translate(arg)
		if err != nil {
			return nil, err
		}
		if !typeMatches(s.Type, v) {
			return nil, unexpectedType(s.Type, arg)
		}
		return v, nil

	case ArraySchema:
		v, err := c.Translate(arg)
		if err != nil {
			return nil, err
		}
		arr, ok := v.(pon.Array)
		if !ok {
			return nil, unexpectedType("["+typeOrAny(s.Elem)+"]", arg)
		}
		for _, e := range arr {
			if !typeMatches(s.Elem, e) {
				return nil, unexpectedType(typeOrAny(s.Elem), e)
			}
		}
		return arr, nil

	case ObjectSchema:
		v, err := c.Translate(arg)
		if err != nil {
			return nil, err
		}
		obj, ok := v.(pon.Object)
		if !ok {
			return nil, unexpectedType("{"+typeOrAny(s.Elem)+"}", arg)
		}
		for _, k := range obj.SortedKeys() {
			if !typeMatches(s.Elem, obj[k]) {
				return nil, unexpectedType(typeOrAny(s.Elem), obj[k])
			}
		}
		return obj, nil

	case MapSchema:
		return c.bindMap(s, arg, args)

	case EnumSchema:
		v, err := c.Translate(arg)
		if err != nil {
			return nil, err
		}
		str, ok := v.(pon.String)
		if !ok {
			return nil, unexpectedType(pon.TypeString, arg)
		}
		names := make([]string, len(s.Options))
		for i, o := range s.Options {
			if o.Name == string(str) {
				return pon.Clone(o.Value), nil
			}
			names[i] = o.Name
		}
		return nil, &Error{Code: ErrCodeInvalidEnumValue, Options: names, Found: string(str)}
	}
	return nil, Errorf("unsupported schema %T", s)
}

// bindMap binds the fields of a map schema. Literal objects keep their
// fields untranslated until each field's own schema asks for it.
func (c *Context) bindMap(s MapSchema, arg pon.Value, args *Args) (pon.Value, error) {
	obj, ok := arg.(pon.Object)
	if !ok {
		v, err := c.Translate(arg)
		if err != nil {
			return nil, err
		}
		if obj, ok = v.(pon.Object); !ok {
			return nil, unexpectedType(pon.TypeObject, arg)
		}
	}

	bound := make(pon.Object, len(s.Fields))
	for _, f := range s.Fields {
		raw, present := obj[f.Name]
		if !present {
			switch {
			case f.Default != "":
				def, err := pon.Parse(f.Default)
				if err != nil {
					return nil, Errorf("bad default for %q: %v", f.Name, err)
				}
				raw = def
			case f.Optional:
				continue
			default:
				return nil, &Error{Code: ErrCodeRequiredFieldMissing, Field: f.Name}
			}
		}
		v, err := c.bind(f.Schema, raw, args)
		if err != nil {
			return nil, err
		}
		args.set(f.Name, v)
		bound[f.Name] = v
	}
	return bound, nil
}

func typeMatches(want string, v pon.Value) bool {
	return want == AnyType || pon.TypeName(v) == want
}

func typeOrAny(t string) string {
	if t == AnyType {
		return "any"
	}
	return t
}
