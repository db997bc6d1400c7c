package eval

import (
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/roach88/pondoc/internal/pon"
)

// StdModule is the documentation module of the standard library.
const StdModule = "Standard Library"

var (
	numberSchema = ValueSchema{Type: pon.TypeNumber}
	stringSchema = ValueSchema{Type: pon.TypeString}
	boolSchema   = ValueSchema{Type: pon.TypeBool}
	vec3Schema   = ValueSchema{Type: TagVec3}
)

// NewStdRegistry creates a registry holding the standard library.
func NewStdRegistry() (*Registry, error) {
	r := NewRegistry()
	if err := RegisterStd(r); err != nil {
		return nil, err
	}
	return r, nil
}

// RegisterStd adds the vector natives and the standard library
// functions to r.
func RegisterStd(r *Registry) error {
	if err := RegisterVectorTypes(r.Natives()); err != nil {
		return err
	}
	return r.RegisterAll(stdFunctions()...)
}

func std(name, doc, returns string, arg Schema, call CallFunc) Function {
	return Function{Name: name, Module: StdModule, Doc: doc, Returns: returns, Arg: arg, Call: call}
}

func wrap(ctx *Context, tag string, data any) (pon.Value, error) {
	return ctx.Natives().Wrap(tag, data)
}

func exactly(name string, vals []float64, n int) error {
	if len(vals) != n {
		return Errorf("%s takes %d numbers, got %d", name, n, len(vals))
	}
	return nil
}

func vec3Args(args Args, name string) []Vec3 {
	var out []Vec3
	for _, v := range args.Array(name) {
		if vec, ok := pon.NativeAs[Vec3](v); ok {
			out = append(out, vec)
		}
	}
	return out
}

func stdFunctions() []Function {
	return []Function{
		// Numbers.
		std("random_float", "Generate random float", pon.TypeNumber, NilSchema{},
			func(*Context, Args) (pon.Value, error) {
				return pon.Number(rand.Float64()), nil
			}),
		std("add", "Add a list of numbers", pon.TypeNumber, Capture("vals", ArraySchema{Elem: pon.TypeNumber}),
			func(_ *Context, a Args) (pon.Value, error) {
				sum := 0.0
				for _, v := range a.Numbers("vals") {
					sum += v
				}
				return pon.Number(sum), nil
			}),
		std("mul", "Multiply a list of numbers", pon.TypeNumber, Capture("vals", ArraySchema{Elem: pon.TypeNumber}),
			func(_ *Context, a Args) (pon.Value, error) {
				prod := 1.0
				for _, v := range a.Numbers("vals") {
					prod *= v
				}
				return pon.Number(prod), nil
			}),
		std("div", "Divide two numbers", pon.TypeNumber, Capture("vals", ArraySchema{Elem: pon.TypeNumber}),
			func(_ *Context, a Args) (pon.Value, error) {
				vals := a.Numbers("vals")
				if err := exactly("div", vals, 2); err != nil {
					return nil, err
				}
				if vals[1] == 0 {
					return nil, Errorf("division by zero")
				}
				return pon.Number(vals[0] / vals[1]), nil
			}),
		std("neg", "Negate a number", pon.TypeNumber, Capture("val", numberSchema),
			func(_ *Context, a Args) (pon.Value, error) {
				return pon.Number(-a.Number("val")), nil
			}),
		std("abs", "Absolute value of a number", pon.TypeNumber, Capture("val", numberSchema),
			func(_ *Context, a Args) (pon.Value, error) {
				return pon.Number(math.Abs(a.Number("val"))), nil
			}),
		std("pi", "Pi.", pon.TypeNumber, NilSchema{},
			func(*Context, Args) (pon.Value, error) {
				return pon.Number(math.Pi), nil
			}),
		std("min", "Minimum value of a list of numbers", pon.TypeNumber, Capture("vals", ArraySchema{Elem: pon.TypeNumber}),
			func(_ *Context, a Args) (pon.Value, error) {
				vals := a.Numbers("vals")
				if len(vals) == 0 {
					return nil, Errorf("min of an empty list")
				}
				m := vals[0]
				for _, v := range vals[1:] {
					m = math.Min(m, v)
				}
				return pon.Number(m), nil
			}),
		std("max", "Maximum value of a list of numbers", pon.TypeNumber, Capture("vals", ArraySchema{Elem: pon.TypeNumber}),
			func(_ *Context, a Args) (pon.Value, error) {
				vals := a.Numbers("vals")
				if len(vals) == 0 {
					return nil, Errorf("max of an empty list")
				}
				m := vals[0]
				for _, v := range vals[1:] {
					m = math.Max(m, v)
				}
				return pon.Number(m), nil
			}),
		std("switch_number", "Return either a or b depending on test", pon.TypeNumber,
			MapSchema{Fields: []Field{
				Required("test", boolSchema),
				Required("a", numberSchema),
				Required("b", numberSchema),
			}},
			func(_ *Context, a Args) (pon.Value, error) {
				if a.Bool("test") {
					return pon.Number(a.Number("a")), nil
				}
				return pon.Number(a.Number("b")), nil
			}),

		// Booleans.
		std("not", "Not boolean operator", pon.TypeBool, Capture("v", boolSchema),
			func(_ *Context, a Args) (pon.Value, error) {
				return pon.Bool(!a.Bool("v")), nil
			}),
		std("and", "And boolean operator", pon.TypeBool, Capture("vals", ArraySchema{Elem: pon.TypeBool}),
			func(_ *Context, a Args) (pon.Value, error) {
				for _, v := range a.Array("vals") {
					if !bool(v.(pon.Bool)) {
						return pon.Bool(false), nil
					}
				}
				return pon.Bool(true), nil
			}),
		std("or", "Or boolean operator", pon.TypeBool, Capture("vals", ArraySchema{Elem: pon.TypeBool}),
			func(_ *Context, a Args) (pon.Value, error) {
				for _, v := range a.Array("vals") {
					if bool(v.(pon.Bool)) {
						return pon.Bool(true), nil
					}
				}
				return pon.Bool(false), nil
			}),

		// Strings.
		std("num_to_string", "Convert a number to a string", pon.TypeString, Capture("val", numberSchema),
			func(_ *Context, a Args) (pon.Value, error) {
				return pon.String(pon.FormatNumber(a.Number("val"))), nil
			}),
		std("string_concat", "Concatenate a list of strings", pon.TypeString, Capture("vals", ArraySchema{Elem: pon.TypeString}),
			func(_ *Context, a Args) (pon.Value, error) {
				return pon.String(strings.Join(a.Strings("vals"), "")), nil
			}),
		std("string_compare", "Compare two strings", pon.TypeBool, Capture("vals", ArraySchema{Elem: pon.TypeString}),
			func(_ *Context, a Args) (pon.Value, error) {
				vals := a.Strings("vals")
				if len(vals) != 2 {
					return nil, Errorf("string_compare takes 2 strings, got %d", len(vals))
				}
				return pon.Bool(vals[0] == vals[1]), nil
			}),

		// Colors and vectors.
		std("color", "Shorthand for creating a vector4", TagVec4,
			MapSchema{Fields: []Field{
				Defaulted("r", numberSchema, "0"),
				Defaulted("g", numberSchema, "0"),
				Defaulted("b", numberSchema, "0"),
				Defaulted("a", numberSchema, "1"),
			}},
			func(ctx *Context, a Args) (pon.Value, error) {
				return wrap(ctx, TagVec4, Vec4{a.Number("r"), a.Number("g"), a.Number("b"), a.Number("a")})
			}),
		std("color_from_hex", "Shorthand for creating a vector4 from a hex string", TagVec4, Capture("val", stringSchema),
			func(ctx *Context, a Args) (pon.Value, error) {
				c, ok := hexToColor(a.String("val"))
				if !ok {
					return nil, Errorf("Cannot parse color value: %s", a.String("val"))
				}
				return wrap(ctx, TagVec4, c)
			}),
		std("vec2", "Create a vec2", TagVec2,
			MapSchema{Fields: []Field{
				Defaulted("x", numberSchema, "0"),
				Defaulted("y", numberSchema, "0"),
			}},
			func(ctx *Context, a Args) (pon.Value, error) {
				return wrap(ctx, TagVec2, Vec2{a.Number("x"), a.Number("y")})
			}),
		std("vec3", "Create a vec3", TagVec3,
			MapSchema{Fields: []Field{
				Defaulted("x", numberSchema, "0"),
				Defaulted("y", numberSchema, "0"),
				Defaulted("z", numberSchema, "0"),
			}},
			func(ctx *Context, a Args) (pon.Value, error) {
				return wrap(ctx, TagVec3, Vec3{a.Number("x"), a.Number("y"), a.Number("z")})
			}),
		std("vec4", "Create a vec4", TagVec4,
			MapSchema{Fields: []Field{
				Defaulted("x", numberSchema, "0"),
				Defaulted("y", numberSchema, "0"),
				Defaulted("z", numberSchema, "0"),
				Defaulted("w", numberSchema, "0"),
			}},
			func(ctx *Context, a Args) (pon.Value, error) {
				return wrap(ctx, TagVec4, Vec4{a.Number("x"), a.Number("y"), a.Number("z"), a.Number("w")})
			}),
		std("spherical_vec3", "Create a vec3 from spherical coordinates", TagVec3,
			MapSchema{Fields: []Field{
				Defaulted("r", numberSchema, "0"),
				Defaulted("theta", numberSchema, "0"),
				Defaulted("phi", numberSchema, "0"),
			}},
			func(ctx *Context, a Args) (pon.Value, error) {
				r, theta, phi := a.Number("r"), a.Number("theta"), a.Number("phi")
				return wrap(ctx, TagVec3, Vec3{
					r * math.Sin(theta) * math.Cos(phi),
					r * math.Sin(theta) * math.Sin(phi),
					r * math.Cos(theta),
				})
			}),
		std("add3", "Add two vec3", TagVec3, Capture("vals", ArraySchema{Elem: TagVec3}),
			func(ctx *Context, a Args) (pon.Value, error) {
				vals := vec3Args(a, "vals")
				if len(vals) != 2 {
					return nil, Errorf("add3 takes 2 vectors, got %d", len(vals))
				}
				return wrap(ctx, TagVec3, vals[0].Add(vals[1]))
			}),
		std("sub3", "Subtract two vec3", TagVec3, Capture("vals", ArraySchema{Elem: TagVec3}),
			func(ctx *Context, a Args) (pon.Value, error) {
				vals := vec3Args(a, "vals")
				if len(vals) != 2 {
					return nil, Errorf("sub3 takes 2 vectors, got %d", len(vals))
				}
				return wrap(ctx, TagVec3, vals[0].Sub(vals[1]))
			}),
		std("normalize3", "Normalize a vec3", TagVec3, Capture("vec", vec3Schema),
			func(ctx *Context, a Args) (pon.Value, error) {
				v, _ := pon.NativeAs[Vec3](a.Value("vec"))
				l := v.Length()
				if l == 0 {
					return nil, Errorf("cannot normalize a zero vector")
				}
				return wrap(ctx, TagVec3, v.Scale(1/l))
			}),
		std("snap3", "Snap a vec3 to a set grid", TagVec3,
			MapSchema{Fields: []Field{
				Required("vec", vec3Schema),
				Required("snap", numberSchema),
			}},
			func(ctx *Context, a Args) (pon.Value, error) {
				v, _ := pon.NativeAs[Vec3](a.Value("vec"))
				s := a.Number("snap")
				if s == 0 {
					return nil, Errorf("snap must be non-zero")
				}
				return wrap(ctx, TagVec3, Vec3{
					math.Floor(v.X/s) * s,
					math.Floor(v.Y/s) * s,
					math.Floor(v.Z/s) * s,
				})
			}),

		// Matrices.
		std("mat4", "Create a matrix from 16 values, column-major", TagMat4, Capture("data", ArraySchema{Elem: pon.TypeNumber}),
			func(ctx *Context, a Args) (pon.Value, error) {
				vals := a.Numbers("data")
				if err := exactly("mat4", vals, 16); err != nil {
					return nil, err
				}
				var m Mat4
				copy(m[:], vals)
				return wrap(ctx, TagMat4, m)
			}),
		std("translate", "Generate a matrix from a translation", TagMat4, Capture("vec3", vec3Schema),
			func(ctx *Context, a Args) (pon.Value, error) {
				v, _ := pon.NativeAs[Vec3](a.Value("vec3"))
				return wrap(ctx, TagMat4, translation(v))
			}),
		std("scale", "Generate a matrix from a scaling vector", TagMat4, Capture("v", vec3Schema),
			func(ctx *Context, a Args) (pon.Value, error) {
				v, _ := pon.NativeAs[Vec3](a.Value("v"))
				return wrap(ctx, TagMat4, scaling(v))
			}),
		std("rotate_x", "Generate a matrix from a rotation around x.", TagMat4, Capture("v", numberSchema),
			func(ctx *Context, a Args) (pon.Value, error) {
				return wrap(ctx, TagMat4, rotationX(a.Number("v")))
			}),
		std("rotate_y", "Generate a matrix from a rotation around y.", TagMat4, Capture("v", numberSchema),
			func(ctx *Context, a Args) (pon.Value, error) {
				return wrap(ctx, TagMat4, rotationY(a.Number("v")))
			}),
		std("rotate_z", "Generate a matrix from a rotation around z.", TagMat4, Capture("v", numberSchema),
			func(ctx *Context, a Args) (pon.Value, error) {
				return wrap(ctx, TagMat4, rotationZ(a.Number("v")))
			}),
		std("mul_mat4", "Multiply a list of matrices", TagMat4, Capture("vals", ArraySchema{Elem: TagMat4}),
			func(ctx *Context, a Args) (pon.Value, error) {
				m := Identity4()
				for _, v := range a.Array("vals") {
					n, _ := pon.NativeAs[Mat4](v)
					m = m.Mul(n)
				}
				return wrap(ctx, TagMat4, m)
			}),
	}
}

// hexToColor parses "rrggbb" or "aarrggbb".
func hexToColor(s string) (Vec4, bool) {
	if len(s) != 6 && len(s) != 8 {
		return Vec4{}, false
	}
	vals := make([]float64, 0, 4)
	for i := 0; i+2 <= len(s); i += 2 {
		x, err := strconv.ParseUint(s[i:i+2], 16, 8)
		if err != nil {
			return Vec4{}, false
		}
		vals = append(vals, float64(x)/255)
	}
	if len(vals) == 3 {
		return Vec4{vals[0], vals[1], vals[2], 1}, true
	}
	return Vec4{vals[1], vals[2], vals[3], vals[0]}, true
}
