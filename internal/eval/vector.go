package eval

import (
	"math"

	"github.com/roach88/pondoc/internal/pon"
)

// Native type tags for the vector and matrix values of the standard
// library.
const (
	TagVec2 = "vec2"
	TagVec3 = "vec3"
	TagVec4 = "vec4"
	TagMat4 = "mat4"
)

// Vec2 is a 2-component vector.
type Vec2 struct{ X, Y float64 }

// Vec3 is a 3-component vector.
type Vec3 struct{ X, Y, Z float64 }

// Vec4 is a 4-component vector. Colors are Vec4 in RGBA order.
type Vec4 struct{ X, Y, Z, W float64 }

// Mat4 is a 4x4 matrix stored column-major.
type Mat4 [16]float64

// Identity4 returns the identity matrix.
func Identity4() Mat4 {
	return Mat4{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

// Length returns the Euclidean length of v.
func (v Vec3) Length() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// Scale returns v * s.
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

// Mul returns m * o.
func (m Mat4) Mul(o Mat4) Mat4 {
	var out Mat4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += m[k*4+row] * o[col*4+k]
			}
			out[col*4+row] = sum
		}
	}
	return out
}

func numbersObject(names string, vals ...float64) pon.Object {
	obj := make(pon.Object, len(vals))
	for i, v := range vals {
		obj[names[i:i+1]] = pon.Number(v)
	}
	return obj
}

// RegisterVectorTypes registers the vector and matrix natives. Each
// formats back to the call that constructs it, so stringified values
// parse and evaluate to equal values.
func RegisterVectorTypes(n *pon.NativeRegistry) error {
	types := []pon.NativeType{
		{Tag: TagVec2, Format: func(d any) pon.Value {
			v := d.(Vec2)
			return pon.Call{Name: TagVec2, Arg: numbersObject("xy", v.X, v.Y)}
		}},
		{Tag: TagVec3, Format: func(d any) pon.Value {
			v := d.(Vec3)
			return pon.Call{Name: TagVec3, Arg: numbersObject("xyz", v.X, v.Y, v.Z)}
		}},
		{Tag: TagVec4, Format: func(d any) pon.Value {
			v := d.(Vec4)
			return pon.Call{Name: TagVec4, Arg: numbersObject("xyzw", v.X, v.Y, v.Z, v.W)}
		}},
		{Tag: TagMat4, Format: func(d any) pon.Value {
			m := d.(Mat4)
			arr := make(pon.Array, len(m))
			for i, f := range m {
				arr[i] = pon.Number(f)
			}
			return pon.Call{Name: TagMat4, Arg: arr}
		}},
	}
	for _, t := range types {
		if err := n.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func translation(v Vec3) Mat4 {
	m := Identity4()
	m[12], m[13], m[14] = v.X, v.Y, v.Z
	return m
}

func scaling(v Vec3) Mat4 {
	return Mat4{v.X, 0, 0, 0, 0, v.Y, 0, 0, 0, 0, v.Z, 0, 0, 0, 0, 1}
}

func rotationX(a float64) Mat4 {
	c, s := math.Cos(a), math.Sin(a)
	return Mat4{1, 0, 0, 0, 0, c, s, 0, 0, -s, c, 0, 0, 0, 0, 1}
}

func rotationY(a float64) Mat4 {
	c, s := math.Cos(a), math.Sin(a)
	return Mat4{c, 0, -s, 0, 0, 1, 0, 0, s, 0, c, 0, 0, 0, 0, 1}
}

func rotationZ(a float64) Mat4 {
	c, s := math.Cos(a), math.Sin(a)
	return Mat4{c, s, 0, 0, -s, c, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
}
