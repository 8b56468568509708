package model

import (
	"fmt"
	"math"
	"strconv"

	"golang.org/x/exp/constraints"
)

// Number is the set of field types an update can target.
type Number interface {
	constraints.Integer | constraints.Float
}

type ValueKind uint8

const (
	KindFloat ValueKind = iota
	KindInt
	// KindVector is reserved. None of the numeric conversions accept it.
	KindVector
)

func (k ValueKind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindVector:
		return "vector"
	default:
		return "unknown"
	}
}

// Value carries an update payload without committing to the target field's
// native type.
type Value struct {
	kind ValueKind
	f    float64
	i    int64
	elem *Value
}

func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

func Int(v int64) Value { return Value{kind: KindInt, i: v} }

func Vector(elem Value) Value { return Value{kind: KindVector, elem: &elem} }

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) String() string {
	switch v.kind {
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindVector:
		if v.elem == nil {
			return "[]"
		}
		return "[" + v.elem.String() + "]"
	default:
		return "?"
	}
}

func (v Value) Int64() int64 { return Coerce[int64](v) }

func (v Value) Int32() int32 { return Coerce[int32](v) }

func (v Value) Uint32() uint32 { return Coerce[uint32](v) }

func (v Value) Float64() float64 { return Coerce[float64](v) }

// Coerce converts v to Z. Floats are truncated toward zero when Z is an
// integer type; integers are cast as-is. A payload that does not fit an
// integer Z panics with ErrValueOutOfRange instead of wrapping.
func Coerce[Z Number](v Value) Z {
	switch v.kind {
	case KindFloat:
		if isFloat[Z]() {
			return Z(v.f)
		}
		t := math.Trunc(v.f)
		if math.IsNaN(t) || t < -(1<<63) || t >= 1<<63 {
			panic(fmt.Errorf("%w: %s", ErrValueOutOfRange, v))
		}
		return narrow[Z](int64(t), v)
	case KindInt:
		if isFloat[Z]() {
			return Z(v.i)
		}
		return narrow[Z](v.i, v)
	default:
		panic(fmt.Errorf("%w: %s", ErrInvalidValueKind, v.kind))
	}
}

// narrow converts i to the integer type Z, panicking when the round trip
// loses the value.
func narrow[Z Number](i int64, v Value) Z {
	z := Z(i)
	if (i < 0 && isUnsigned[Z]()) || int64(z) != i {
		panic(fmt.Errorf("%w: %s", ErrValueOutOfRange, v))
	}
	return z
}

// isFloat reports whether Z is a floating point type: converting one half
// survives only there.
func isFloat[Z Number]() bool {
	half := 0.5
	return Z(half) != 0
}

// isUnsigned reports whether Z wraps below zero.
func isUnsigned[Z Number]() bool {
	var zero Z
	return zero-1 > zero
}
