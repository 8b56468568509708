package model

import (
	"errors"
	"math"
	"testing"
)

func TestCoerceTruncatesFloatsTowardZero(t *testing.T) {
	cases := []struct {
		in    Value
		int32 int32
		u32   uint32
		f64   float64
	}{
		{in: Float(4.9), int32: 4, u32: 4, f64: 4.9},
		{in: Float(-0.9), int32: 0, u32: 0, f64: -0.9},
		{in: Int(7), int32: 7, u32: 7, f64: 7},
	}
	for _, tc := range cases {
		if got := tc.in.Int32(); got != tc.int32 {
			t.Fatalf("%s as int32: got=%d want=%d", tc.in, got, tc.int32)
		}
		if got := tc.in.Uint32(); got != tc.u32 {
			t.Fatalf("%s as uint32: got=%d want=%d", tc.in, got, tc.u32)
		}
		if got := tc.in.Float64(); got != tc.f64 {
			t.Fatalf("%s as float64: got=%v want=%v", tc.in, got, tc.f64)
		}
	}
	if got := Float(-2.7).Int32(); got != -2 {
		t.Fatalf("expected -2.7 to truncate to -2, got=%d", got)
	}
	if got := Int(1 << 31).Uint32(); got != 1<<31 {
		t.Fatalf("expected 2^31 to fit uint32, got=%d", got)
	}
}

func expectOutOfRange(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrValueOutOfRange) {
			t.Fatalf("%s: expected ErrValueOutOfRange panic, got=%v", name, r)
		}
	}()
	fn()
	t.Fatalf("%s: expected panic", name)
}

func TestCoerceOutOfRangePanics(t *testing.T) {
	expectOutOfRange(t, "set uint32 to -1", func() { ApplyAction[uint32](Set, 10, Int(-1)) })
	expectOutOfRange(t, "set uint32 to -2.7", func() { ApplyAction[uint32](Set, 10, Float(-2.7)) })
	expectOutOfRange(t, "set int32 to 2^40", func() { ApplyAction[int32](Set, 10, Int(1<<40)) })
	expectOutOfRange(t, "sub uint32 by -3", func() { ApplyAction[uint32](Sub, 10, Int(-3)) })
	expectOutOfRange(t, "int64 from 1e19", func() { Float(1e19).Int64() })
	expectOutOfRange(t, "int32 from NaN", func() { Float(math.NaN()).Int32() })
}

func TestCoerceVectorPanics(t *testing.T) {
	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrInvalidValueKind) {
			t.Fatalf("expected ErrInvalidValueKind panic, got=%v", r)
		}
	}()
	_ = Vector(Int(1)).Int64()
	t.Fatal("expected vector coercion to panic")
}

func TestValueString(t *testing.T) {
	if got := Float(1.5).String(); got != "1.5" {
		t.Fatalf("unexpected float string: %s", got)
	}
	if got := Int(-3).String(); got != "-3" {
		t.Fatalf("unexpected int string: %s", got)
	}
	if got := Vector(Int(2)).String(); got != "[2]" {
		t.Fatalf("unexpected vector string: %s", got)
	}
}

func TestApplyActionAddAllowsNegativeIntOnUnsigned(t *testing.T) {
	if got := ApplyAction[uint32](Add, 10, Int(-4)); got != 6 {
		t.Fatalf("expected 6, got=%d", got)
	}
	if got := ApplyAction[uint32](Add, 10, Float(2.9)); got != 12 {
		t.Fatalf("expected float payload to truncate to 12, got=%d", got)
	}
	if got := ApplyAction[float64](Add, 1.75, Float(0.5)); got != 1 {
		t.Fatalf("expected add on float field to widen through int64, got=%v", got)
	}
}

func TestApplyActionSubAndSet(t *testing.T) {
	if got := ApplyAction[int32](Sub, 10, Float(3.5)); got != 7 {
		t.Fatalf("expected 7, got=%d", got)
	}
	if got := ApplyAction[float64](Sub, 1.0, Float(0.25)); got != 0.75 {
		t.Fatalf("expected 0.75, got=%v", got)
	}
	if got := ApplyAction[uint32](Set, 99, Int(3)); got != 3 {
		t.Fatalf("expected set to discard old value, got=%d", got)
	}
}

func TestApplyActionAddSubInverse(t *testing.T) {
	payloads := []Value{Int(0), Int(5), Int(-5), Int(1000), Float(12.0)}
	for _, start := range []int32{-40, 0, 17, 5000} {
		for _, v := range payloads {
			got := ApplyAction(Sub, ApplyAction(Add, start, v), v)
			if got != start {
				t.Fatalf("add then sub of %s from %d: got=%d", v, start, got)
			}
		}
	}
	unsigned := []Value{Int(0), Int(5), Int(1000), Float(12.0)}
	for _, start := range []uint32{0, 12, 40} {
		for _, v := range unsigned {
			got := ApplyAction(Sub, ApplyAction(Add, start, v), v)
			if got != start {
				t.Fatalf("add then sub of %s from %d: got=%d", v, start, got)
			}
		}
	}
}

func TestParseAction(t *testing.T) {
	for raw, want := range map[string]Action{"add": Add, " SUB ": Sub, "set": Set, "=": Set} {
		got, err := ParseAction(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parse %q: got=%s want=%s", raw, got, want)
		}
	}
	if _, err := ParseAction("mul"); err == nil {
		t.Fatal("expected unknown action to fail")
	}
}
