package model

import "fmt"

type FieldKind string

const (
	FieldInt   FieldKind = "int"
	FieldUint  FieldKind = "uint"
	FieldFloat FieldKind = "float"
)

// Field describes one named field of a record type T.
type Field[T any] struct {
	Name    string
	Kind    FieldKind
	Mutable bool

	get   func(T) Value
	apply func(T, Action, Value) T
}

// NumberField exposes the numeric field addressed by ref as a mutable field.
func NumberField[T any, Z Number](name string, ref func(*T) *Z) Field[T] {
	kind := FieldInt
	switch {
	case isFloat[Z]():
		kind = FieldFloat
	case isUnsigned[Z]():
		kind = FieldUint
	}
	return Field[T]{
		Name:    name,
		Kind:    kind,
		Mutable: true,
		get: func(rec T) Value {
			z := *ref(&rec)
			if kind == FieldFloat {
				return Float(float64(z))
			}
			return Int(int64(z))
		},
		apply: func(rec T, a Action, v Value) T {
			p := ref(&rec)
			*p = ApplyAction(a, *p, v)
			return rec
		},
	}
}

// ReadOnlyField exposes a value that updates must not target.
func ReadOnlyField[T any](name string, kind FieldKind, get func(T) Value) Field[T] {
	return Field[T]{Name: name, Kind: kind, get: get}
}

// FieldTable is the fixed set of addressable fields of a record type. It is
// shared by cell types and global records.
type FieldTable[T any] struct {
	fields map[string]Field[T]
	names  []string
}

func NewFieldTable[T any](fields ...Field[T]) *FieldTable[T] {
	t := &FieldTable[T]{fields: make(map[string]Field[T], len(fields))}
	for _, f := range fields {
		if f.Name == "" {
			panic("field name is required")
		}
		if _, exists := t.fields[f.Name]; exists {
			panic(fmt.Sprintf("field already registered: %s", f.Name))
		}
		t.fields[f.Name] = f
		t.names = append(t.names, f.Name)
	}
	return t
}

// Apply applies u to rec. Updates naming an unknown field are dropped and
// reported with ok=false.
func (t *FieldTable[T]) Apply(rec T, u CellUpdate) (T, bool) {
	return t.ApplyField(rec, u.Field, u.Action, u.Value)
}

func (t *FieldTable[T]) ApplyField(rec T, name string, a Action, v Value) (T, bool) {
	f, ok := t.fields[name]
	if !ok {
		return rec, false
	}
	if !f.Mutable {
		panic(fmt.Errorf("%w: %s", ErrImmutableField, name))
	}
	return f.apply(rec, a, v), true
}

func (t *FieldTable[T]) Get(rec T, name string) (Value, bool) {
	f, ok := t.fields[name]
	if !ok || f.get == nil {
		return Value{}, false
	}
	return f.get(rec), true
}

func (t *FieldTable[T]) Lookup(name string) (Field[T], bool) {
	f, ok := t.fields[name]
	return f, ok
}

// Names returns field names in registration order.
func (t *FieldTable[T]) Names() []string {
	return append([]string(nil), t.names...)
}
