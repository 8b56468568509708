package model

import (
	"fmt"
	"strings"
)

type Action uint8

const (
	Add Action = iota
	Sub
	Set
)

func (a Action) String() string {
	switch a {
	case Add:
		return "add"
	case Sub:
		return "sub"
	case Set:
		return "set"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

func ParseAction(raw string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "add", "+":
		return Add, nil
	case "sub", "-":
		return Sub, nil
	case "set", "=":
		return Set, nil
	default:
		return 0, fmt.Errorf("unknown action %q", raw)
	}
}

// ApplyAction computes the new value of a field currently holding old.
//
// Add widens both sides to int64 before narrowing back to Z, so a negative
// Int payload can decrease an unsigned field. The widening also truncates
// float fields to whole numbers.
func ApplyAction[Z Number](a Action, old Z, v Value) Z {
	switch a {
	case Add:
		return Z(int64(old) + v.Int64())
	case Sub:
		return old - Coerce[Z](v)
	case Set:
		return Coerce[Z](v)
	default:
		panic(fmt.Sprintf("unknown action %d", uint8(a)))
	}
}
