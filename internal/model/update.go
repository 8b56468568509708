package model

import "fmt"

// CellUpdate is a queued mutation of one field of one cell.
type CellUpdate struct {
	Action Action
	Target CellIndex
	Field  string
	Value  Value
}

func NewCellUpdate(target CellIndex, field string, action Action, value Value) CellUpdate {
	return CellUpdate{Action: action, Target: target, Field: field, Value: value}
}

func (u CellUpdate) String() string {
	return fmt.Sprintf("%s %s.%s %s", u.Action, u.Target, u.Field, u.Value)
}

// GlobalUpdate is a queued transform of the global record. ID labels the
// update for tracing and tests only.
type GlobalUpdate[G any] struct {
	ID     string
	Action func(G) G
}

func NewGlobalUpdate[G any](id string, action func(G) G) GlobalUpdate[G] {
	return GlobalUpdate[G]{ID: id, Action: action}
}
