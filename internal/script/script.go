// Package script compiles Lua chunks into cell and global processes.
//
// A script defines a global function named process. Cell scripts are called
// as process(cell, neighbours, global), global scripts as
// process(cells, global). Records are passed as tables keyed by field name;
// cells also carry lon and lat. The function returns a list of updates:
//
//	{ action = "add", field = "population", value = 3 }
//
// Cell updates target the calling cell unless target is set. A cell script
// entry with global = true becomes a global update.
package script

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/Shopify/go-lua"

	"cellsim/internal/model"
	"cellsim/internal/process"
)

const entryPoint = "process"

// ErrScript marks a script that failed while a process was running. It is
// raised as a panic because processes cannot return errors.
var ErrScript = errors.New("script failed")

// Tables gives scripts access to record fields.
type Tables[C, G any] struct {
	Cell   *model.FieldTable[C]
	Global *model.FieldTable[G]
}

type vm struct {
	name string

	mu    sync.Mutex
	state *lua.State
}

func compile(name, source string) (*vm, error) {
	state := lua.NewState()
	lua.OpenLibraries(state)
	if err := lua.LoadString(state, source); err != nil {
		return nil, fmt.Errorf("load lua %s: %w", name, err)
	}
	if err := state.ProtectedCall(0, 0, 0); err != nil {
		return nil, fmt.Errorf("run lua %s: %w", name, err)
	}
	state.Global(entryPoint)
	defer state.SetTop(0)
	if !state.IsFunction(-1) {
		return nil, fmt.Errorf("lua %s must define function %s", name, entryPoint)
	}
	return &vm{name: name, state: state}, nil
}

// CompileCellProcess builds a cell process from source. Calls are serialised
// on the script's interpreter.
func CompileCellProcess[C model.Cell[C], G any](id uint32, name, source string, tables Tables[C, G]) (process.CellProcess[C, G], error) {
	if tables.Cell == nil || tables.Global == nil {
		return process.CellProcess[C, G]{}, errors.New("cell and global field tables are required")
	}
	m, err := compile(name, source)
	if err != nil {
		return process.CellProcess[C, G]{}, err
	}
	fn := func(cell C, neighbours []C, global G) ([]model.CellUpdate, []model.GlobalUpdate[G]) {
		m.mu.Lock()
		defer m.mu.Unlock()

		l := m.state
		l.SetTop(0)
		defer l.SetTop(0)
		l.Global(entryPoint)
		pushCell(l, tables.Cell, cell)
		pushCells(l, tables.Cell, neighbours)
		pushRecord(l, tables.Global, global)
		m.call(3)

		var (
			cellUpdates   []model.CellUpdate
			globalUpdates []model.GlobalUpdate[G]
		)
		for i, e := range m.entries() {
			if e.global {
				globalUpdates = append(globalUpdates, globalUpdate(m.name, i, tables.Global, e))
				continue
			}
			target := cell.ID()
			if e.target != nil {
				target = model.CellIndex(*e.target)
			}
			cellUpdates = append(cellUpdates, model.NewCellUpdate(target, e.field, e.action, fieldValue(tables.Cell, e)))
		}
		return cellUpdates, globalUpdates
	}
	return process.CellProcess[C, G]{ID: id, Name: name, Func: fn}, nil
}

// CompileGlobalProcess builds a global process from source.
func CompileGlobalProcess[C model.Cell[C], G any](id uint32, name, source string, tables Tables[C, G]) (process.GlobalProcess[C, G], error) {
	if tables.Cell == nil || tables.Global == nil {
		return process.GlobalProcess[C, G]{}, errors.New("cell and global field tables are required")
	}
	m, err := compile(name, source)
	if err != nil {
		return process.GlobalProcess[C, G]{}, err
	}
	fn := func(cells []C, global G) []model.GlobalUpdate[G] {
		m.mu.Lock()
		defer m.mu.Unlock()

		l := m.state
		l.SetTop(0)
		defer l.SetTop(0)
		l.Global(entryPoint)
		pushCells(l, tables.Cell, cells)
		pushRecord(l, tables.Global, global)
		m.call(2)

		var updates []model.GlobalUpdate[G]
		for i, e := range m.entries() {
			updates = append(updates, globalUpdate(m.name, i, tables.Global, e))
		}
		return updates
	}
	return process.GlobalProcess[C, G]{ID: id, Name: name, Func: fn}, nil
}

func (m *vm) call(args int) {
	if err := m.state.ProtectedCall(args, 1, 0); err != nil {
		panic(fmt.Errorf("%w: %s: %v", ErrScript, m.name, err))
	}
}

func (m *vm) fail(format string, args ...any) {
	panic(fmt.Errorf("%w: %s: %s", ErrScript, m.name, fmt.Sprintf(format, args...)))
}

type entry struct {
	action model.Action
	field  string
	value  float64
	target *int
	global bool
}

// entries decodes the update list left on top of the stack.
func (m *vm) entries() []entry {
	l := m.state
	if l.IsNoneOrNil(-1) {
		return nil
	}
	if !l.IsTable(-1) {
		m.fail("%s must return a table of updates", entryPoint)
	}
	list := l.AbsIndex(-1)
	n := l.RawLength(list)
	out := make([]entry, 0, n)
	for i := 1; i <= n; i++ {
		l.RawGetInt(list, i)
		if !l.IsTable(-1) {
			m.fail("update %d is not a table", i)
		}
		item := l.AbsIndex(-1)
		var e entry

		l.Field(item, "action")
		raw, _ := l.ToString(-1)
		action, err := model.ParseAction(raw)
		if err != nil {
			m.fail("update %d: %v", i, err)
		}
		e.action = action
		l.Pop(1)

		l.Field(item, "field")
		e.field, _ = l.ToString(-1)
		if strings.TrimSpace(e.field) == "" {
			m.fail("update %d: field is required", i)
		}
		l.Pop(1)

		l.Field(item, "value")
		v, ok := l.ToNumber(-1)
		if !ok {
			m.fail("update %d: value must be a number", i)
		}
		e.value = v
		l.Pop(1)

		l.Field(item, "target")
		if !l.IsNil(-1) {
			t, ok := l.ToInteger(-1)
			if !ok || t < 0 {
				m.fail("update %d: target must be a cell index", i)
			}
			e.target = &t
		}
		l.Pop(1)

		l.Field(item, "global")
		e.global = l.ToBoolean(-1)
		l.Pop(1)

		l.Pop(1)
		out = append(out, e)
	}
	return out
}

func globalUpdate[G any](name string, i int, table *model.FieldTable[G], e entry) model.GlobalUpdate[G] {
	value := fieldValue(table, e)
	return model.NewGlobalUpdate(fmt.Sprintf("%s#%d", name, i+1), func(g G) G {
		next, _ := table.ApplyField(g, e.field, e.action, value)
		return next
	})
}

// fieldValue picks the payload variant: the field's own kind when known,
// otherwise Int for integral numbers.
func fieldValue[T any](table *model.FieldTable[T], e entry) model.Value {
	if f, ok := table.Lookup(e.field); ok && f.Kind == model.FieldFloat {
		return model.Float(e.value)
	}
	if math.Mod(e.value, 1) == 0 {
		return model.Int(int64(e.value))
	}
	return model.Float(e.value)
}

func pushRecord[T any](l *lua.State, table *model.FieldTable[T], rec T) {
	l.NewTable()
	for _, name := range table.Names() {
		v, ok := table.Get(rec, name)
		if !ok {
			continue
		}
		switch v.Kind() {
		case model.KindInt:
			l.PushInteger(int(v.Int64()))
		default:
			l.PushNumber(v.Float64())
		}
		l.SetField(-2, name)
	}
}

func pushCell[C model.Cell[C]](l *lua.State, table *model.FieldTable[C], cell C) {
	pushRecord(l, table, cell)
	pos := cell.Position()
	l.PushNumber(pos.Lon)
	l.SetField(-2, "lon")
	l.PushNumber(pos.Lat)
	l.SetField(-2, "lat")
	l.PushInteger(cell.ID().Int())
	l.SetField(-2, "index")
}

func pushCells[C model.Cell[C]](l *lua.State, table *model.FieldTable[C], cells []C) {
	l.CreateTable(len(cells), 0)
	for i, c := range cells {
		pushCell(l, table, c)
		l.RawSetInt(-2, i+1)
	}
}
