// Package exec runs compiled modules inside an embedded Lua 5.1 interpreter.
package exec

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/pgavlin/wasm2lua/wasm"
	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
)

// DefaultCallStackSize is the default depth of the Lua call stack.
const DefaultCallStackSize = 16384

// An ExportNotFoundError is returned when an instance does not export the requested name.
type ExportNotFoundError struct {
	ModuleName string
	FieldName  string
}

func (e *ExportNotFoundError) Error() string {
	return fmt.Sprintf("wasm: couldn't find export with name %s in module %s", e.FieldName, e.ModuleName)
}

// A KindMismatchError is returned when an export is requested as the wrong kind of entity.
type KindMismatchError struct {
	ModuleName string
	FieldName  string
	Want       wasm.External
	Got        wasm.External
}

func (e *KindMismatchError) Error() string {
	return fmt.Sprintf("wasm: mismatching export external kind for %s.%s (%v, %v)", e.ModuleName, e.FieldName, e.Want, e.Got)
}

// Options configure the interpreter that runs a module.
type Options struct {
	// CallStackSize is the depth of the Lua call stack. Defaults to DefaultCallStackSize.
	CallStackSize int
	// Logger receives debug output. Defaults to a logger that discards everything but panics.
	Logger logrus.FieldLogger
}

// An Extern describes an import or export of a compiled module.
type Extern struct {
	Module  string
	Name    string
	Kind    wasm.External
	Type    string
	Mutable bool
}

// Signature returns the signature of a function extern.
func (e Extern) Signature() (wasm.FunctionSig, error) {
	return wasm.ParseSignatureKey(e.Type)
}

// ValueType returns the type of a global or table extern.
func (e Extern) ValueType() (wasm.ValueType, error) {
	if len(e.Type) == 1 {
		if t, ok := wasm.ParseValueTypeKey(e.Type[0]); ok {
			return t, nil
		}
	}
	return 0, fmt.Errorf("invalid value type key %q", e.Type)
}

// A Module is a compiled module loaded into a Lua state.
type Module struct {
	Name    string
	Imports []Extern
	Exports []Extern

	l          *lua.LState
	log        logrus.FieldLogger
	descriptor *lua.LTable
}

// Load runs the given generated source in a fresh Lua state and returns the module it describes.
func Load(name, source string, options *Options) (*Module, error) {
	var opts Options
	if options != nil {
		opts = *options
	}
	if opts.CallStackSize == 0 {
		opts.CallStackSize = DefaultCallStackSize
	}
	if opts.Logger == nil {
		logger := logrus.New()
		logger.SetLevel(logrus.PanicLevel)
		opts.Logger = logger
	}

	l := lua.NewState(lua.Options{
		CallStackSize:       opts.CallStackSize,
		RegistrySize:        1024 * 20,
		RegistryMaxSize:     1024 * 1024 * 8,
		RegistryGrowStep:    1024,
		MinimizeStackMemory: true,
	})

	chunk, err := l.Load(strings.NewReader(source), name)
	if err != nil {
		l.Close()
		return nil, err
	}
	if err := l.CallByParam(lua.P{Fn: chunk, NRet: 1, Protect: true}); err != nil {
		l.Close()
		return nil, translateError(err)
	}
	descriptor, ok := l.Get(-1).(*lua.LTable)
	l.Pop(1)
	if !ok {
		l.Close()
		return nil, errors.New("source does not evaluate to a module descriptor")
	}

	m := &Module{l: l, log: opts.Logger.WithField("module", name), descriptor: descriptor}
	if n, ok := descriptor.RawGetString("name").(lua.LString); ok {
		m.Name = string(n)
	}
	if m.Imports, err = readExterns(descriptor.RawGetString("imports")); err != nil {
		l.Close()
		return nil, fmt.Errorf("imports: %w", err)
	}
	if m.Exports, err = readExterns(descriptor.RawGetString("exports")); err != nil {
		l.Close()
		return nil, fmt.Errorf("exports: %w", err)
	}
	return m, nil
}

func parseKind(s string) (wasm.External, error) {
	for _, k := range []wasm.External{wasm.ExternalFunction, wasm.ExternalTable, wasm.ExternalMemory, wasm.ExternalGlobal} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown extern kind %q", s)
}

func readExterns(v lua.LValue) ([]Extern, error) {
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return nil, errors.New("missing extern list")
	}

	externs := make([]Extern, 0, tbl.Len())
	for i := 1; i <= tbl.Len(); i++ {
		e, ok := tbl.RawGetInt(i).(*lua.LTable)
		if !ok {
			return nil, fmt.Errorf("extern %d is not a table", i)
		}
		kind, err := parseKind(lua.LVAsString(e.RawGetString("kind")))
		if err != nil {
			return nil, err
		}
		externs = append(externs, Extern{
			Module:  lua.LVAsString(e.RawGetString("module")),
			Name:    lua.LVAsString(e.RawGetString("name")),
			Kind:    kind,
			Type:    lua.LVAsString(e.RawGetString("type")),
			Mutable: lua.LVAsBool(e.RawGetString("mutable")),
		})
	}
	return externs, nil
}

// Close releases the module's Lua state. Instances of the module must not be used afterwards.
func (m *Module) Close() {
	m.l.Close()
}

// A HostFunction is a Go function that can be imported by a module.
type HostFunction struct {
	Type wasm.FunctionSig
	Func func(args []interface{}) ([]interface{}, error)
}

// Imports maps module and field names to imported entities. Entities are HostFunctions,
// *Globals, *Memories, *Tables, or raw Lua values.
type Imports map[string]map[string]interface{}

func (m *Module) hostFunction(name string, f HostFunction) *lua.LFunction {
	log := m.log.WithField("import", name)
	return m.l.NewFunction(func(l *lua.LState) int {
		defer func() {
			if x := recover(); x != nil {
				if err, ok := x.(runtime.Error); ok {
					if trap, ok := translateRuntimeError(err); ok {
						raise(l, trap)
					}
				}
				panic(x)
			}
		}()

		args := make([]interface{}, len(f.Type.ParamTypes))
		for i, t := range f.Type.ParamTypes {
			v, err := fromLua(t, l.Get(i+1))
			if err != nil {
				l.RaiseError("argument %d of %s: %v", i, name, err)
			}
			args[i] = v
		}

		log.WithField("args", args).Debug("host call")
		results, err := f.Func(args)
		if err != nil {
			raise(l, err)
		}
		if len(results) != len(f.Type.ReturnTypes) {
			l.RaiseError("%s returned %d results, expected %d", name, len(results), len(f.Type.ReturnTypes))
		}
		for i, t := range f.Type.ReturnTypes {
			v, err := toLua(l, t, results[i])
			if err != nil {
				l.RaiseError("result %d of %s: %v", i, name, err)
			}
			l.Push(v)
		}
		return len(results)
	})
}

func (m *Module) importsTable(imports Imports) (*lua.LTable, error) {
	t := m.l.NewTable()
	for moduleName, fields := range imports {
		mt := m.l.NewTable()
		for fieldName, v := range fields {
			var lv lua.LValue
			switch v := v.(type) {
			case HostFunction:
				lv = m.hostFunction(moduleName+"."+fieldName, v)
			case *Global:
				lv = v.cell
			case *Memory:
				lv = v.t
			case *Table:
				lv = v.t
			case lua.LValue:
				lv = v
			default:
				return nil, fmt.Errorf("import %s.%s: unsupported import value of type %T", moduleName, fieldName, v)
			}
			mt.RawSetString(fieldName, lv)
		}
		t.RawSetString(moduleName, mt)
	}
	return t, nil
}

// An Instance is an instantiated module.
type Instance struct {
	module  *Module
	record  *lua.LTable
	exports *lua.LTable
}

// Instantiate creates a new instance of the module. Instantiation fails with a LinkError if an
// import is missing or has the wrong kind, and with a Trap if a segment does not fit or the start
// function traps.
func (m *Module) Instantiate(imports Imports) (*Instance, error) {
	importsTable, err := m.importsTable(imports)
	if err != nil {
		return nil, err
	}

	instantiate := m.descriptor.RawGetString("instantiate")
	if err := m.l.CallByParam(lua.P{Fn: instantiate, NRet: 1, Protect: true}, importsTable); err != nil {
		return nil, translateError(err)
	}
	record, ok := m.l.Get(-1).(*lua.LTable)
	m.l.Pop(1)
	if !ok {
		return nil, errors.New("instantiate did not return an instance")
	}
	exports, _ := record.RawGetString("exports").(*lua.LTable)
	if exports == nil {
		exports = m.l.NewTable()
	}

	m.log.Debug("instantiated module")
	return &Instance{module: m, record: record, exports: exports}, nil
}

func (i *Instance) export(name string, kind wasm.External) (Extern, lua.LValue, error) {
	for _, e := range i.module.Exports {
		if e.Name == name {
			if e.Kind != kind {
				return Extern{}, nil, &KindMismatchError{ModuleName: i.module.Name, FieldName: name, Want: kind, Got: e.Kind}
			}
			return e, i.exports.RawGetString(name), nil
		}
	}
	return Extern{}, nil, &ExportNotFoundError{ModuleName: i.module.Name, FieldName: name}
}

// Export returns the raw Lua value of the named export. The value can be passed as an import to
// another instance of a module loaded into the same state.
func (i *Instance) Export(name string) (lua.LValue, bool) {
	v := i.exports.RawGetString(name)
	return v, v != lua.LNil
}

// Call invokes the named exported function with the given arguments and returns its results.
// Arguments and results are int32, int64, float32 or float64 according to the function's
// signature.
func (i *Instance) Call(name string, args ...interface{}) ([]interface{}, error) {
	e, fn, err := i.export(name, wasm.ExternalFunction)
	if err != nil {
		return nil, err
	}
	sig, err := e.Signature()
	if err != nil {
		return nil, err
	}
	if len(args) != len(sig.ParamTypes) {
		return nil, fmt.Errorf("%s expects %d arguments, got %d", name, len(sig.ParamTypes), len(args))
	}

	l := i.module.l
	largs := make([]lua.LValue, len(args))
	for j, t := range sig.ParamTypes {
		if largs[j], err = toLua(l, t, args[j]); err != nil {
			return nil, fmt.Errorf("argument %d: %w", j, err)
		}
	}

	if err := l.CallByParam(lua.P{Fn: fn, NRet: len(sig.ReturnTypes), Protect: true}, largs...); err != nil {
		return nil, translateError(err)
	}

	results := make([]interface{}, len(sig.ReturnTypes))
	base := l.GetTop() - len(results)
	for j, t := range sig.ReturnTypes {
		if results[j], err = fromLua(t, l.Get(base+j+1)); err != nil {
			l.Pop(len(results))
			return nil, fmt.Errorf("result %d: %w", j, err)
		}
	}
	l.Pop(len(results))
	return results, nil
}

// Global returns the named exported global.
func (i *Instance) Global(name string) (*Global, error) {
	e, v, err := i.export(name, wasm.ExternalGlobal)
	if err != nil {
		return nil, err
	}
	t, err := e.ValueType()
	if err != nil {
		return nil, err
	}
	cell, ok := v.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("global %s is not a cell", name)
	}
	return &Global{l: i.module.l, cell: cell, typ: wasm.GlobalVar{Type: t, Mutable: e.Mutable}}, nil
}

// Memory returns the named exported memory.
func (i *Instance) Memory(name string) (*Memory, error) {
	_, v, err := i.export(name, wasm.ExternalMemory)
	if err != nil {
		return nil, err
	}
	t, ok := v.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("memory %s is not a table", name)
	}
	return &Memory{t: t}, nil
}

// Table returns the named exported table.
func (i *Instance) Table(name string) (*Table, error) {
	_, v, err := i.export(name, wasm.ExternalTable)
	if err != nil {
		return nil, err
	}
	t, ok := v.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("table %s is not a table", name)
	}
	return &Table{t: t}, nil
}
