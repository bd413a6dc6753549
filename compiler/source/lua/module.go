// Package lua compiles resolved WebAssembly modules into self-contained Lua 5.1 source units.
//
// Each unit begins with a runtime preamble that emulates WebAssembly's numeric types, linear
// memory, tables and traps using only Lua numbers and tables. The unit evaluates to a module
// descriptor whose instantiate function builds an independent instance record from a table of
// imports.
package lua

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/pgavlin/wasm2lua/ir"
	"github.com/pgavlin/wasm2lua/wasm"
	"github.com/pgavlin/wasm2lua/wasm/code"
	"github.com/sirupsen/logrus"
	"github.com/willf/bitset"
)

// Header is the first line of every generated unit.
const Header = "-- Code generated by wasm2lua. DO NOT EDIT."

const (
	elementChunkSize = 256
	dataChunkSize    = 4096
)

type moduleCompiler struct {
	module *ir.Module
	opts   options

	names []string
	cells []bool
	refs  bitset.BitSet

	functions []*functionCompiler
}

// CompileModule compiles the given module into Lua source and writes the source to the given
// writer. Nothing is written if compilation fails.
func CompileModule(w io.Writer, module *ir.Module, options *Options) error {
	m, err := newModuleCompiler(module, options)
	if err != nil {
		return err
	}
	if err := m.compile(); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := m.emit(&buf); err != nil {
		return err
	}
	_, err = w.Write(buf.Bytes())
	return err
}

func newModuleCompiler(module *ir.Module, options *Options) (*moduleCompiler, error) {
	opts, err := options.resolve()
	if err != nil {
		return nil, err
	}
	return &moduleCompiler{module: module, opts: opts}, nil
}

func (m *moduleCompiler) functionName(index uint32) string {
	return m.names[index]
}

// callee returns the expression that names the given function and whether calls must pass the
// instance record.
func (m *moduleCompiler) callee(funcidx uint32) (string, bool) {
	if m.module.Functions[funcidx].Import != nil {
		return fmt.Sprintf("m.f%d", funcidx), false
	}
	return m.opts.prefix + "_" + m.names[funcidx], true
}

func (m *moduleCompiler) globalType(globalidx uint32) wasm.ValueType {
	return m.module.Globals[globalidx].Type.Type
}

// globalRef returns the expression that reads or writes a global. Imported and exported globals
// are shared cells.
func (m *moduleCompiler) globalRef(globalidx uint32) string {
	if m.cells[globalidx] {
		return fmt.Sprintf("m.g%d.value", globalidx)
	}
	return fmt.Sprintf("m.g%d", globalidx)
}

func (m *moduleCompiler) tableType(tableidx uint32) wasm.ValueType {
	if int(tableidx) < len(m.module.Tables) {
		return m.module.Tables[tableidx].ElementType
	}
	return wasm.ValueTypeFuncref
}

func (m *moduleCompiler) compile() error {
	m.names = functionNames(m.module, m.opts.debugNames)

	m.cells = make([]bool, len(m.module.Globals))
	for i, g := range m.module.Globals {
		m.cells[i] = g.Import != nil
	}
	for _, e := range m.module.Exports {
		switch e.Kind {
		case wasm.ExternalGlobal:
			if int(e.Index) >= len(m.module.Globals) {
				return fmt.Errorf("export %q: global index %d out of range", e.Name, e.Index)
			}
			m.cells[e.Index] = true
		case wasm.ExternalFunction:
			if int(e.Index) >= len(m.module.Functions) {
				return fmt.Errorf("export %q: function index %d out of range", e.Name, e.Index)
			}
		}
	}

	// Record every function that is used as a reference.
	for i, e := range m.module.Elements {
		for _, funcidx := range e.Init {
			if funcidx >= int64(len(m.module.Functions)) {
				return fmt.Errorf("element segment %d: function index %d out of range", i, funcidx)
			}
			if funcidx >= 0 {
				m.refs.Set(uint(funcidx))
			}
		}
	}
	for _, g := range m.module.Globals {
		m.markRefs(g.Init)
	}
	for _, f := range m.module.Functions {
		m.markRefs(f.Body)
	}

	for i, f := range m.module.Functions {
		if f.Import != nil {
			continue
		}

		fc := newFunctionCompiler(m, uint32(i))
		if err := fc.compile(); err != nil {
			return err
		}
		m.functions = append(m.functions, fc)

		m.opts.log.WithFields(logrus.Fields{
			"function":     fc.name,
			"index":        i,
			"instructions": len(f.Body),
			"slots":        fc.stats.MaxStack,
		}).Debug("compiled function")
	}
	return nil
}

func (m *moduleCompiler) markRefs(body []code.Instruction) {
	for _, instr := range body {
		if instr.Opcode == code.OpRefFunc && int(instr.Funcidx()) < len(m.module.Functions) {
			m.refs.Set(uint(instr.Funcidx()))
		}
	}
}

// constExpression compiles an initializer that must produce a value of type want.
func (m *moduleCompiler) constExpression(body []code.Instruction, want wasm.ValueType) (string, error) {
	c := constExpressionCompiler{m: m, code: body, want: want}
	if err := c.compile(); err != nil {
		return "", err
	}
	return c.emit(), nil
}

func (m *moduleCompiler) emit(w *bytes.Buffer) error {
	if err := m.emitPreamble(w); err != nil {
		return err
	}
	m.emitInitFunctions(w)
	m.emitInitMemories(w)
	m.emitInitTables(w)
	m.emitInitRefs(w)
	if err := m.emitInitGlobals(w); err != nil {
		return err
	}
	if err := m.emitSegments(w); err != nil {
		return err
	}
	for _, f := range m.functions {
		f.emit(w)
	}
	m.emitInitExports(w)
	return m.emitModule(w)
}

func (m *moduleCompiler) emitPreamble(w io.Writer) error {
	t := template.Must(template.New("Preamble").Parse(`{{.Header}}

{{.Runtime}}
for k, v in pairs(rt) do
	_G["{{.Prefix}}_" .. k] = v
end

`))

	return t.Execute(w, map[string]interface{}{
		"Header":  Header,
		"Runtime": runtimeSource,
		"Prefix":  m.opts.prefix,
	})
}

// luaString renders s as a Lua string literal. Bytes outside printable ASCII use three-digit
// decimal escapes.
func luaString(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c >= 0x20 && c < 0x7f:
			sb.WriteByte(c)
		default:
			fmt.Fprintf(&sb, "\\%03d", c)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

func (m *moduleCompiler) emitInitFunctions(w *bytes.Buffer) {
	fmt.Fprintf(w, "function %s_init_functions(m, imports)\n", m.opts.prefix)
	for i, f := range m.module.Functions {
		if f.Import != nil {
			fmt.Fprintf(w, "\tm.f%d = %s_import_func(imports, %s, %s)\n", i, m.opts.prefix, luaString(f.Import.Module), luaString(f.Import.Field))
		}
	}
	w.WriteString("end\n\n")
}

func luaMaximum(l wasm.Limits) string {
	if !l.HasMaximum {
		return "nil"
	}
	return fmt.Sprint(l.Maximum)
}

func capMaximum(l wasm.Limits, cap uint32) uint32 {
	if l.HasMaximum && l.Maximum < cap {
		return l.Maximum
	}
	return cap
}

func (m *moduleCompiler) emitInitMemories(w *bytes.Buffer) {
	p := m.opts.prefix
	fmt.Fprintf(w, "function %s_init_memories(m, imports)\n", p)
	for i, mem := range m.module.Memories {
		if mem.Import != nil {
			fmt.Fprintf(w, "\tm.mem%d = %s_import_memory(imports, %s, %s, %d, %s)\n", i, p, luaString(mem.Import.Module), luaString(mem.Import.Field), mem.Limits.Initial, luaMaximum(mem.Limits))
		} else {
			fmt.Fprintf(w, "\tm.mem%d = %s_memory(%d, %d)\n", i, p, mem.Limits.Initial, capMaximum(mem.Limits, m.opts.maxMemoryPages))
		}
	}
	w.WriteString("end\n\n")
}

func (m *moduleCompiler) emitInitTables(w *bytes.Buffer) {
	p := m.opts.prefix
	fmt.Fprintf(w, "function %s_init_tables(m, imports)\n", p)
	for i, t := range m.module.Tables {
		if t.Import != nil {
			fmt.Fprintf(w, "\tm.table%d = %s_import_table(imports, %s, %s, %d, %s)\n", i, p, luaString(t.Import.Module), luaString(t.Import.Field), t.Limits.Initial, luaMaximum(t.Limits))
		} else {
			fmt.Fprintf(w, "\tm.table%d = %s_table(%d, %d)\n", i, p, t.Limits.Initial, capMaximum(t.Limits, m.opts.maxTableElements))
		}
	}
	w.WriteString("end\n\n")
}

func (m *moduleCompiler) emitInitRefs(w *bytes.Buffer) {
	p := m.opts.prefix
	fmt.Fprintf(w, "function %s_init_refs(m)\n", p)
	for i, ok := m.refs.NextSet(0); ok; i, ok = m.refs.NextSet(i + 1) {
		key := m.module.Signature(uint32(i)).Key()
		callee, self := m.callee(uint32(i))
		if self {
			fmt.Fprintf(w, "\tm.r%d = %s_funcref(%q, function(...) return %s(m, ...) end)\n", i, p, key, callee)
		} else {
			fmt.Fprintf(w, "\tm.r%d = %s_funcref(%q, %s)\n", i, p, key, callee)
		}
	}
	w.WriteString("end\n\n")
}

func (m *moduleCompiler) emitInitGlobals(w *bytes.Buffer) error {
	p := m.opts.prefix
	fmt.Fprintf(w, "function %s_init_globals(m, imports)\n", p)
	for i, g := range m.module.Globals {
		if g.Import != nil {
			fmt.Fprintf(w, "\tm.g%d = %s_import_global(imports, %s, %s)\n", i, p, luaString(g.Import.Module), luaString(g.Import.Field))
			continue
		}

		init, err := m.constExpression(g.Init, g.Type.Type)
		if err != nil {
			return fmt.Errorf("global %d: %w", i, err)
		}
		if m.cells[i] {
			fmt.Fprintf(w, "\tm.g%d = { value = %s }\n", i, init)
		} else {
			fmt.Fprintf(w, "\tm.g%d = %s\n", i, init)
		}
	}
	w.WriteString("end\n\n")
	return nil
}

// chunkOffset returns the offset of the chunk that starts start bytes or elements into a segment.
func chunkOffset(offset string, start int) string {
	if start == 0 {
		return offset
	}
	return fmt.Sprintf("%s %% 4294967296 + %d", offset, start)
}

// emitSegments emits the routines that check and apply active element and data segments. All
// segments are checked before any is applied.
func (m *moduleCompiler) emitSegments(w *bytes.Buffer) error {
	p := m.opts.prefix

	type segment struct {
		target string
		offset string
	}
	elements := make([]segment, len(m.module.Elements))
	datas := make([]segment, len(m.module.Data))

	fmt.Fprintf(w, "function %s_check_segments(m)\n", p)
	for i, e := range m.module.Elements {
		if e.Passive {
			continue
		}
		if int(e.Table) >= len(m.module.Tables) {
			return fmt.Errorf("element segment %d: table index %d out of range", i, e.Table)
		}
		offset, err := m.constExpression(e.Offset, wasm.ValueTypeI32)
		if err != nil {
			return fmt.Errorf("element segment %d: %w", i, err)
		}
		elements[i] = segment{target: fmt.Sprintf("m.table%d", e.Table), offset: offset}
		fmt.Fprintf(w, "\t%s_check_table(%s, %s, %d)\n", p, elements[i].target, offset, len(e.Init))
	}
	for i, d := range m.module.Data {
		if d.Passive {
			continue
		}
		if int(d.Memory) >= len(m.module.Memories) {
			return fmt.Errorf("data segment %d: memory index %d out of range", i, d.Memory)
		}
		offset, err := m.constExpression(d.Offset, wasm.ValueTypeI32)
		if err != nil {
			return fmt.Errorf("data segment %d: %w", i, err)
		}
		datas[i] = segment{target: fmt.Sprintf("m.mem%d", d.Memory), offset: offset}
		fmt.Fprintf(w, "\t%s_check_memory(%s, %s, %d)\n", p, datas[i].target, offset, len(d.Init))
	}
	w.WriteString("end\n\n")

	fmt.Fprintf(w, "function %s_init_segments(m)\n", p)
	for i, e := range m.module.Elements {
		if e.Passive {
			continue
		}
		for start := 0; start < len(e.Init); start += elementChunkSize {
			end := start + elementChunkSize
			if end > len(e.Init) {
				end = len(e.Init)
			}
			refs := make([]string, end-start)
			for j, funcidx := range e.Init[start:end] {
				if funcidx < 0 {
					refs[j] = "nil"
				} else {
					refs[j] = fmt.Sprintf("m.r%d", funcidx)
				}
			}
			fmt.Fprintf(w, "\t%s_init_table(%s, %s, %d, { %s })\n", p, elements[i].target, chunkOffset(elements[i].offset, start), len(refs), strings.Join(refs, ", "))
		}
	}
	for i, d := range m.module.Data {
		if d.Passive {
			continue
		}
		for start := 0; start < len(d.Init); start += dataChunkSize {
			end := start + dataChunkSize
			if end > len(d.Init) {
				end = len(d.Init)
			}
			fmt.Fprintf(w, "\t%s_init_memory(%s, %s, %s)\n", p, datas[i].target, chunkOffset(datas[i].offset, start), luaString(string(d.Init[start:end])))
		}
	}
	w.WriteString("end\n\n")
	return nil
}

func (m *moduleCompiler) exportValue(e ir.Export) string {
	switch e.Kind {
	case wasm.ExternalFunction:
		callee, self := m.callee(e.Index)
		if self {
			return fmt.Sprintf("function(...) return %s(m, ...) end", callee)
		}
		return callee
	case wasm.ExternalTable:
		return fmt.Sprintf("m.table%d", e.Index)
	case wasm.ExternalMemory:
		return fmt.Sprintf("m.mem%d", e.Index)
	default:
		return fmt.Sprintf("m.g%d", e.Index)
	}
}

func (m *moduleCompiler) emitInitExports(w *bytes.Buffer) {
	fmt.Fprintf(w, "function %s_init_exports(m)\n", m.opts.prefix)
	if len(m.module.Exports) != 0 {
		w.WriteString("\tlocal e = m.exports\n")
	}
	for _, e := range m.module.Exports {
		fmt.Fprintf(w, "\te[%s] = %s\n", luaString(e.Name), m.exportValue(e))
	}
	w.WriteString("end\n\n")
}

type externDescriptor struct {
	Module  string
	Name    string
	Kind    string
	Type    string
	Mutable bool
}

func (m *moduleCompiler) externType(kind wasm.External, index uint32) (string, bool) {
	switch kind {
	case wasm.ExternalFunction:
		return m.module.Signature(index).Key(), false
	case wasm.ExternalTable:
		return string(m.tableType(index).Key()), false
	case wasm.ExternalGlobal:
		g := m.module.Globals[index].Type
		return string(g.Type.Key()), g.Mutable
	default:
		return "", false
	}
}

func (m *moduleCompiler) emitModule(w io.Writer) error {
	t := template.Must(template.New("Module").Funcs(template.FuncMap{"lua": luaString}).Parse(`function {{.Prefix}}_instantiate(imports)
	local m = { exports = {} }
	{{.Prefix}}_init_functions(m, imports)
	{{.Prefix}}_init_memories(m, imports)
	{{.Prefix}}_init_tables(m, imports)
	{{.Prefix}}_init_refs(m)
	{{.Prefix}}_init_globals(m, imports)
	{{.Prefix}}_check_segments(m)
	{{.Prefix}}_init_segments(m)
	{{.Prefix}}_init_exports(m)
	{{- if .Start}}
	{{.Start}}
	{{- end}}
	return m
end

{{.Prefix}}_module = {
	name = {{lua .Name}},
	imports = {
		{{- range .Imports}}
		{ module = {{lua .Module}}, name = {{lua .Name}}, kind = {{lua .Kind}}{{if .Type}}, type = {{lua .Type}}{{end}} },
		{{- end}}
	},
	exports = {
		{{- range .Exports}}
		{ name = {{lua .Name}}, kind = {{lua .Kind}}{{if .Type}}, type = {{lua .Type}}{{end}}{{if .Mutable}}, mutable = true{{end}} },
		{{- end}}
	},
	instantiate = {{.Prefix}}_instantiate,
}

return {{.Prefix}}_module
`))

	var imports []externDescriptor
	addImports := func(kind wasm.External, n int, imp func(i int) *ir.Import) {
		for i := 0; i < n; i++ {
			if x := imp(i); x != nil {
				typ, mutable := m.externType(kind, uint32(i))
				imports = append(imports, externDescriptor{Module: x.Module, Name: x.Field, Kind: kind.String(), Type: typ, Mutable: mutable})
			}
		}
	}
	addImports(wasm.ExternalFunction, len(m.module.Functions), func(i int) *ir.Import { return m.module.Functions[i].Import })
	addImports(wasm.ExternalTable, len(m.module.Tables), func(i int) *ir.Import { return m.module.Tables[i].Import })
	addImports(wasm.ExternalMemory, len(m.module.Memories), func(i int) *ir.Import { return m.module.Memories[i].Import })
	addImports(wasm.ExternalGlobal, len(m.module.Globals), func(i int) *ir.Import { return m.module.Globals[i].Import })

	exports := make([]externDescriptor, len(m.module.Exports))
	for i, e := range m.module.Exports {
		typ, mutable := m.externType(e.Kind, e.Index)
		exports[i] = externDescriptor{Name: e.Name, Kind: e.Kind.String(), Type: typ, Mutable: mutable}
	}

	start := ""
	if m.module.Start != nil {
		funcidx := *m.module.Start
		if int(funcidx) >= len(m.module.Functions) {
			return fmt.Errorf("start function index %d out of range", funcidx)
		}
		callee, self := m.callee(funcidx)
		if self {
			start = callee + "(m)"
		} else {
			start = callee + "()"
		}
	}

	return t.Execute(w, map[string]interface{}{
		"Prefix":  m.opts.prefix,
		"Name":    m.module.Name,
		"Imports": imports,
		"Exports": exports,
		"Start":   start,
	})
}
