// Package load decodes binary WebAssembly modules into the resolved form consumed by the
// compiler.
package load

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/go-interpreter/wagon/disasm"
	wagon "github.com/go-interpreter/wagon/wasm"
	"github.com/go-interpreter/wagon/wasm/leb128"
	"github.com/pgavlin/wasm2lua/ir"
	"github.com/pgavlin/wasm2lua/wasm"
	"github.com/pgavlin/wasm2lua/wasm/code"
	"github.com/spf13/afero"
)

// ErrTextFormat is returned for modules in the WebAssembly text format.
var ErrTextFormat = errors.New("text format modules are not supported; assemble the module to binary first")

// ErrNotFound is returned by LoadFile if no module exists at the given path.
var ErrNotFound = errors.New("module not found")

const magic = "\x00asm"

// LoadModule decodes a binary module from the given reader.
func LoadModule(r io.Reader) (*ir.Module, error) {
	br := bufio.NewReader(r)

	buf, err := br.Peek(4)
	if err != nil && len(buf) == 0 {
		return nil, err
	}
	if string(buf) != magic {
		switch buf[0] {
		case '(', ';', ' ', '\t', '\r', '\n':
			return nil, ErrTextFormat
		}
		return nil, fmt.Errorf("not a WebAssembly module: bad magic %q", buf)
	}

	m, err := wagon.DecodeModule(br)
	if err != nil {
		return nil, err
	}
	return convert(m)
}

// LoadFile loads the module at the given path. If no file exists at the path, the path with a
// .wasm extension is tried.
func LoadFile(fs afero.Fs, path string) (*ir.Module, error) {
	for _, p := range []string{path, path + ".wasm"} {
		f, err := fs.Open(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		defer f.Close()

		m, err := LoadModule(f)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", p, err)
		}
		return m, nil
	}
	return nil, fmt.Errorf("%v: %w", path, ErrNotFound)
}

func valueType(t wagon.ValueType) wasm.ValueType {
	return wasm.ValueType(byte(t))
}

func signature(sig wagon.FunctionSig) wasm.FunctionSig {
	params := make([]wasm.ValueType, len(sig.ParamTypes))
	for i, t := range sig.ParamTypes {
		params[i] = valueType(t)
	}
	results := make([]wasm.ValueType, len(sig.ReturnTypes))
	for i, t := range sig.ReturnTypes {
		results[i] = valueType(t)
	}
	return wasm.FunctionSig{ParamTypes: params, ReturnTypes: results}
}

func limits(l wagon.ResizableLimits) wasm.Limits {
	return wasm.Limits{Initial: l.Initial, Maximum: l.Maximum, HasMaximum: l.Flags&1 != 0}
}

func convert(m *wagon.Module) (*ir.Module, error) {
	var module ir.Module

	if m.Types != nil {
		for _, sig := range m.Types.Entries {
			module.Types = append(module.Types, signature(sig))
		}
	}

	if m.Import != nil {
		for _, entry := range m.Import.Entries {
			imp := &ir.Import{Module: entry.ModuleName, Field: entry.FieldName}
			switch t := entry.Type.(type) {
			case wagon.FuncImport:
				if int(t.Type) >= len(module.Types) {
					return nil, fmt.Errorf("import %v.%v: type index %d out of range", imp.Module, imp.Field, t.Type)
				}
				module.Functions = append(module.Functions, ir.Function{Import: imp, TypeIndex: t.Type})
			case wagon.TableImport:
				module.Tables = append(module.Tables, ir.Table{Import: imp, ElementType: wasm.ValueTypeFuncref, Limits: limits(t.Type.Limits)})
			case wagon.MemoryImport:
				module.Memories = append(module.Memories, ir.Memory{Import: imp, Limits: limits(t.Type.Limits)})
			case wagon.GlobalVarImport:
				module.Globals = append(module.Globals, ir.Global{
					Import: imp,
					Type:   wasm.GlobalVar{Type: valueType(t.Type.Type), Mutable: t.Type.Mutable},
				})
			default:
				return nil, fmt.Errorf("import %v.%v: unsupported import kind", imp.Module, imp.Field)
			}
		}
	}

	if m.Function != nil {
		var bodies []wagon.FunctionBody
		if m.Code != nil {
			bodies = m.Code.Bodies
		}
		if len(bodies) != len(m.Function.Types) {
			return nil, fmt.Errorf("function and code section sizes differ (%d != %d)", len(m.Function.Types), len(bodies))
		}

		for i, typeidx := range m.Function.Types {
			if int(typeidx) >= len(module.Types) {
				return nil, fmt.Errorf("function %d: type index %d out of range", len(module.Functions), typeidx)
			}

			body := &bodies[i]
			var locals []wasm.ValueType
			for _, entry := range body.Locals {
				for j := uint32(0); j < entry.Count; j++ {
					locals = append(locals, valueType(entry.Type))
				}
			}

			instrs, err := disassemble(body.Code)
			if err != nil {
				return nil, fmt.Errorf("function %d: %w", len(module.Functions), err)
			}
			// The decoder drops the final end of each body; init expressions keep theirs.
			instrs = append(instrs, code.End())
			module.Functions = append(module.Functions, ir.Function{TypeIndex: typeidx, Locals: locals, Body: instrs})
		}
	}

	if m.Table != nil {
		for _, t := range m.Table.Entries {
			module.Tables = append(module.Tables, ir.Table{ElementType: wasm.ValueTypeFuncref, Limits: limits(t.Limits)})
		}
	}
	if m.Memory != nil {
		for _, mem := range m.Memory.Entries {
			module.Memories = append(module.Memories, ir.Memory{Limits: limits(mem.Limits)})
		}
	}
	if m.Global != nil {
		for i, g := range m.Global.Globals {
			init, err := disassemble(g.Init)
			if err != nil {
				return nil, fmt.Errorf("global %d: %w", len(module.Globals)+i, err)
			}
			module.Globals = append(module.Globals, ir.Global{
				Type: wasm.GlobalVar{Type: valueType(g.Type.Type), Mutable: g.Type.Mutable},
				Init: init,
			})
		}
	}

	if m.Export != nil {
		for name, e := range m.Export.Entries {
			module.Exports = append(module.Exports, ir.Export{Name: name, Kind: wasm.External(e.Kind), Index: e.Index})
		}
		sort.Slice(module.Exports, func(i, j int) bool { return module.Exports[i].Name < module.Exports[j].Name })
	}

	if m.Start != nil {
		start := m.Start.Index
		module.Start = &start
	}

	if m.Elements != nil {
		for i, e := range m.Elements.Entries {
			offset, err := disassemble(e.Offset)
			if err != nil {
				return nil, fmt.Errorf("element segment %d: %w", i, err)
			}
			init := make([]int64, len(e.Elems))
			for j, funcidx := range e.Elems {
				init[j] = int64(funcidx)
			}
			module.Elements = append(module.Elements, ir.ElementSegment{Table: e.Index, Offset: offset, Init: init})
		}
	}

	if m.Data != nil {
		for i, d := range m.Data.Entries {
			offset, err := disassemble(d.Offset)
			if err != nil {
				return nil, fmt.Errorf("data segment %d: %w", i, err)
			}
			module.Data = append(module.Data, ir.DataSegment{Memory: d.Index, Offset: offset, Init: d.Data})
		}
	}

	for _, c := range m.Customs {
		if c.Name == "name" {
			if err := readNames(&module, c.Data); err != nil {
				return nil, fmt.Errorf("name section: %w", err)
			}
		}
	}

	return &module, nil
}

func disassemble(body []byte) ([]code.Instruction, error) {
	instrs, err := disasm.Disassemble(body)
	if err != nil {
		return nil, err
	}

	result := make([]code.Instruction, len(instrs))
	for i, instr := range instrs {
		c, err := instruction(instr)
		if err != nil {
			return nil, err
		}
		result[i] = c
	}
	return result, nil
}

func instruction(instr disasm.Instr) (code.Instruction, error) {
	result := code.Instruction{Opcode: instr.Op.Code}

	imm := instr.Immediates
	u32 := func(i int) uint32 {
		v, _ := imm[i].(uint32)
		return v
	}

	switch instr.Op.Code {
	case code.OpBlock, code.OpLoop, code.OpIf:
		bt, _ := imm[0].(wagon.BlockType)
		if bt == wagon.BlockTypeEmpty {
			result.Immediate = code.BlockTypeEmpty
		} else {
			result.Immediate = code.BlockTypeOf(wasm.ValueType(byte(bt)))
		}
	case code.OpBr, code.OpBrIf, code.OpCall, code.OpLocalGet, code.OpLocalSet, code.OpLocalTee, code.OpGlobalGet, code.OpGlobalSet:
		result.Immediate = uint64(u32(0))
	case code.OpBrTable:
		n := int(u32(0))
		result.Labels = make([]int, n)
		for i := range result.Labels {
			result.Labels[i] = int(u32(1 + i))
		}
		result.Immediate = uint64(u32(n + 1))
	case code.OpCallIndirect:
		result.Immediate = uint64(u32(0))
	case code.OpI32Const:
		v, _ := imm[0].(int32)
		result.Immediate = uint64(v)
	case code.OpI64Const:
		v, _ := imm[0].(int64)
		result.Immediate = uint64(v)
	case code.OpF32Const:
		v, _ := imm[0].(float32)
		result.Immediate = code.F32Const(v).Immediate
	case code.OpF64Const:
		v, _ := imm[0].(float64)
		result.Immediate = code.F64Const(v).Immediate
	case code.OpMemorySize, code.OpMemoryGrow:
	default:
		if instr.Op.Code >= code.OpI32Load && instr.Op.Code <= code.OpI64Store32 {
			align, offset := u32(0), u32(1)
			result.Immediate = uint64(offset) | uint64(align)<<32
		} else if len(imm) != 0 {
			return code.Instruction{}, fmt.Errorf("unsupported immediates for %v", instr.Op.Name)
		}
	}
	return result, nil
}

const (
	nameSubsectionModule   = 0
	nameSubsectionFunction = 1
)

func readName(r io.Reader) (string, error) {
	n, err := leb128.ReadVarUint32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// readNames applies the module and function names recorded in a name section. Malformed
// subsections end processing without an error, as the section is informational.
func readNames(m *ir.Module, data []byte) error {
	r := bytes.NewReader(data)
	for r.Len() != 0 {
		id, err := r.ReadByte()
		if err != nil {
			return err
		}
		size, err := leb128.ReadVarUint32(r)
		if err != nil {
			return err
		}
		if int64(size) > int64(r.Len()) {
			return nil
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return err
		}
		sub := bytes.NewReader(payload)

		switch id {
		case nameSubsectionModule:
			name, err := readName(sub)
			if err != nil {
				return nil
			}
			m.Name = name
		case nameSubsectionFunction:
			count, err := leb128.ReadVarUint32(sub)
			if err != nil {
				return nil
			}
			for i := uint32(0); i < count; i++ {
				funcidx, err := leb128.ReadVarUint32(sub)
				if err != nil {
					return nil
				}
				name, err := readName(sub)
				if err != nil {
					return nil
				}
				if int(funcidx) < len(m.Functions) {
					m.Functions[funcidx].Name = name
				}
			}
		}
	}
	return nil
}
