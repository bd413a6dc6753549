package lua

import (
	"bytes"

	"github.com/pgavlin/wasm2lua/ir"
)

// FunctionStats describes the code generated for a single function.
type FunctionStats struct {
	Index   uint32 `csv:"funcidx"`
	Name    string `csv:"function"`
	Params  int    `csv:"in"`
	Results int    `csv:"out"`

	// Locals is the number of declared locals, excluding parameters.
	Locals     int `csv:"local count"`
	UsedLocals int `csv:"used locals"`

	Instructions int `csv:"instruction count"`
	MaxStack     int `csv:"max stack"`
	MaxDepth     int `csv:"max nesting"`

	// LoweredFrames is the number of blocks, loops and ifs that are targeted by a branch.
	LoweredFrames   int `csv:"lowered frames"`
	FlaggedBranches int `csv:"flagged branches"`

	// Spilled is true if the function's locals and stack slots are held in tables.
	Spilled bool `csv:"spilled"`
	Bytes   int  `csv:"bytes"`
}

// Analyze compiles each defined function of the given module and returns the statistics of the
// generated code in function index order.
func Analyze(module *ir.Module, options *Options) ([]FunctionStats, error) {
	m, err := newModuleCompiler(module, options)
	if err != nil {
		return nil, err
	}
	if err := m.compile(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	stats := make([]FunctionStats, len(m.functions))
	for i, f := range m.functions {
		buf.Reset()
		f.emit(&buf)
		stats[i] = f.stats
	}
	return stats, nil
}
