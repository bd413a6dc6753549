package lua

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pgavlin/wasm2lua/wasm"
	"github.com/pgavlin/wasm2lua/wasm/code"
	"github.com/willf/bitset"
)

// maxRegisters bounds the number of locals a generated function declares before its locals and
// stack slots move into tables.
const maxRegisters = 150

// frameFunction is the opcode of the outermost control frame.
const frameFunction = 0xff

func i32Const(v int32) string {
	return strconv.FormatInt(int64(v), 10)
}

func i64Const(prefix string, v int64) string {
	if v == 0 {
		return prefix + "_i64_zero"
	}
	return fmt.Sprintf("%s_i64(%d, %d)", prefix, uint32(v), uint32(uint64(v)>>32))
}

func f32Const(prefix string, v float32) string {
	return f64Const(prefix, float64(v))
}

func f64Const(prefix string, v float64) string {
	switch {
	case math.IsNaN(v):
		return prefix + "_nan"
	case math.IsInf(v, 1):
		return prefix + "_inf"
	case math.IsInf(v, -1):
		return "-" + prefix + "_inf"
	case v == 0 && math.Signbit(v):
		return prefix + "_neg_zero"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func zeroValue(prefix string, t wasm.ValueType) string {
	switch t {
	case wasm.ValueTypeI64:
		return prefix + "_i64_zero"
	case wasm.ValueTypeFuncref, wasm.ValueTypeExternref:
		return "nil"
	default:
		return "0"
	}
}

// A value is an entry in the compile-time value stack. Values that are constants or reads of a
// local are kept lazy: they are not assigned to their slot until a join point or a write to the
// local requires it.
type value struct {
	typ   wasm.ValueType
	expr  string
	local int

	constant bool
	i32      int32
}

func (v value) lazy() bool {
	return v.expr != ""
}

type frame struct {
	opcode  byte
	label   int
	height  int
	params  []wasm.ValueType
	results []wasm.ValueType

	// lowered is true if the frame is emitted as a breakable construct.
	lowered bool
	// flagSelf is true if some branch to this frame is signaled through the br flag.
	flagSelf bool
	// escapes is true if some flagged branch passes through this frame to an outer frame.
	escapes bool
	// branched is true if a reachable branch targets this frame.
	branched bool

	elseSeen      bool
	thenReachable bool
	unreachable   bool
}

func (fr *frame) labelTypes() []wasm.ValueType {
	if fr.opcode == code.OpLoop {
		return fr.params
	}
	return fr.results
}

type functionCompiler struct {
	m      *moduleCompiler
	index  uint32
	name   string
	sig    wasm.FunctionSig
	locals []wasm.ValueType
	body   []code.Instruction
	scope  code.Scope
	spill  bool

	labels     []int
	targeted   bitset.BitSet
	usedLocals bitset.BitSet

	buf    bytes.Buffer
	indent int
	ip     int
	stack  []value
	frames []*frame
	usesBr bool

	stats FunctionStats
}

func newFunctionCompiler(m *moduleCompiler, index uint32) *functionCompiler {
	fn := &m.module.Functions[index]
	sig := m.module.Signature(index)

	locals := make([]wasm.ValueType, 0, len(sig.ParamTypes)+len(fn.Locals))
	locals = append(locals, sig.ParamTypes...)
	locals = append(locals, fn.Locals...)

	return &functionCompiler{
		m:      m,
		index:  index,
		name:   m.functionName(index),
		sig:    sig,
		locals: locals,
		body:   fn.Body,
		scope:  m.module.FunctionScope(index),
	}
}

// compile emits the function. Functions that need more registers than the target allows are
// recompiled with their locals and stack slots held in tables.
func (f *functionCompiler) compile() error {
	if err := f.compileBody(false); err != nil {
		return err
	}
	registers := len(f.locals) + f.stats.MaxStack
	if f.usesBr {
		registers++
	}
	if registers > maxRegisters {
		return f.compileBody(true)
	}
	return nil
}

func (f *functionCompiler) compileBody(spill bool) (err error) {
	defer func() {
		if x := recover(); x != nil {
			switch e := x.(type) {
			case *StackError:
				err = e
			case *UnsupportedInstructionError:
				err = e
			default:
				panic(x)
			}
		}
	}()

	f.spill = spill
	f.buf.Reset()
	f.indent, f.stack, f.frames, f.usesBr = 1, nil, nil, false
	f.targeted, f.usedLocals = bitset.BitSet{}, bitset.BitSet{}
	f.stats = FunctionStats{
		Index:        f.index,
		Name:         f.name,
		Params:       len(f.sig.ParamTypes),
		Results:      len(f.sig.ReturnTypes),
		Locals:       len(f.locals) - len(f.sig.ParamTypes),
		Instructions: len(f.body),
		Spilled:      spill,
	}

	f.prepass()
	f.emitBody()
	f.stats.UsedLocals = int(f.usedLocals.Count())
	return nil
}

func (f *functionCompiler) stackError(format string, args ...interface{}) {
	panic(&StackError{Function: f.index, Offset: f.ip, Message: fmt.Sprintf(format, args...)})
}

func (f *functionCompiler) unsupported(instr code.Instruction) {
	panic(&UnsupportedInstructionError{Function: f.index, Offset: f.ip, Instr: instr})
}

// prepass assigns a label to every block, loop and if and records which labels are targeted by a
// branch.
func (f *functionCompiler) prepass() {
	f.labels = make([]int, len(f.body))

	open, next := []int{0}, 1
	target := func(depth int) {
		if depth < 0 || depth >= len(open) {
			f.stackError("branch depth %d out of range", depth)
		}
		if label := open[len(open)-1-depth]; label != 0 {
			f.targeted.Set(uint(label))
		}
	}

	for ip, instr := range f.body {
		f.ip = ip
		switch instr.Opcode {
		case code.OpBlock, code.OpLoop, code.OpIf:
			f.labels[ip] = next
			open = append(open, next)
			next++
		case code.OpEnd:
			if len(open) == 0 {
				f.stackError("unbalanced end")
			}
			open = open[:len(open)-1]
		case code.OpBr, code.OpBrIf:
			target(instr.Labelidx())
		case code.OpBrTable:
			for _, l := range instr.Labels {
				target(l)
			}
			target(instr.Default())
		case code.OpLocalGet, code.OpLocalSet, code.OpLocalTee:
			f.usedLocals.Set(uint(instr.Localidx()))
		}
	}
	f.stats.LoweredFrames = int(f.targeted.Count())
}

// line writes one indented line of output.
func (f *functionCompiler) line(format string, args ...interface{}) {
	for i := 0; i < f.indent; i++ {
		f.buf.WriteByte('\t')
	}
	fmt.Fprintf(&f.buf, format, args...)
	f.buf.WriteByte('\n')
}

// helper expands each '$' in format to the helper prefix.
func (f *functionCompiler) helper(format string) string {
	return strings.ReplaceAll(format, "$", f.m.opts.prefix+"_")
}

func (f *functionCompiler) slotName(i int) string {
	if f.spill {
		return fmt.Sprintf("s[%d]", i)
	}
	return fmt.Sprintf("s%d", i)
}

func (f *functionCompiler) localName(i uint32) string {
	if f.spill && int(i) >= len(f.sig.ParamTypes) {
		return fmt.Sprintf("l[%d]", i)
	}
	return fmt.Sprintf("v%d", i)
}

func (f *functionCompiler) top() *frame {
	return f.frames[len(f.frames)-1]
}

func (f *functionCompiler) push(t wasm.ValueType) string {
	f.stack = append(f.stack, value{typ: t, local: -1})
	if len(f.stack) > f.stats.MaxStack {
		f.stats.MaxStack = len(f.stack)
	}
	return f.slotName(len(f.stack) - 1)
}

func (f *functionCompiler) pushLazy(v value) {
	f.stack = append(f.stack, v)
	if len(f.stack) > f.stats.MaxStack {
		f.stats.MaxStack = len(f.stack)
	}
}

func (f *functionCompiler) pushConst(t wasm.ValueType, expr string) {
	f.pushLazy(value{typ: t, expr: expr, local: -1})
}

func (f *functionCompiler) pop() value {
	if len(f.stack) <= f.top().height {
		f.stackError("value stack underflow")
	}
	v := f.stack[len(f.stack)-1]
	if !v.lazy() {
		v.expr = f.slotName(len(f.stack) - 1)
	}
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

// popN pops n values and returns their expressions, deepest first.
func (f *functionCompiler) popN(n int) []string {
	exprs := make([]string, n)
	for i := n - 1; i >= 0; i-- {
		exprs[i] = f.pop().expr
	}
	return exprs
}

// expr returns the expression that reads stack entry i.
func (f *functionCompiler) expr(i int) string {
	if v := f.stack[i]; v.lazy() {
		return v.expr
	}
	return f.slotName(i)
}

func (f *functionCompiler) materialize(i int) {
	if v := &f.stack[i]; v.lazy() {
		f.line("%s = %s", f.slotName(i), v.expr)
		*v = value{typ: v.typ, local: -1}
	}
}

func (f *functionCompiler) materializeAll() {
	for i := range f.stack {
		f.materialize(i)
	}
}

func (f *functionCompiler) materializeLocal(localidx uint32) {
	for i, v := range f.stack {
		if v.local == int(localidx) {
			f.materialize(i)
		}
	}
}

// move copies the top n stack entries into the slots starting at height without changing the
// compile-time stack.
func (f *functionCompiler) move(height, n int) {
	src := len(f.stack) - n
	if src < f.top().height {
		f.stackError("value stack underflow at branch")
	}

	var dsts, srcs []string
	for i := 0; i < n; i++ {
		d, s := f.slotName(height+i), f.expr(src+i)
		if d != s {
			dsts, srcs = append(dsts, d), append(srcs, s)
		}
	}
	if len(dsts) != 0 {
		f.line("%s = %s", strings.Join(dsts, ", "), strings.Join(srcs, ", "))
	}
}

func (f *functionCompiler) topExprs(n int) []string {
	if len(f.stack)-n < f.top().height {
		f.stackError("value stack underflow")
	}
	exprs := make([]string, n)
	for i := range exprs {
		exprs[i] = f.expr(len(f.stack) - n + i)
	}
	return exprs
}

// branch emits a branch to the frame at the given relative depth. The emitted statement always
// ends the current Lua block.
func (f *functionCompiler) branch(depth int) {
	if depth < 0 || depth >= len(f.frames) {
		f.stackError("branch depth %d out of range", depth)
	}
	t := f.frames[len(f.frames)-1-depth]
	n := len(t.labelTypes())

	if t.opcode == frameFunction {
		f.emitReturn(f.topExprs(n))
		return
	}

	f.move(t.height, n)
	if t.opcode != code.OpLoop {
		t.branched = true
	}

	direct := t.opcode != code.OpLoop
	for i := len(f.frames) - 1; f.frames[i] != t; i-- {
		if f.frames[i].lowered {
			direct = false
		}
	}
	if direct {
		f.line("break")
		return
	}

	for i := len(f.frames) - 1; f.frames[i] != t; i-- {
		if fr := f.frames[i]; fr.lowered {
			fr.escapes = true
		}
	}
	t.flagSelf, f.usesBr = true, true
	f.stats.FlaggedBranches++
	f.line("br = %d", t.label)
	f.line("break")
}

func (f *functionCompiler) emitReturn(exprs []string) {
	if len(exprs) == 0 {
		f.line("return")
	} else {
		f.line("return %s", strings.Join(exprs, ", "))
	}
}

// postCheck continues a flagged branch after the construct for fr has been left.
func (f *functionCompiler) postCheck(fr *frame) {
	switch {
	case fr.flagSelf && fr.escapes:
		f.line("if br == %d then", fr.label)
		f.line("\tbr = nil")
		f.line("elseif br then")
		f.line("\tbreak")
		f.line("end")
	case fr.flagSelf:
		f.line("br = nil")
	case fr.escapes:
		f.line("if br then")
		f.line("\tbreak")
		f.line("end")
	}
}

func (f *functionCompiler) emitBody() {
	f.frames = []*frame{{opcode: frameFunction, results: f.sig.ReturnTypes}}

	skip := 0
	for ip, instr := range f.body {
		f.ip = ip
		if len(f.frames) == 0 {
			f.stackError("instruction after the end of the function")
		}

		if f.top().unreachable {
			switch instr.Opcode {
			case code.OpBlock, code.OpLoop, code.OpIf:
				skip++
				continue
			case code.OpElse:
				if skip > 0 {
					continue
				}
			case code.OpEnd:
				if skip > 0 {
					skip--
					continue
				}
			default:
				continue
			}
		}

		f.instruction(ip, instr)
		if len(f.frames) > f.stats.MaxDepth {
			f.stats.MaxDepth = len(f.frames)
		}
	}
	if len(f.frames) != 0 {
		f.stackError("missing end")
	}
}

func (f *functionCompiler) enter(ip int, instr code.Instruction) *frame {
	in, out, ok := instr.BlockType(f.scope)
	if !ok {
		f.stackError("invalid block type")
	}
	if len(f.stack)-len(in) < f.top().height {
		f.stackError("value stack underflow at %v", instr.OpString())
	}

	label := f.labels[ip]
	fr := &frame{
		opcode:  instr.Opcode,
		label:   label,
		height:  len(f.stack) - len(in),
		params:  in,
		results: out,
		lowered: f.targeted.Test(uint(label)),
	}
	f.frames = append(f.frames, fr)
	return fr
}

func (f *functionCompiler) elseInstruction() {
	fr := f.top()
	if fr.opcode != code.OpIf || fr.elseSeen {
		f.stackError("else without if")
	}
	if !fr.unreachable {
		f.endValues(fr)
	}
	fr.elseSeen, fr.thenReachable, fr.unreachable = true, !fr.unreachable, false

	// The else arm only runs when the then arm did not, so the parameters are still in their slots.
	f.stack = f.stack[:fr.height]
	for _, t := range fr.params {
		f.push(t)
	}

	f.indent--
	f.line("else")
	f.indent++
}

// endValues materializes the results of a frame at its fallthrough end.
func (f *functionCompiler) endValues(fr *frame) {
	if len(f.stack) != fr.height+len(fr.results) {
		f.stackError("expected %d values at end of block, have %d", len(fr.results), len(f.stack)-fr.height)
	}
	for i := fr.height; i < len(f.stack); i++ {
		f.materialize(i)
	}
}

func (f *functionCompiler) endInstruction() {
	fr := f.top()
	fallthru := !fr.unreachable
	if fallthru && fr.opcode != frameFunction {
		f.endValues(fr)
	}

	reachable := fallthru
	switch fr.opcode {
	case frameFunction:
		if fallthru && len(fr.results) != 0 {
			f.emitReturn(f.topExprs(len(fr.results)))
		}
		f.frames = f.frames[:0]
		return
	case code.OpBlock:
		reachable = reachable || fr.branched
		if fr.lowered {
			f.indent--
			f.line("until true")
			f.postCheck(fr)
		}
	case code.OpIf:
		reachable = reachable || fr.branched || fr.thenReachable || !fr.elseSeen
		f.indent--
		f.line("end")
		if fr.lowered {
			f.indent--
			f.line("until true")
			f.postCheck(fr)
		}
	case code.OpLoop:
		if fr.lowered {
			f.indent--
			f.line("until true")
			if fr.flagSelf {
				f.line("if br == %d then", fr.label)
				f.line("\tbr = nil")
				f.line("else")
				f.line("\tbreak")
				f.line("end")
			} else {
				f.line("break")
			}
			f.indent--
			f.line("end")
			if fr.escapes {
				f.line("if br then")
				f.line("\tbreak")
				f.line("end")
			}
		}
	}

	f.frames = f.frames[:len(f.frames)-1]
	f.stack = f.stack[:fr.height]
	for _, t := range fr.results {
		f.push(t)
	}
	f.top().unreachable = !reachable
}

type op struct {
	format string
	args   int
	result wasm.ValueType
}

const (
	i32 = wasm.ValueTypeI32
	i64 = wasm.ValueTypeI64
	f32 = wasm.ValueTypeF32
	f64 = wasm.ValueTypeF64
)

// simpleOps maps pure numeric instructions to the Lua expression that computes their result.
var simpleOps = map[byte]op{
	code.OpI32Eqz: {"(%s == 0) and 1 or 0", 1, i32},
	code.OpI32Eq:  {"(%s == %s) and 1 or 0", 2, i32},
	code.OpI32Ne:  {"(%s ~= %s) and 1 or 0", 2, i32},
	code.OpI32LtS: {"(%s < %s) and 1 or 0", 2, i32},
	code.OpI32LtU: {"(%s %% 4294967296 < %s %% 4294967296) and 1 or 0", 2, i32},
	code.OpI32GtS: {"(%s > %s) and 1 or 0", 2, i32},
	code.OpI32GtU: {"(%s %% 4294967296 > %s %% 4294967296) and 1 or 0", 2, i32},
	code.OpI32LeS: {"(%s <= %s) and 1 or 0", 2, i32},
	code.OpI32LeU: {"(%s %% 4294967296 <= %s %% 4294967296) and 1 or 0", 2, i32},
	code.OpI32GeS: {"(%s >= %s) and 1 or 0", 2, i32},
	code.OpI32GeU: {"(%s %% 4294967296 >= %s %% 4294967296) and 1 or 0", 2, i32},

	code.OpI64Eqz: {"$i64_eqz(%s)", 1, i32},
	code.OpI64Eq:  {"$i64_eq(%s, %s)", 2, i32},
	code.OpI64Ne:  {"$i64_ne(%s, %s)", 2, i32},
	code.OpI64LtS: {"$i64_lt_s(%s, %s)", 2, i32},
	code.OpI64LtU: {"$i64_lt_u(%s, %s)", 2, i32},
	code.OpI64GtS: {"$i64_gt_s(%s, %s)", 2, i32},
	code.OpI64GtU: {"$i64_gt_u(%s, %s)", 2, i32},
	code.OpI64LeS: {"$i64_le_s(%s, %s)", 2, i32},
	code.OpI64LeU: {"$i64_le_u(%s, %s)", 2, i32},
	code.OpI64GeS: {"$i64_ge_s(%s, %s)", 2, i32},
	code.OpI64GeU: {"$i64_ge_u(%s, %s)", 2, i32},

	code.OpF32Eq: {"(%s == %s) and 1 or 0", 2, i32},
	code.OpF32Ne: {"(%s ~= %s) and 1 or 0", 2, i32},
	code.OpF32Lt: {"(%s < %s) and 1 or 0", 2, i32},
	code.OpF32Gt: {"(%s > %s) and 1 or 0", 2, i32},
	code.OpF32Le: {"(%s <= %s) and 1 or 0", 2, i32},
	code.OpF32Ge: {"(%s >= %s) and 1 or 0", 2, i32},
	code.OpF64Eq: {"(%s == %s) and 1 or 0", 2, i32},
	code.OpF64Ne: {"(%s ~= %s) and 1 or 0", 2, i32},
	code.OpF64Lt: {"(%s < %s) and 1 or 0", 2, i32},
	code.OpF64Gt: {"(%s > %s) and 1 or 0", 2, i32},
	code.OpF64Le: {"(%s <= %s) and 1 or 0", 2, i32},
	code.OpF64Ge: {"(%s >= %s) and 1 or 0", 2, i32},

	code.OpI32Clz:    {"$i32_clz(%s)", 1, i32},
	code.OpI32Ctz:    {"$i32_ctz(%s)", 1, i32},
	code.OpI32Popcnt: {"$i32_popcnt(%s)", 1, i32},
	code.OpI32Add:    {"$i32_add(%s, %s)", 2, i32},
	code.OpI32Sub:    {"$i32_sub(%s, %s)", 2, i32},
	code.OpI32Mul:    {"$i32_mul(%s, %s)", 2, i32},
	code.OpI32DivS:   {"$i32_div_s(%s, %s)", 2, i32},
	code.OpI32DivU:   {"$i32_div_u(%s, %s)", 2, i32},
	code.OpI32RemS:   {"$i32_rem_s(%s, %s)", 2, i32},
	code.OpI32RemU:   {"$i32_rem_u(%s, %s)", 2, i32},
	code.OpI32And:    {"$i32_and(%s, %s)", 2, i32},
	code.OpI32Or:     {"$i32_or(%s, %s)", 2, i32},
	code.OpI32Xor:    {"$i32_xor(%s, %s)", 2, i32},
	code.OpI32Shl:    {"$i32_shl(%s, %s)", 2, i32},
	code.OpI32ShrS:   {"$i32_shr_s(%s, %s)", 2, i32},
	code.OpI32ShrU:   {"$i32_shr_u(%s, %s)", 2, i32},
	code.OpI32Rotl:   {"$i32_rotl(%s, %s)", 2, i32},
	code.OpI32Rotr:   {"$i32_rotr(%s, %s)", 2, i32},

	code.OpI64Clz:    {"$i64_clz(%s)", 1, i64},
	code.OpI64Ctz:    {"$i64_ctz(%s)", 1, i64},
	code.OpI64Popcnt: {"$i64_popcnt(%s)", 1, i64},
	code.OpI64Add:    {"$i64_add(%s, %s)", 2, i64},
	code.OpI64Sub:    {"$i64_sub(%s, %s)", 2, i64},
	code.OpI64Mul:    {"$i64_mul(%s, %s)", 2, i64},
	code.OpI64DivS:   {"$i64_div_s(%s, %s)", 2, i64},
	code.OpI64DivU:   {"$i64_div_u(%s, %s)", 2, i64},
	code.OpI64RemS:   {"$i64_rem_s(%s, %s)", 2, i64},
	code.OpI64RemU:   {"$i64_rem_u(%s, %s)", 2, i64},
	code.OpI64And:    {"$i64_and(%s, %s)", 2, i64},
	code.OpI64Or:     {"$i64_or(%s, %s)", 2, i64},
	code.OpI64Xor:    {"$i64_xor(%s, %s)", 2, i64},
	code.OpI64Shl:    {"$i64_shl(%s, %s)", 2, i64},
	code.OpI64ShrS:   {"$i64_shr_s(%s, %s)", 2, i64},
	code.OpI64ShrU:   {"$i64_shr_u(%s, %s)", 2, i64},
	code.OpI64Rotl:   {"$i64_rotl(%s, %s)", 2, i64},
	code.OpI64Rotr:   {"$i64_rotr(%s, %s)", 2, i64},

	code.OpF32Abs:      {"$fabs(%s)", 1, f32},
	code.OpF32Neg:      {"$fneg(%s)", 1, f32},
	code.OpF32Ceil:     {"$fceil(%s)", 1, f32},
	code.OpF32Floor:    {"$ffloor(%s)", 1, f32},
	code.OpF32Trunc:    {"$ftrunc(%s)", 1, f32},
	code.OpF32Nearest:  {"$nearest(%s)", 1, f32},
	code.OpF32Sqrt:     {"$fround($fsqrt(%s))", 1, f32},
	code.OpF32Add:      {"$fround($fadd(%s, %s))", 2, f32},
	code.OpF32Sub:      {"$fround($fsub(%s, %s))", 2, f32},
	code.OpF32Mul:      {"$fround($fmul(%s, %s))", 2, f32},
	code.OpF32Div:      {"$fround($fdiv(%s, %s))", 2, f32},
	code.OpF32Min:      {"$fmin(%s, %s)", 2, f32},
	code.OpF32Max:      {"$fmax(%s, %s)", 2, f32},
	code.OpF32Copysign: {"$copysign(%s, %s)", 2, f32},

	code.OpF64Abs:      {"$fabs(%s)", 1, f64},
	code.OpF64Neg:      {"$fneg(%s)", 1, f64},
	code.OpF64Ceil:     {"$fceil(%s)", 1, f64},
	code.OpF64Floor:    {"$ffloor(%s)", 1, f64},
	code.OpF64Trunc:    {"$ftrunc(%s)", 1, f64},
	code.OpF64Nearest:  {"$nearest(%s)", 1, f64},
	code.OpF64Sqrt:     {"$fsqrt(%s)", 1, f64},
	code.OpF64Add:      {"$fadd(%s, %s)", 2, f64},
	code.OpF64Sub:      {"$fsub(%s, %s)", 2, f64},
	code.OpF64Mul:      {"$fmul(%s, %s)", 2, f64},
	code.OpF64Div:      {"$fdiv(%s, %s)", 2, f64},
	code.OpF64Min:      {"$fmin(%s, %s)", 2, f64},
	code.OpF64Max:      {"$fmax(%s, %s)", 2, f64},
	code.OpF64Copysign: {"$copysign(%s, %s)", 2, f64},

	code.OpI32WrapI64:        {"$i32_wrap_i64(%s)", 1, i32},
	code.OpI32TruncF32S:      {"$i32_trunc_s(%s)", 1, i32},
	code.OpI32TruncF32U:      {"$i32_trunc_u(%s)", 1, i32},
	code.OpI32TruncF64S:      {"$i32_trunc_s(%s)", 1, i32},
	code.OpI32TruncF64U:      {"$i32_trunc_u(%s)", 1, i32},
	code.OpI64ExtendI32S:     {"$i64_extend_i32_s(%s)", 1, i64},
	code.OpI64ExtendI32U:     {"$i64_extend_i32_u(%s)", 1, i64},
	code.OpI64TruncF32S:      {"$i64_trunc_s(%s)", 1, i64},
	code.OpI64TruncF32U:      {"$i64_trunc_u(%s)", 1, i64},
	code.OpI64TruncF64S:      {"$i64_trunc_s(%s)", 1, i64},
	code.OpI64TruncF64U:      {"$i64_trunc_u(%s)", 1, i64},
	code.OpF32ConvertI32S:    {"$f32_convert_i32_s(%s)", 1, f32},
	code.OpF32ConvertI32U:    {"$f32_convert_i32_u(%s)", 1, f32},
	code.OpF32ConvertI64S:    {"$f32_convert_i64_s(%s)", 1, f32},
	code.OpF32ConvertI64U:    {"$f32_convert_i64_u(%s)", 1, f32},
	code.OpF32DemoteF64:      {"$fround(%s)", 1, f32},
	code.OpF64ConvertI32U:    {"$f64_convert_i32_u(%s)", 1, f64},
	code.OpF64ConvertI64S:    {"$f64_convert_i64_s(%s)", 1, f64},
	code.OpF64ConvertI64U:    {"$f64_convert_i64_u(%s)", 1, f64},
	code.OpI32ReinterpretF32: {"$i32_reinterpret_f32(%s)", 1, i32},
	code.OpI64ReinterpretF64: {"$i64_reinterpret_f64(%s)", 1, i64},
	code.OpF32ReinterpretI32: {"$f32_reinterpret_i32(%s)", 1, f32},
	code.OpF64ReinterpretI64: {"$f64_reinterpret_i64(%s)", 1, f64},
	code.OpI32Extend8S:       {"$i32_extend8_s(%s)", 1, i32},
	code.OpI32Extend16S:      {"$i32_extend16_s(%s)", 1, i32},
	code.OpI64Extend8S:       {"$i64_extend8_s(%s)", 1, i64},
	code.OpI64Extend16S:      {"$i64_extend16_s(%s)", 1, i64},
	code.OpI64Extend32S:      {"$i64_extend32_s(%s)", 1, i64},

	code.OpRefIsNull: {"(%s == nil) and 1 or 0", 1, i32},
}

// prefixOps maps the pure prefixed instructions to their Lua expressions.
var prefixOps = map[uint32]op{
	code.OpI32TruncSatF32S: {"$i32_trunc_sat_s(%s)", 1, i32},
	code.OpI32TruncSatF32U: {"$i32_trunc_sat_u(%s)", 1, i32},
	code.OpI32TruncSatF64S: {"$i32_trunc_sat_s(%s)", 1, i32},
	code.OpI32TruncSatF64U: {"$i32_trunc_sat_u(%s)", 1, i32},
	code.OpI64TruncSatF32S: {"$i64_trunc_sat_s(%s)", 1, i64},
	code.OpI64TruncSatF32U: {"$i64_trunc_sat_u(%s)", 1, i64},
	code.OpI64TruncSatF64S: {"$i64_trunc_sat_s(%s)", 1, i64},
	code.OpI64TruncSatF64U: {"$i64_trunc_sat_u(%s)", 1, i64},
}

type memoryOp struct {
	helper string
	typ    wasm.ValueType
}

var loadOps = map[byte]memoryOp{
	code.OpI32Load:    {"i32_load", i32},
	code.OpI64Load:    {"i64_load", i64},
	code.OpF32Load:    {"f32_load", f32},
	code.OpF64Load:    {"f64_load", f64},
	code.OpI32Load8S:  {"load8_s", i32},
	code.OpI32Load8U:  {"load8_u", i32},
	code.OpI32Load16S: {"load16_s", i32},
	code.OpI32Load16U: {"load16_u", i32},
	code.OpI64Load8S:  {"i64_load8_s", i64},
	code.OpI64Load8U:  {"i64_load8_u", i64},
	code.OpI64Load16S: {"i64_load16_s", i64},
	code.OpI64Load16U: {"i64_load16_u", i64},
	code.OpI64Load32S: {"i64_load32_s", i64},
	code.OpI64Load32U: {"i64_load32_u", i64},
}

var storeOps = map[byte]string{
	code.OpI32Store:   "i32_store",
	code.OpI64Store:   "i64_store",
	code.OpF32Store:   "f32_store",
	code.OpF64Store:   "f64_store",
	code.OpI32Store8:  "store8",
	code.OpI32Store16: "store16",
	code.OpI64Store8:  "i64_store8",
	code.OpI64Store16: "i64_store16",
	code.OpI64Store32: "i64_store32",
}

func (f *functionCompiler) simple(o op) {
	args := f.popN(o.args)
	dst := f.push(o.result)
	f.line("%s = %s", dst, fmt.Sprintf(f.helper(o.format), strs(args)...))
}

func strs(ss []string) []interface{} {
	is := make([]interface{}, len(ss))
	for i, s := range ss {
		is[i] = s
	}
	return is
}

func (f *functionCompiler) instruction(ip int, instr code.Instruction) {
	if o, ok := simpleOps[instr.Opcode]; ok {
		f.simple(o)
		return
	}
	if o, ok := loadOps[instr.Opcode]; ok {
		addr := f.pop().expr
		f.line("%s = %s_%s(m.mem0, %s, %d)", f.push(o.typ), f.m.opts.prefix, o.helper, addr, instr.Offset())
		return
	}
	if helper, ok := storeOps[instr.Opcode]; ok {
		args := f.popN(2)
		f.line("%s_%s(m.mem0, %s, %d, %s)", f.m.opts.prefix, helper, args[0], instr.Offset(), args[1])
		return
	}

	p := f.m.opts.prefix
	switch instr.Opcode {
	case code.OpUnreachable:
		f.line("%s_trap(\"unreachable\")", p)
		f.top().unreachable = true

	case code.OpNop:

	case code.OpBlock:
		f.materializeAll()
		if f.enter(ip, instr).lowered {
			f.line("repeat")
			f.indent++
		}

	case code.OpLoop:
		f.materializeAll()
		if f.enter(ip, instr).lowered {
			f.line("while true do")
			f.indent++
			f.line("repeat")
			f.indent++
		}

	case code.OpIf:
		cond := f.pop().expr
		f.materializeAll()
		fr := f.enter(ip, instr)
		if fr.lowered {
			f.line("repeat")
			f.indent++
		}
		f.line("if %s ~= 0 then", cond)
		f.indent++

	case code.OpElse:
		f.elseInstruction()

	case code.OpEnd:
		f.endInstruction()

	case code.OpBr:
		f.branch(instr.Labelidx())
		f.top().unreachable = true

	case code.OpBrIf:
		cond := f.pop()
		if cond.constant {
			if cond.i32 != 0 {
				f.branch(instr.Labelidx())
				f.top().unreachable = true
			}
			return
		}
		f.line("if %s ~= 0 then", cond.expr)
		f.indent++
		f.branch(instr.Labelidx())
		f.indent--
		f.line("end")

	case code.OpBrTable:
		f.brTable(instr)

	case code.OpReturn:
		f.emitReturn(f.topExprs(len(f.sig.ReturnTypes)))
		f.top().unreachable = true

	case code.OpCall:
		funcidx := instr.Funcidx()
		if int(funcidx) >= len(f.m.module.Functions) {
			f.stackError("function index %d out of range", funcidx)
		}
		callee, self := f.m.callee(funcidx)
		f.call(callee, f.m.module.Signature(funcidx), self)

	case code.OpCallIndirect:
		sig, ok := f.scope.GetType(instr.Typeidx())
		if !ok {
			f.stackError("type index %d out of range", instr.Typeidx())
		}
		idx := f.pop().expr
		f.call(fmt.Sprintf("%s_callee(m.table%d, %s, %q)", p, instr.Tableidx(), idx, sig.Key()), sig, false)

	case code.OpDrop:
		f.pop()

	case code.OpSelect, code.OpSelectT:
		f.selectInstruction()

	case code.OpLocalGet:
		localidx := instr.Localidx()
		t := f.localType(localidx)
		f.pushLazy(value{typ: t, expr: f.localName(localidx), local: int(localidx)})

	case code.OpLocalSet, code.OpLocalTee:
		localidx := instr.Localidx()
		t := f.localType(localidx)
		v := f.pop()
		f.materializeLocal(localidx)
		if name := f.localName(localidx); v.expr != name {
			f.line("%s = %s", name, v.expr)
		}
		if instr.Opcode == code.OpLocalTee {
			f.pushLazy(value{typ: t, expr: f.localName(localidx), local: int(localidx)})
		}

	case code.OpGlobalGet:
		globalidx := instr.Globalidx()
		if int(globalidx) >= len(f.m.module.Globals) {
			f.stackError("global index %d out of range", globalidx)
		}
		f.line("%s = %s", f.push(f.m.globalType(globalidx)), f.m.globalRef(globalidx))

	case code.OpGlobalSet:
		globalidx := instr.Globalidx()
		if int(globalidx) >= len(f.m.module.Globals) {
			f.stackError("global index %d out of range", globalidx)
		}
		f.line("%s = %s", f.m.globalRef(globalidx), f.pop().expr)

	case code.OpTableGet:
		i := f.pop().expr
		f.line("%s = %s_table_get(m.table%d, %s)", f.push(f.m.tableType(instr.Tableidx())), p, instr.Tableidx(), i)

	case code.OpTableSet:
		args := f.popN(2)
		f.line("%s_table_set(m.table%d, %s, %s)", p, instr.Tableidx(), args[0], args[1])

	case code.OpMemorySize:
		f.line("%s = m.mem0.pages", f.push(i32))

	case code.OpMemoryGrow:
		delta := f.pop().expr
		f.line("%s = %s_memory_grow(m.mem0, %s)", f.push(i32), p, delta)

	case code.OpI32Const:
		v := instr.I32()
		f.pushLazy(value{typ: i32, expr: i32Const(v), local: -1, constant: true, i32: v})

	case code.OpI64Const:
		f.pushConst(i64, i64Const(p, instr.I64()))

	case code.OpF32Const:
		f.pushConst(f32, f32Const(p, instr.F32()))

	case code.OpF64Const:
		f.pushConst(f64, f64Const(p, instr.F64()))

	case code.OpF64ConvertI32S, code.OpF64PromoteF32:
		if len(f.stack) <= f.top().height {
			f.stackError("value stack underflow")
		}
		v := &f.stack[len(f.stack)-1]
		v.typ, v.constant = f64, false

	case code.OpRefNull:
		f.pushConst(wasm.ValueType(instr.Immediate), "nil")

	case code.OpRefFunc:
		f.pushConst(wasm.ValueTypeFuncref, fmt.Sprintf("m.r%d", instr.Funcidx()))

	case code.OpPrefix:
		f.prefixInstruction(instr)

	default:
		f.unsupported(instr)
	}
}

func (f *functionCompiler) prefixInstruction(instr code.Instruction) {
	if o, ok := prefixOps[instr.Subopcode()]; ok {
		f.simple(o)
		return
	}

	p := f.m.opts.prefix
	switch instr.Subopcode() {
	case code.OpMemoryCopy:
		args := f.popN(3)
		f.line("%s_memory_copy(m.mem0, m.mem0, %s, %s, %s)", p, args[0], args[1], args[2])
	case code.OpMemoryFill:
		args := f.popN(3)
		f.line("%s_memory_fill(m.mem0, %s, %s, %s)", p, args[0], args[1], args[2])
	case code.OpTableGrow:
		args := f.popN(2)
		f.line("%s = %s_table_grow(m.table%d, %s, %s)", f.push(i32), p, instr.Tableidx(), args[0], args[1])
	case code.OpTableSize:
		f.line("%s = %s_table_size(m.table%d)", f.push(i32), p, instr.Tableidx())
	case code.OpTableFill:
		args := f.popN(3)
		f.line("%s_table_fill(m.table%d, %s, %s, %s)", p, instr.Tableidx(), args[0], args[1], args[2])
	default:
		f.unsupported(instr)
	}
}

func (f *functionCompiler) localType(localidx uint32) wasm.ValueType {
	if int(localidx) >= len(f.locals) {
		f.stackError("local index %d out of range", localidx)
	}
	return f.locals[localidx]
}

// call emits a call to callee. Generated functions take the instance record as their first
// argument; imports and table entries do not.
func (f *functionCompiler) call(callee string, sig wasm.FunctionSig, self bool) {
	args := f.popN(len(sig.ParamTypes))
	if self {
		args = append([]string{"m"}, args...)
	}

	results := make([]string, len(sig.ReturnTypes))
	for i, t := range sig.ReturnTypes {
		results[i] = f.push(t)
	}

	if len(results) == 0 {
		f.line("%s(%s)", callee, strings.Join(args, ", "))
	} else {
		f.line("%s = %s(%s)", strings.Join(results, ", "), callee, strings.Join(args, ", "))
	}
}

func (f *functionCompiler) selectInstruction() {
	cond := f.pop()
	b := f.pop()
	a := f.pop()

	if cond.constant && cond.i32 != 0 {
		if a.lazy() {
			f.pushLazy(a)
		} else {
			f.push(a.typ)
		}
		return
	}

	dst := f.push(a.typ)
	if cond.constant {
		if dst != b.expr {
			f.line("%s = %s", dst, b.expr)
		}
		return
	}

	if a.expr == dst {
		f.line("if %s == 0 then", cond.expr)
		f.line("\t%s = %s", dst, b.expr)
		f.line("end")
		return
	}
	f.line("if %s == 0 then", cond.expr)
	f.line("\t%s = %s", dst, b.expr)
	f.line("else")
	f.line("\t%s = %s", dst, a.expr)
	f.line("end")
}

// brTable emits a chain of conditionals over the index. Consecutive indices with the same target
// share an arm, and arms that branch to the default target are folded into the final else.
func (f *functionCompiler) brTable(instr code.Instruction) {
	idx := f.pop()
	labels, def := instr.Labels, instr.Default()

	if idx.constant {
		target := def
		if i := uint32(idx.i32); uint64(i) < uint64(len(labels)) {
			target = labels[i]
		}
		f.branch(target)
		f.top().unreachable = true
		return
	}

	arms := 0
	for i := 0; i < len(labels); {
		j := i
		for j+1 < len(labels) && labels[j+1] == labels[i] {
			j++
		}
		if labels[i] != def {
			keyword := "elseif"
			if arms == 0 {
				keyword = "if"
			}
			if i == j {
				f.line("%s %s == %d then", keyword, idx.expr, i)
			} else {
				f.line("%s %s >= %d and %s <= %d then", keyword, idx.expr, i, idx.expr, j)
			}
			f.indent++
			f.branch(labels[i])
			f.indent--
			arms++
		}
		i = j + 1
	}

	if arms == 0 {
		f.branch(def)
	} else {
		f.line("else")
		f.indent++
		f.branch(def)
		f.indent--
		f.line("end")
	}
	f.top().unreachable = true
}

// emit writes the complete function definition to w.
func (f *functionCompiler) emit(w *bytes.Buffer) {
	start := w.Len()

	params := make([]string, 0, len(f.sig.ParamTypes)+1)
	params = append(params, "m")
	for i := range f.sig.ParamTypes {
		params = append(params, f.localName(uint32(i)))
	}
	fmt.Fprintf(w, "function %s_%s(%s)\n", f.m.opts.prefix, f.name, strings.Join(params, ", "))

	nparams := len(f.sig.ParamTypes)
	if f.spill {
		if len(f.locals) > nparams {
			inits := make([]string, 0, len(f.locals)-nparams)
			for i := nparams; i < len(f.locals); i++ {
				inits = append(inits, fmt.Sprintf("[%d] = %s", i, zeroValue(f.m.opts.prefix, f.locals[i])))
			}
			fmt.Fprintf(w, "\tlocal l = {%s}\n", strings.Join(inits, ", "))
		}
		if f.stats.MaxStack != 0 {
			w.WriteString("\tlocal s = {}\n")
		}
	} else {
		for i := nparams; i < len(f.locals); i++ {
			fmt.Fprintf(w, "\tlocal %s = %s\n", f.localName(uint32(i)), zeroValue(f.m.opts.prefix, f.locals[i]))
		}
		for i := 0; i < f.stats.MaxStack; i += 16 {
			end := i + 16
			if end > f.stats.MaxStack {
				end = f.stats.MaxStack
			}
			names := make([]string, 0, end-i)
			for j := i; j < end; j++ {
				names = append(names, f.slotName(j))
			}
			fmt.Fprintf(w, "\tlocal %s\n", strings.Join(names, ", "))
		}
	}
	if f.usesBr {
		w.WriteString("\tlocal br\n")
	}

	w.Write(f.buf.Bytes())
	w.WriteString("end\n\n")

	f.stats.Bytes = w.Len() - start
}
