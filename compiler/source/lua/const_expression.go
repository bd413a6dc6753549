package lua

import (
	"fmt"
	"strings"

	"github.com/pgavlin/wasm2lua/wasm"
	"github.com/pgavlin/wasm2lua/wasm/code"
)

type constExpression struct {
	instr code.Instruction
	uses  []*constExpression
	typ   wasm.ValueType
}

type constExpressionCompiler struct {
	m      *moduleCompiler
	code   []code.Instruction
	want   wasm.ValueType
	stack  []*constExpression
	result *constExpression
}

func (c *constExpressionCompiler) compile() error {
	// Compile the expression body into an expression tree.
	for _, i := range c.code {
		if err := c.compileInstruction(i); err != nil {
			return err
		}
	}
	if len(c.stack) != 0 {
		c.result = c.stack[len(c.stack)-1]
		if c.result.typ != c.want {
			return fmt.Errorf("constant expression has type %v, expected %v", c.result.typ, c.want)
		}
	}
	return nil
}

// emit returns the Lua expression for the compiled constant expression. An empty expression
// evaluates to the zero value of the expected type.
func (c *constExpressionCompiler) emit() string {
	if c.result == nil {
		return zeroValue(c.m.opts.prefix, c.want)
	}

	var sb strings.Builder
	c.emitConstExpression(&sb, c.result)
	return sb.String()
}

func (c *constExpressionCompiler) compileInstruction(instr code.Instruction) error {
	x := &constExpression{instr: instr}

	uses := 0
	switch instr.Opcode {
	case code.OpGlobalGet:
		if int(instr.Globalidx()) >= len(c.m.module.Globals) {
			return fmt.Errorf("global index %d out of range in constant expression", instr.Globalidx())
		}
		x.typ = c.m.globalType(instr.Globalidx())
	case code.OpI32Const:
		x.typ = wasm.ValueTypeI32
	case code.OpI64Const:
		x.typ = wasm.ValueTypeI64
	case code.OpF32Const:
		x.typ = wasm.ValueTypeF32
	case code.OpF64Const:
		x.typ = wasm.ValueTypeF64
	case code.OpRefNull:
		x.typ = wasm.ValueType(instr.Immediate)
	case code.OpRefFunc:
		x.typ = wasm.ValueTypeFuncref
	case code.OpI32Add, code.OpI32Sub, code.OpI32Mul:
		x.typ, uses = wasm.ValueTypeI32, 2
	case code.OpI64Add, code.OpI64Sub, code.OpI64Mul:
		x.typ, uses = wasm.ValueTypeI64, 2
	case code.OpEnd:
		return nil
	default:
		return fmt.Errorf("unexpected instruction %v in constant expression", instr.OpString())
	}

	// Pop uses.
	if uses > 0 {
		if len(c.stack) < uses {
			return fmt.Errorf("constant expression stack underflow at %v", instr.OpString())
		}
		first := len(c.stack) - uses
		for _, operand := range c.stack[first:] {
			if operand.typ != x.typ {
				return fmt.Errorf("%v operand has type %v", instr.OpString(), operand.typ)
			}
		}
		x.uses = append([]*constExpression(nil), c.stack[first:]...)
		c.stack = c.stack[:first]
	}

	// Push the def.
	c.stack = append(c.stack, x)
	return nil
}

func (c *constExpressionCompiler) emitConstExpression(sb *strings.Builder, x *constExpression) {
	p := c.m.opts.prefix

	switch x.instr.Opcode {
	case code.OpGlobalGet:
		sb.WriteString(c.m.globalRef(x.instr.Globalidx()))
	case code.OpI32Const:
		sb.WriteString(i32Const(x.instr.I32()))
	case code.OpI64Const:
		sb.WriteString(i64Const(p, x.instr.I64()))
	case code.OpF32Const:
		sb.WriteString(f32Const(p, x.instr.F32()))
	case code.OpF64Const:
		sb.WriteString(f64Const(p, x.instr.F64()))
	case code.OpRefNull:
		sb.WriteString("nil")
	case code.OpRefFunc:
		fmt.Fprintf(sb, "m.r%d", x.instr.Funcidx())
	default:
		var op string
		switch x.instr.Opcode {
		case code.OpI32Add:
			op = "i32_add"
		case code.OpI32Sub:
			op = "i32_sub"
		case code.OpI32Mul:
			op = "i32_mul"
		case code.OpI64Add:
			op = "i64_add"
		case code.OpI64Sub:
			op = "i64_sub"
		case code.OpI64Mul:
			op = "i64_mul"
		}
		fmt.Fprintf(sb, "%s_%s(", p, op)
		c.emitConstExpression(sb, x.uses[0])
		sb.WriteString(", ")
		c.emitConstExpression(sb, x.uses[1])
		sb.WriteString(")")
	}
}
