package wasm

import (
	"fmt"
	"strings"
)

// ValueType represents the type of a valid value in WebAssembly.
type ValueType byte

const (
	// ValueTypeT is a polymorphic placeholder used where an operand may have any type.
	ValueTypeT ValueType = 0

	ValueTypeI32       ValueType = 0x7f
	ValueTypeI64       ValueType = 0x7e
	ValueTypeF32       ValueType = 0x7d
	ValueTypeF64       ValueType = 0x7c
	ValueTypeFuncref   ValueType = 0x70
	ValueTypeExternref ValueType = 0x6f
)

var valueTypeStrMap = map[ValueType]string{
	ValueTypeT:         "t",
	ValueTypeI32:       "i32",
	ValueTypeI64:       "i64",
	ValueTypeF32:       "f32",
	ValueTypeF64:       "f64",
	ValueTypeFuncref:   "funcref",
	ValueTypeExternref: "externref",
}

func (t ValueType) String() string {
	if s, ok := valueTypeStrMap[t]; ok {
		return s
	}
	return fmt.Sprintf("<unknown value_type %d>", byte(t))
}

// IsReference returns true if values of this type are references.
func (t ValueType) IsReference() bool {
	return t == ValueTypeFuncref || t == ValueTypeExternref
}

// Key returns the single-character key of the type used in function type keys.
func (t ValueType) Key() byte {
	switch t {
	case ValueTypeI32:
		return 'i'
	case ValueTypeI64:
		return 'I'
	case ValueTypeF32:
		return 'f'
	case ValueTypeF64:
		return 'F'
	case ValueTypeFuncref:
		return 'a'
	case ValueTypeExternref:
		return 'e'
	default:
		return '?'
	}
}

// ParseValueTypeKey is the inverse of ValueType.Key.
func ParseValueTypeKey(c byte) (ValueType, bool) {
	switch c {
	case 'i':
		return ValueTypeI32, true
	case 'I':
		return ValueTypeI64, true
	case 'f':
		return ValueTypeF32, true
	case 'F':
		return ValueTypeF64, true
	case 'a':
		return ValueTypeFuncref, true
	case 'e':
		return ValueTypeExternref, true
	default:
		return 0, false
	}
}

// FunctionSig describes the signature of a declared function in a WASM module.
type FunctionSig struct {
	ParamTypes  []ValueType
	ReturnTypes []ValueType
}

func (f FunctionSig) String() string {
	var b strings.Builder
	b.WriteString("(")
	for i, t := range f.ParamTypes {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.String())
	}
	b.WriteString(") -> (")
	for i, t := range f.ReturnTypes {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.String())
	}
	b.WriteString(")")
	return b.String()
}

// Equals returns true if the two signatures have identical parameter and result types.
func (f FunctionSig) Equals(other FunctionSig) bool {
	return f.Key() == other.Key()
}

// Key returns a compact, stable identity for the signature. Two signatures are equal exactly
// when their keys are equal. The key has the form "p<params>r<results>".
func (f FunctionSig) Key() string {
	b := make([]byte, 0, len(f.ParamTypes)+len(f.ReturnTypes)+2)
	b = append(b, 'p')
	for _, t := range f.ParamTypes {
		b = append(b, t.Key())
	}
	b = append(b, 'r')
	for _, t := range f.ReturnTypes {
		b = append(b, t.Key())
	}
	return string(b)
}

// ParseSignatureKey decodes a key produced by FunctionSig.Key.
func ParseSignatureKey(key string) (FunctionSig, error) {
	if len(key) == 0 || key[0] != 'p' {
		return FunctionSig{}, fmt.Errorf("malformed signature key %q", key)
	}
	r := strings.IndexByte(key, 'r')
	if r < 0 {
		return FunctionSig{}, fmt.Errorf("malformed signature key %q", key)
	}

	var sig FunctionSig
	for i := 1; i < len(key); i++ {
		if i == r {
			continue
		}
		t, ok := ParseValueTypeKey(key[i])
		if !ok {
			return FunctionSig{}, fmt.Errorf("malformed signature key %q", key)
		}
		if i < r {
			sig.ParamTypes = append(sig.ParamTypes, t)
		} else {
			sig.ReturnTypes = append(sig.ReturnTypes, t)
		}
	}
	return sig, nil
}

// GlobalVar describes the type and mutability of a declared global variable.
type GlobalVar struct {
	Type    ValueType
	Mutable bool
}

// Limits describe the minimum and optional maximum size of a memory or table.
type Limits struct {
	Initial    uint32
	Maximum    uint32
	HasMaximum bool
}

// External describes the kind of the entry being imported or exported.
type External byte

const (
	ExternalFunction External = 0
	ExternalTable    External = 1
	ExternalMemory   External = 2
	ExternalGlobal   External = 3
)

func (e External) String() string {
	switch e {
	case ExternalFunction:
		return "func"
	case ExternalTable:
		return "table"
	case ExternalMemory:
		return "memory"
	case ExternalGlobal:
		return "global"
	default:
		return "<unknown external_kind " + fmt.Sprint(byte(e)) + ">"
	}
}

// PageSize is the size of a WebAssembly memory page in bytes.
const PageSize = 65536

// MaxPages is the maximum number of pages addressable by a 32-bit memory.
const MaxPages = 65536
