package lua_test

import (
	"math"

	"github.com/pgavlin/wasm2lua/exec"
)

// The functions in this file compute the WebAssembly semantics of the float operations natively.

func fmax(z1, z2 float64) float64 {
	if math.IsNaN(z1) {
		return z1
	}
	if math.IsNaN(z2) {
		return z2
	}
	return math.Max(z1, z2)
}

func fmin(z1, z2 float64) float64 {
	if math.IsNaN(z1) {
		return z1
	}
	if math.IsNaN(z2) {
		return z2
	}
	return math.Min(z1, z2)
}

func i32TruncS(z float64) (int32, error) {
	z = math.Trunc(z)
	if math.IsNaN(z) {
		return 0, exec.TrapInvalidConversionToInteger
	}
	if z < math.MinInt32 || z > math.MaxInt32 {
		return 0, exec.TrapIntegerOverflow
	}
	return int32(z), nil
}

func i32TruncU(z float64) (uint32, error) {
	z = math.Trunc(z)
	if math.IsNaN(z) {
		return 0, exec.TrapInvalidConversionToInteger
	}
	if z <= -1 || z > math.MaxUint32 {
		return 0, exec.TrapIntegerOverflow
	}
	return uint32(z), nil
}

func i64TruncS(z float64) (int64, error) {
	z = math.Trunc(z)
	if math.IsNaN(z) {
		return 0, exec.TrapInvalidConversionToInteger
	}
	if z < math.MinInt64 || z >= math.MaxInt64 {
		return 0, exec.TrapIntegerOverflow
	}
	return int64(z), nil
}

func i64TruncU(z float64) (uint64, error) {
	z = math.Trunc(z)
	if math.IsNaN(z) {
		return 0, exec.TrapInvalidConversionToInteger
	}
	if z <= -1 || z >= math.MaxUint64 {
		return 0, exec.TrapIntegerOverflow
	}
	return uint64(z), nil
}

func i32TruncSatS(z float64) int32 {
	switch {
	case math.IsNaN(z):
		return 0
	case math.IsInf(z, -1) || z <= math.MinInt32:
		return math.MinInt32
	case math.IsInf(z, 1) || z >= math.MaxInt32:
		return math.MaxInt32
	default:
		return int32(z)
	}
}

func i32TruncSatU(z float64) uint32 {
	switch {
	case math.IsNaN(z) || math.IsInf(z, -1) || z < 0:
		return 0
	case math.IsInf(z, 1) || z >= math.MaxUint32:
		return math.MaxUint32
	default:
		return uint32(z)
	}
}

func i64TruncSatS(z float64) int64 {
	switch {
	case math.IsNaN(z):
		return 0
	case math.IsInf(z, -1) || z <= math.MinInt64:
		return math.MinInt64
	case math.IsInf(z, 1) || z >= math.MaxInt64:
		return math.MaxInt64
	default:
		return int64(z)
	}
}

func i64TruncSatU(z float64) uint64 {
	switch {
	case math.IsNaN(z) || math.IsInf(z, -1) || z < 0:
		return 0
	case math.IsInf(z, 1) || z >= math.MaxUint64:
		return math.MaxUint64
	default:
		return uint64(z)
	}
}
