package lua

// runtimeSource is the runtime preamble shared by every generated module. It defines the numeric
// emulation layer (i32 wraparound, i64 as {lo, hi} pairs of unsigned 32-bit halves, binary32
// rounding, conversions and reinterpretation), the memory and table runtime and the trap routine.
//
// Every field of rt is published as a global named "<prefix>_<field>" by the epilogue written in
// module.go. Generated code only refers to the published names.
const runtimeSource = `local rt = {}

local floor, ceil, abs, sqrt, fmod = math.floor, math.ceil, math.abs, math.sqrt, math.fmod
local frexp, ldexp = math.frexp, math.ldexp
local sbyte, error, tonumber = string.byte, error, tonumber

local TWO16 = 65536
local TWO31 = 2147483648
local TWO32 = 4294967296
local POW2 = {}
do
	local v = 1
	for i = 0, 64 do
		POW2[i] = v
		v = v * 2
	end
end
local TWO52 = POW2[52]
local TWO63 = POW2[63]
local TWO64 = POW2[64]
local TWO128 = POW2[64] * POW2[64]
-- math.huge is the largest finite double in this runtime, not infinity.
local huge = 1 / 0
local NAN = 0 / 0

-- The VM stores every zero produced by an arithmetic instruction as +0. Values returned by
-- library functions and values copied between variables keep their sign, so -0 is parsed once
-- here and zero results that must be negative are rebuilt from it.
local NEG_ZERO = tonumber("-0.0")

rt.inf = huge
rt.nan = NAN
rt.neg_zero = NEG_ZERO

function rt.trap(kind)
	error("wasm trap: " .. kind, 0)
end
local trap = rt.trap

local function link(module, field, msg)
	error("wasm link: " .. msg .. " " .. module .. "." .. field, 0)
end

local function import(imports, module, field, kind)
	local m = imports and imports[module]
	local v = m and m[field]
	if v == nil then
		link(module, field, "unknown import (" .. kind .. ")")
	end
	return v
end

function rt.import_func(imports, module, field)
	local f = import(imports, module, field, "func")
	if type(f) ~= "function" then
		link(module, field, "incompatible import type")
	end
	return f
end

function rt.import_global(imports, module, field)
	local g = import(imports, module, field, "global")
	if type(g) ~= "table" then
		link(module, field, "incompatible import type")
	end
	return g
end

function rt.import_memory(imports, module, field, initial, maximum)
	local mem = import(imports, module, field, "memory")
	if type(mem) ~= "table" or mem.data == nil or mem.pages < initial or (maximum ~= nil and mem.max > maximum) then
		link(module, field, "incompatible import type")
	end
	return mem
end

function rt.import_table(imports, module, field, initial, maximum)
	local tbl = import(imports, module, field, "table")
	if type(tbl) ~= "table" or tbl.elems == nil or tbl.size < initial or (maximum ~= nil and tbl.max > maximum) then
		link(module, field, "incompatible import type")
	end
	return tbl
end

-- i32 values are numbers in [-2^31, 2^31). Zero is always +0.

local function wrap32(x)
	x = x % TWO32
	if x >= TWO31 then
		return x - TWO32
	end
	return x + 0
end

local function trunc(x)
	if x >= 0 then
		return floor(x)
	end
	return ceil(x)
end

local AND4, OR4, XOR4 = {}, {}, {}
for a = 0, 15 do
	for b = 0, 15 do
		local rand, ror, rxor, bit = 0, 0, 0, 1
		local x, y = a, b
		for _ = 1, 4 do
			local xb, yb = x % 2, y % 2
			if xb == 1 and yb == 1 then
				rand = rand + bit
			end
			if xb == 1 or yb == 1 then
				ror = ror + bit
			end
			if xb ~= yb then
				rxor = rxor + bit
			end
			x, y, bit = (x - xb) / 2, (y - yb) / 2, bit * 2
		end
		AND4[a * 16 + b], OR4[a * 16 + b], XOR4[a * 16 + b] = rand, ror, rxor
	end
end

-- bitop applies a 4-bit lookup table to each nibble of two unsigned 32-bit values.
local function bitop(t, a, b)
	local r, p = 0, 1
	for _ = 1, 8 do
		local an, bn = a % 16, b % 16
		r = r + t[an * 16 + bn] * p
		a, b, p = (a - an) / 16, (b - bn) / 16, p * 16
	end
	return r
end

function rt.i32_add(a, b)
	return wrap32(a + b)
end

function rt.i32_sub(a, b)
	return wrap32(a - b)
end

function rt.i32_mul(a, b)
	a, b = a % TWO32, b % TWO32
	local al = a % TWO16
	local ah = (a - al) / TWO16
	return wrap32(al * b + ((ah * b) % TWO16) * TWO16)
end

function rt.i32_div_s(a, b)
	if b == 0 then
		trap("integer divide by zero")
	end
	if a == -TWO31 and b == -1 then
		trap("integer overflow")
	end
	return trunc(a / b) + 0
end

function rt.i32_div_u(a, b)
	if b == 0 then
		trap("integer divide by zero")
	end
	return wrap32(floor((a % TWO32) / (b % TWO32)))
end

function rt.i32_rem_s(a, b)
	if b == 0 then
		trap("integer divide by zero")
	end
	return fmod(a, b) + 0
end

function rt.i32_rem_u(a, b)
	if b == 0 then
		trap("integer divide by zero")
	end
	return wrap32(fmod(a % TWO32, b % TWO32))
end

function rt.i32_and(a, b)
	return wrap32(bitop(AND4, a % TWO32, b % TWO32))
end

function rt.i32_or(a, b)
	return wrap32(bitop(OR4, a % TWO32, b % TWO32))
end

function rt.i32_xor(a, b)
	return wrap32(bitop(XOR4, a % TWO32, b % TWO32))
end

function rt.i32_shl(a, b)
	local k = b % 32
	return wrap32((a % POW2[32 - k]) * POW2[k])
end

function rt.i32_shr_s(a, b)
	return floor(a / POW2[b % 32]) + 0
end

function rt.i32_shr_u(a, b)
	return wrap32(floor((a % TWO32) / POW2[b % 32]))
end

function rt.i32_rotl(a, b)
	local k = b % 32
	a = a % TWO32
	local low = a % POW2[32 - k]
	return wrap32(low * POW2[k] + (a - low) / POW2[32 - k])
end

function rt.i32_rotr(a, b)
	return rt.i32_rotl(a, 32 - b % 32)
end

function rt.i32_clz(a)
	a = a % TWO32
	if a == 0 then
		return 32
	end
	local n = 0
	while a < TWO31 do
		a, n = a * 2, n + 1
	end
	return n
end

function rt.i32_ctz(a)
	a = a % TWO32
	if a == 0 then
		return 32
	end
	local n = 0
	while a % 2 == 0 do
		a, n = a / 2, n + 1
	end
	return n
end

function rt.i32_popcnt(a)
	a = a % TWO32
	local n = 0
	while a > 0 do
		local bit = a % 2
		a, n = (a - bit) / 2, n + bit
	end
	return n
end

function rt.i32_extend8_s(a)
	a = a % 256
	if a >= 128 then
		return a - 256
	end
	return a
end

function rt.i32_extend16_s(a)
	a = a % TWO16
	if a >= 32768 then
		return a - TWO16
	end
	return a
end

-- i64 values are immutable tables {lo, hi} of unsigned 32-bit halves.

local function i64(lo, hi)
	return { lo, hi }
end
rt.i64 = i64

local I64_ZERO = i64(0, 0)
rt.i64_zero = I64_ZERO

function rt.i64_add(a, b)
	local lo, hi = a[1] + b[1], a[2] + b[2]
	if lo >= TWO32 then
		lo, hi = lo - TWO32, hi + 1
	end
	return { lo, hi % TWO32 }
end

function rt.i64_sub(a, b)
	local lo, hi = a[1] - b[1], a[2] - b[2]
	if lo < 0 then
		lo, hi = lo + TWO32, hi - 1
	end
	return { lo, hi % TWO32 + 0 }
end

local function limbs(x)
	local l = x % TWO16
	return l, (x - l) / TWO16
end

function rt.i64_mul(a, b)
	local a0, a1 = limbs(a[1])
	local a2, a3 = limbs(a[2])
	local b0, b1 = limbs(b[1])
	local b2, b3 = limbs(b[2])

	local c0 = a0 * b0
	local c1 = a0 * b1 + a1 * b0
	local c2 = a0 * b2 + a1 * b1 + a2 * b0
	local c3 = a0 * b3 + a1 * b2 + a2 * b1 + a3 * b0

	local r0 = c0 % TWO16
	c1 = c1 + (c0 - r0) / TWO16
	local r1 = c1 % TWO16
	c2 = c2 + (c1 - r1) / TWO16
	local r2 = c2 % TWO16
	local r3 = (c3 + (c2 - r2) / TWO16) % TWO16
	return { r0 + r1 * TWO16, r2 + r3 * TWO16 }
end

local function neg64(a)
	return rt.i64_sub(I64_ZERO, a)
end

local function isneg64(a)
	return a[2] >= TWO31
end

local function iszero64(a)
	return a[1] == 0 and a[2] == 0
end

local function ult64(a, b)
	return a[2] < b[2] or (a[2] == b[2] and a[1] < b[1])
end

local function slt64(a, b)
	local ah, bh = a[2], b[2]
	if ah >= TWO31 then
		ah = ah - TWO32
	end
	if bh >= TWO31 then
		bh = bh - TWO32
	end
	return ah < bh or (ah == bh and a[1] < b[1])
end

local function split53(x)
	local hi = floor(x / TWO32)
	return { x - hi * TWO32, hi }
end

-- udivmod64 returns the unsigned quotient and remainder of a and b. b must be non-zero.
local function udivmod64(a, b)
	local al, ah, bl, bh = a[1], a[2], b[1], b[2]
	if ah < 1048576 and bh < 1048576 then
		local x, y = ah * TWO32 + al, bh * TWO32 + bl
		local q = floor(x / y)
		local r = x - q * y
		if r < 0 then
			q, r = q - 1, r + y
		elseif r >= y then
			q, r = q + 1, r - y
		end
		return split53(q), split53(r)
	end

	local ql, qh, rl, rh = 0, 0, 0, 0
	for i = 63, 0, -1 do
		local bit
		if i >= 32 then
			bit = floor(ah / POW2[i - 32]) % 2
		else
			bit = floor(al / POW2[i]) % 2
		end
		local over = rh >= TWO31
		rh = (rh * 2) % TWO32 + floor(rl / TWO31)
		rl = (rl * 2) % TWO32 + bit
		if over or rh > bh or (rh == bh and rl >= bl) then
			rl, rh = rl - bl, rh - bh
			if rl < 0 then
				rl, rh = rl + TWO32, rh - 1
			end
			rh = rh % TWO32
			if i >= 32 then
				qh = qh + POW2[i - 32]
			else
				ql = ql + POW2[i]
			end
		end
	end
	return { ql, qh }, { rl, rh }
end

function rt.i64_div_u(a, b)
	if iszero64(b) then
		trap("integer divide by zero")
	end
	local q = udivmod64(a, b)
	return q
end

function rt.i64_rem_u(a, b)
	if iszero64(b) then
		trap("integer divide by zero")
	end
	local _, r = udivmod64(a, b)
	return r
end

function rt.i64_div_s(a, b)
	if iszero64(b) then
		trap("integer divide by zero")
	end
	if a[1] == 0 and a[2] == TWO31 and b[1] == TWO32 - 1 and b[2] == TWO32 - 1 then
		trap("integer overflow")
	end
	local na, nb = isneg64(a), isneg64(b)
	if na then
		a = neg64(a)
	end
	if nb then
		b = neg64(b)
	end
	local q = udivmod64(a, b)
	if na ~= nb then
		q = neg64(q)
	end
	return q
end

function rt.i64_rem_s(a, b)
	if iszero64(b) then
		trap("integer divide by zero")
	end
	local na = isneg64(a)
	if na then
		a = neg64(a)
	end
	if isneg64(b) then
		b = neg64(b)
	end
	local _, r = udivmod64(a, b)
	if na then
		r = neg64(r)
	end
	return r
end

function rt.i64_and(a, b)
	return { bitop(AND4, a[1], b[1]), bitop(AND4, a[2], b[2]) }
end

function rt.i64_or(a, b)
	return { bitop(OR4, a[1], b[1]), bitop(OR4, a[2], b[2]) }
end

function rt.i64_xor(a, b)
	return { bitop(XOR4, a[1], b[1]), bitop(XOR4, a[2], b[2]) }
end

local function shl64(a, k)
	if k == 0 then
		return a
	end
	local lo, hi = a[1], a[2]
	if k >= 32 then
		return { 0, (lo % POW2[64 - k]) * POW2[k - 32] }
	end
	local kept = lo % POW2[32 - k]
	local carry = (lo - kept) / POW2[32 - k]
	return { kept * POW2[k], (hi % POW2[32 - k]) * POW2[k] + carry }
end

local function shru64(a, k)
	if k == 0 then
		return a
	end
	local lo, hi = a[1], a[2]
	if k >= 32 then
		return { floor(hi / POW2[k - 32]), 0 }
	end
	local moved = hi % POW2[k]
	return { floor(lo / POW2[k]) + moved * POW2[32 - k], (hi - moved) / POW2[k] }
end

function rt.i64_shl(a, b)
	return shl64(a, b[1] % 64)
end

function rt.i64_shr_u(a, b)
	return shru64(a, b[1] % 64)
end

function rt.i64_shr_s(a, b)
	local k = b[1] % 64
	if k == 0 then
		return a
	end
	local lo, hi = a[1], a[2]
	local shi = hi
	if shi >= TWO31 then
		shi = shi - TWO32
	end
	if k >= 32 then
		local fill = 0
		if shi < 0 then
			fill = TWO32 - 1
		end
		return { floor(shi / POW2[k - 32]) % TWO32, fill }
	end
	local moved = hi % POW2[k]
	return { floor(lo / POW2[k]) + moved * POW2[32 - k], floor(shi / POW2[k]) % TWO32 }
end

function rt.i64_rotl(a, b)
	local k = b[1] % 64
	if k == 0 then
		return a
	end
	local l, r = shl64(a, k), shru64(a, 64 - k)
	return { l[1] + r[1], l[2] + r[2] }
end

function rt.i64_rotr(a, b)
	local k = b[1] % 64
	if k == 0 then
		return a
	end
	local l, r = shl64(a, 64 - k), shru64(a, k)
	return { l[1] + r[1], l[2] + r[2] }
end

function rt.i64_clz(a)
	if a[2] ~= 0 then
		return { rt.i32_clz(a[2]), 0 }
	end
	return { 32 + rt.i32_clz(a[1]), 0 }
end

function rt.i64_ctz(a)
	if a[1] ~= 0 then
		return { rt.i32_ctz(a[1]), 0 }
	end
	return { 32 + rt.i32_ctz(a[2]), 0 }
end

function rt.i64_popcnt(a)
	return { rt.i32_popcnt(a[1]) + rt.i32_popcnt(a[2]), 0 }
end

function rt.i64_eqz(a)
	if iszero64(a) then
		return 1
	end
	return 0
end

function rt.i64_eq(a, b)
	if a[1] == b[1] and a[2] == b[2] then
		return 1
	end
	return 0
end

function rt.i64_ne(a, b)
	if a[1] == b[1] and a[2] == b[2] then
		return 0
	end
	return 1
end

function rt.i64_lt_s(a, b)
	if slt64(a, b) then
		return 1
	end
	return 0
end

function rt.i64_lt_u(a, b)
	if ult64(a, b) then
		return 1
	end
	return 0
end

function rt.i64_gt_s(a, b)
	if slt64(b, a) then
		return 1
	end
	return 0
end

function rt.i64_gt_u(a, b)
	if ult64(b, a) then
		return 1
	end
	return 0
end

function rt.i64_le_s(a, b)
	if slt64(b, a) then
		return 0
	end
	return 1
end

function rt.i64_le_u(a, b)
	if ult64(b, a) then
		return 0
	end
	return 1
end

function rt.i64_ge_s(a, b)
	if slt64(a, b) then
		return 0
	end
	return 1
end

function rt.i64_ge_u(a, b)
	if ult64(a, b) then
		return 0
	end
	return 1
end

function rt.i64_extend_i32_s(x)
	if x < 0 then
		return { x + TWO32, TWO32 - 1 }
	end
	return { x + 0, 0 }
end

function rt.i64_extend_i32_u(x)
	return { x % TWO32, 0 }
end

function rt.i32_wrap_i64(a)
	return wrap32(a[1])
end

function rt.i64_extend8_s(a)
	return rt.i64_extend_i32_s(rt.i32_extend8_s(a[1]))
end

function rt.i64_extend16_s(a)
	return rt.i64_extend_i32_s(rt.i32_extend16_s(a[1]))
end

function rt.i64_extend32_s(a)
	return rt.i64_extend_i32_s(wrap32(a[1]))
end

-- Floating point. f32 values are numbers that are exactly representable as binary32.

local function round_even(x)
	local f = floor(x)
	local d = x - f
	if d > 0.5 then
		return f + 1
	elseif d < 0.5 then
		return f
	elseif f % 2 == 0 then
		return f
	end
	return f + 1
end

-- fround rounds a number to the nearest binary32 value, ties to even.
local function fround(x)
	if x ~= x or x == 0 or x == huge or x == -huge then
		return x
	end
	local m, e = frexp(x)
	local p = 24
	if e < -125 then
		p = 24 + (e + 125)
	end
	if p < 0 then
		if x < 0 then
			return NEG_ZERO
		end
		return 0
	end
	local r = round_even(ldexp(m, p))
	if r == 0 then
		if x < 0 then
			return NEG_ZERO
		end
		return 0
	end
	x = ldexp(r, e - p)
	if x >= TWO128 then
		return huge
	elseif x <= -TWO128 then
		return -huge
	end
	return x
end
rt.fround = fround

local function signbit(x)
	return x < 0 or (x == 0 and 1 / x < 0)
end

function rt.fmin(a, b)
	if a ~= a or b ~= b then
		return NAN
	end
	if a == b then
		if signbit(a) then
			return a
		end
		return b
	end
	if a < b then
		return a
	end
	return b
end

function rt.fmax(a, b)
	if a ~= a or b ~= b then
		return NAN
	end
	if a == b then
		if signbit(a) then
			return b
		end
		return a
	end
	if a > b then
		return a
	end
	return b
end

function rt.copysign(a, b)
	a = abs(a)
	if signbit(b) then
		if a == 0 then
			return NEG_ZERO
		end
		return -a
	end
	return a
end

function rt.fneg(x)
	if x == 0 then
		if signbit(x) then
			return 0
		end
		return NEG_ZERO
	end
	return -x
end

function rt.fadd(a, b)
	local r = a + b
	if r == 0 and signbit(a) and signbit(b) then
		return NEG_ZERO
	end
	return r
end

function rt.fsub(a, b)
	local r = a - b
	if r == 0 and signbit(a) and not signbit(b) then
		return NEG_ZERO
	end
	return r
end

function rt.fmul(a, b)
	local r = a * b
	if r == 0 and signbit(a) ~= signbit(b) then
		return NEG_ZERO
	end
	return r
end

function rt.fdiv(a, b)
	local r = a / b
	if r == 0 and signbit(a) ~= signbit(b) then
		return NEG_ZERO
	end
	return r
end

function rt.ftrunc(x)
	if x ~= x then
		return x
	end
	return trunc(x)
end

function rt.nearest(x)
	if x ~= x or x == 0 or x == huge or x == -huge then
		return x
	end
	local r = round_even(x)
	if r == 0 and x < 0 then
		return NEG_ZERO
	end
	return r
end

rt.fabs = abs
rt.ffloor = floor
rt.fceil = ceil
rt.fsqrt = sqrt

-- Conversions between integers and floats.

function rt.i32_trunc_s(x)
	if x ~= x then
		trap("invalid conversion to integer")
	end
	x = trunc(x)
	if x < -TWO31 or x >= TWO31 then
		trap("integer overflow")
	end
	return x + 0
end

function rt.i32_trunc_u(x)
	if x ~= x then
		trap("invalid conversion to integer")
	end
	x = trunc(x)
	if x <= -1 or x >= TWO32 then
		trap("integer overflow")
	end
	return wrap32(x)
end

function rt.i32_trunc_sat_s(x)
	if x ~= x then
		return 0
	elseif x < -TWO31 then
		return -TWO31
	elseif x >= TWO31 then
		return TWO31 - 1
	end
	return trunc(x) + 0
end

function rt.i32_trunc_sat_u(x)
	if x ~= x or x <= -1 then
		return 0
	elseif x >= TWO32 then
		return -1
	end
	return wrap32(trunc(x))
end

-- num64 converts an integral number in [-2^63, 2^64) to an i64.
local function num64(x)
	local hi = floor(x / TWO32)
	return { x - hi * TWO32, hi % TWO32 + 0 }
end

function rt.i64_trunc_s(x)
	if x ~= x then
		trap("invalid conversion to integer")
	end
	x = trunc(x)
	if x < -TWO63 or x >= TWO63 then
		trap("integer overflow")
	end
	return num64(x)
end

function rt.i64_trunc_u(x)
	if x ~= x then
		trap("invalid conversion to integer")
	end
	x = trunc(x)
	if x <= -1 or x >= TWO64 then
		trap("integer overflow")
	end
	return num64(x)
end

function rt.i64_trunc_sat_s(x)
	if x ~= x then
		return I64_ZERO
	elseif x < -TWO63 then
		return { 0, TWO31 }
	elseif x >= TWO63 then
		return { TWO32 - 1, TWO31 - 1 }
	end
	return num64(trunc(x))
end

function rt.i64_trunc_sat_u(x)
	if x ~= x or x <= -1 then
		return I64_ZERO
	elseif x >= TWO64 then
		return { TWO32 - 1, TWO32 - 1 }
	end
	return num64(trunc(x))
end

function rt.f32_convert_i32_s(x)
	return fround(x + 0)
end

function rt.f32_convert_i32_u(x)
	return fround(x % TWO32)
end

function rt.f64_convert_i32_u(x)
	return x % TWO32
end

function rt.f64_convert_i64_s(a)
	local hi = a[2]
	if hi >= TWO31 then
		hi = hi - TWO32
	end
	return hi * TWO32 + a[1]
end

function rt.f64_convert_i64_u(a)
	return a[2] * TWO32 + a[1]
end

-- u64f32 rounds the unsigned value hi*2^32+lo to binary32 with a single rounding. Values that do
-- not fit in 53 bits are first narrowed with round-to-odd.
local function u64f32(lo, hi)
	if hi < 2097152 then
		return fround(hi * TWO32 + lo)
	end
	local s, h = 0, hi
	while h >= 2097152 do
		h, s = floor(h / 2), s + 1
	end
	local p = POW2[s]
	local hlow = hi % p
	local q = (hi - hlow) / p * TWO32 + hlow * POW2[32 - s] + floor(lo / p)
	if lo % p ~= 0 and q % 2 == 0 then
		q = q + 1
	end
	return fround(q * p)
end

function rt.f32_convert_i64_s(a)
	if isneg64(a) then
		local n = neg64(a)
		return -u64f32(n[1], n[2])
	end
	return u64f32(a[1], a[2])
end

function rt.f32_convert_i64_u(a)
	return u64f32(a[1], a[2])
end

-- Reinterpretation. NaN payloads are not observable and are canonicalized.

function rt.i32_reinterpret_f32(x)
	if x ~= x then
		return 2143289344
	end
	local sign = 0
	if signbit(x) then
		sign, x = TWO31, -x
	end
	local bits
	if x == huge then
		bits = 2139095040
	elseif x == 0 then
		bits = 0
	else
		local m, e = frexp(x)
		local biased = e + 126
		if biased <= 0 then
			bits = ldexp(x, 149)
		else
			bits = biased * 8388608 + (m * 2 - 1) * 8388608
		end
	end
	return wrap32(sign + bits)
end

function rt.f32_reinterpret_i32(v)
	v = v % TWO32
	local sign = 1
	if v >= TWO31 then
		sign, v = -1, v - TWO31
	end
	local biased = floor(v / 8388608)
	local frac = v % 8388608
	if biased == 255 then
		if frac == 0 then
			return sign * huge
		end
		return NAN
	elseif biased == 0 then
		if frac == 0 and sign < 0 then
			return NEG_ZERO
		end
		return sign * ldexp(frac, -149)
	end
	return sign * ldexp(frac + 8388608, biased - 150)
end

function rt.i64_reinterpret_f64(x)
	if x ~= x then
		return { 0, 2146959360 }
	end
	local sign = 0
	if signbit(x) then
		sign, x = TWO31, -x
	end
	if x == huge then
		return { 0, 2146435072 + sign }
	elseif x == 0 then
		return { 0, sign }
	end
	local m, e = frexp(x)
	local biased = e + 1022
	local mant
	if biased <= 0 then
		biased, mant = 0, ldexp(x, 1074)
	else
		mant = (m * 2 - 1) * TWO52
	end
	local mh = floor(mant / TWO32)
	return { mant - mh * TWO32, biased * 1048576 + mh + sign }
end

function rt.f64_reinterpret_i64(a)
	local lo, hi = a[1], a[2]
	local sign = 1
	if hi >= TWO31 then
		sign, hi = -1, hi - TWO31
	end
	local biased = floor(hi / 1048576)
	local mant = (hi % 1048576) * TWO32 + lo
	if biased == 2047 then
		if mant == 0 then
			return sign * huge
		end
		return NAN
	elseif biased == 0 then
		if mant == 0 and sign < 0 then
			return NEG_ZERO
		end
		return sign * ldexp(mant, -1074)
	end
	return sign * ldexp(mant + TWO52, biased - 1075)
end

-- Linear memory: a table of bytes indexed from 0 (nil reads as zero) and a size in pages.

function rt.memory(initial, maximum)
	if initial > maximum then
		error("wasm link: memory size exceeds maximum", 0)
	end
	return { data = {}, pages = initial, size = initial * 65536, max = maximum }
end

local function ea(mem, addr, offset, width)
	local a = addr % TWO32 + offset
	if a + width > mem.size then
		trap("out of bounds memory access")
	end
	return a
end

local function rd32(d, a)
	return (d[a] or 0) + (d[a + 1] or 0) * 256 + (d[a + 2] or 0) * 65536 + (d[a + 3] or 0) * 16777216
end

local function wr32(d, a, v)
	local b0 = v % 256
	v = (v - b0) / 256
	local b1 = v % 256
	v = (v - b1) / 256
	local b2 = v % 256
	d[a], d[a + 1], d[a + 2], d[a + 3] = b0, b1, b2, (v - b2) / 256
end

function rt.load8_u(mem, addr, offset)
	return mem.data[ea(mem, addr, offset, 1)] or 0
end

function rt.load8_s(mem, addr, offset)
	local v = mem.data[ea(mem, addr, offset, 1)] or 0
	if v >= 128 then
		return v - 256
	end
	return v
end

function rt.load16_u(mem, addr, offset)
	local a, d = ea(mem, addr, offset, 2), mem.data
	return (d[a] or 0) + (d[a + 1] or 0) * 256
end

function rt.load16_s(mem, addr, offset)
	local v = rt.load16_u(mem, addr, offset)
	if v >= 32768 then
		return v - TWO16
	end
	return v
end

function rt.i32_load(mem, addr, offset)
	return wrap32(rd32(mem.data, ea(mem, addr, offset, 4)))
end

function rt.i64_load(mem, addr, offset)
	local a, d = ea(mem, addr, offset, 8), mem.data
	return { rd32(d, a), rd32(d, a + 4) }
end

function rt.i64_load8_s(mem, addr, offset)
	return rt.i64_extend_i32_s(rt.load8_s(mem, addr, offset))
end

function rt.i64_load8_u(mem, addr, offset)
	return { rt.load8_u(mem, addr, offset), 0 }
end

function rt.i64_load16_s(mem, addr, offset)
	return rt.i64_extend_i32_s(rt.load16_s(mem, addr, offset))
end

function rt.i64_load16_u(mem, addr, offset)
	return { rt.load16_u(mem, addr, offset), 0 }
end

function rt.i64_load32_s(mem, addr, offset)
	return rt.i64_extend_i32_s(rt.i32_load(mem, addr, offset))
end

function rt.i64_load32_u(mem, addr, offset)
	return { rd32(mem.data, ea(mem, addr, offset, 4)), 0 }
end

function rt.f32_load(mem, addr, offset)
	return rt.f32_reinterpret_i32(rd32(mem.data, ea(mem, addr, offset, 4)))
end

function rt.f64_load(mem, addr, offset)
	return rt.f64_reinterpret_i64(rt.i64_load(mem, addr, offset))
end

function rt.store8(mem, addr, offset, v)
	mem.data[ea(mem, addr, offset, 1)] = v % 256
end

function rt.store16(mem, addr, offset, v)
	local a, d = ea(mem, addr, offset, 2), mem.data
	v = v % TWO16
	local b0 = v % 256
	d[a], d[a + 1] = b0, (v - b0) / 256
end

function rt.i32_store(mem, addr, offset, v)
	wr32(mem.data, ea(mem, addr, offset, 4), v % TWO32)
end

function rt.i64_store(mem, addr, offset, v)
	local a, d = ea(mem, addr, offset, 8), mem.data
	wr32(d, a, v[1])
	wr32(d, a + 4, v[2])
end

function rt.i64_store8(mem, addr, offset, v)
	rt.store8(mem, addr, offset, v[1])
end

function rt.i64_store16(mem, addr, offset, v)
	rt.store16(mem, addr, offset, v[1])
end

function rt.i64_store32(mem, addr, offset, v)
	rt.i32_store(mem, addr, offset, v[1])
end

function rt.f32_store(mem, addr, offset, v)
	rt.i32_store(mem, addr, offset, rt.i32_reinterpret_f32(v))
end

function rt.f64_store(mem, addr, offset, v)
	rt.i64_store(mem, addr, offset, rt.i64_reinterpret_f64(v))
end

-- memory_grow returns the previous size in pages, or -1 if the memory cannot grow. Pages past the
-- old size have never been written, so they read as zero.
function rt.memory_grow(mem, delta)
	local old = mem.pages
	local new = old + delta % TWO32
	if new > mem.max then
		return -1
	end
	mem.pages, mem.size = new, new * 65536
	return old
end

function rt.memory_fill(mem, dst, v, n)
	dst, n = dst % TWO32, n % TWO32
	if dst + n > mem.size then
		trap("out of bounds memory access")
	end
	local d, b = mem.data, v % 256
	for i = dst, dst + n - 1 do
		d[i] = b
	end
end

function rt.memory_copy(dmem, smem, dst, src, n)
	dst, src, n = dst % TWO32, src % TWO32, n % TWO32
	if src + n > smem.size or dst + n > dmem.size then
		trap("out of bounds memory access")
	end
	local dd, sd = dmem.data, smem.data
	if dst <= src then
		for i = 0, n - 1 do
			dd[dst + i] = sd[src + i]
		end
	else
		for i = n - 1, 0, -1 do
			dd[dst + i] = sd[src + i]
		end
	end
end

function rt.check_memory(mem, offset, n)
	if offset % TWO32 + n > mem.size then
		trap("out of bounds memory access")
	end
end

function rt.init_memory(mem, offset, s)
	local d, base = mem.data, offset % TWO32 - 1
	for i = 1, #s do
		d[base + i] = sbyte(s, i)
	end
end

-- Tables hold function references {sig, call} or nil, indexed from 0.

function rt.table(initial, maximum)
	if initial > maximum then
		error("wasm link: table size exceeds maximum", 0)
	end
	return { elems = {}, size = initial, max = maximum }
end

function rt.funcref(sig, call)
	return { sig = sig, call = call }
end

function rt.table_get(tbl, i)
	i = i % TWO32
	if i >= tbl.size then
		trap("out of bounds table access")
	end
	return tbl.elems[i]
end

function rt.table_set(tbl, i, v)
	i = i % TWO32
	if i >= tbl.size then
		trap("out of bounds table access")
	end
	tbl.elems[i] = v
end

function rt.table_size(tbl)
	return wrap32(tbl.size)
end

function rt.table_grow(tbl, v, delta)
	local old = tbl.size
	local new = old + delta % TWO32
	if new > tbl.max then
		return -1
	end
	if v ~= nil then
		for i = old, new - 1 do
			tbl.elems[i] = v
		end
	end
	tbl.size = new
	return wrap32(old)
end

function rt.table_fill(tbl, i, v, n)
	i, n = i % TWO32, n % TWO32
	if i + n > tbl.size then
		trap("out of bounds table access")
	end
	for j = i, i + n - 1 do
		tbl.elems[j] = v
	end
end

function rt.check_table(tbl, offset, n)
	if offset % TWO32 + n > tbl.size then
		trap("out of bounds table access")
	end
end

function rt.init_table(tbl, offset, n, refs)
	local base = offset % TWO32 - 1
	for i = 1, n do
		tbl.elems[base + i] = refs[i]
	end
end

-- callee returns the function stored at index i of tbl after checking bounds, initialization and
-- the expected signature.
function rt.callee(tbl, i, sig)
	i = i % TWO32
	if i >= tbl.size then
		trap("undefined element")
	end
	local f = tbl.elems[i]
	if f == nil then
		trap("uninitialized element")
	end
	if f.sig ~= sig then
		trap("indirect call type mismatch")
	end
	return f.call
end
`
