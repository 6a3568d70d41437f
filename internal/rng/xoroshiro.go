package rng

import "math/bits"

// Xoroshiro is a xoroshiro128++ stream seeded from a 128-bit pair.
type Xoroshiro struct {
	lo, hi uint64
}

// NewXoroshiro upgrades a 64-bit seed to 128 bits and mixes both halves.
func NewXoroshiro(seed int64) *Xoroshiro {
	s := UpgradeSeed(seed)
	return NewXoroshiroPair(s.Lo, s.Hi)
}

func NewXoroshiroPair(lo, hi uint64) *Xoroshiro {
	if lo|hi == 0 {
		lo, hi = goldenRatio64, silverRatio64
	}
	return &Xoroshiro{lo: lo, hi: hi}
}

func (x *Xoroshiro) SetSeed(seed int64) {
	s := UpgradeSeed(seed)
	*x = *NewXoroshiroPair(s.Lo, s.Hi)
}

func (x *Xoroshiro) nextLong() uint64 {
	s0, s1 := x.lo, x.hi
	out := bits.RotateLeft64(s0+s1, 17) + s0
	s1 ^= s0
	x.lo = bits.RotateLeft64(s0, 49) ^ s1 ^ (s1 << 21)
	x.hi = bits.RotateLeft64(s1, 28)
	return out
}

func (x *Xoroshiro) nextBits(n uint) uint64 {
	return x.nextLong() >> (64 - n)
}

func (x *Xoroshiro) Fork() Source {
	lo := x.nextLong()
	hi := x.nextLong()
	return NewXoroshiroPair(lo, hi)
}

func (x *Xoroshiro) ForkPositional() PositionalFactory {
	lo := x.nextLong()
	hi := x.nextLong()
	return XoroshiroPositional{lo: lo, hi: hi}
}

func (x *Xoroshiro) NextInt32() int32 { return int32(x.nextLong()) }

// NextInt maps a 32-bit draw onto [0, bound) by multiply-shift, rejecting the
// biased low products.
func (x *Xoroshiro) NextInt(bound int) int {
	checkBound(bound)
	b := uint64(uint32(bound))
	r := uint64(uint32(x.NextInt32()))
	m := r * b
	low := m & 0xFFFFFFFF
	if low < b {
		threshold := uint64(uint32(-int32(bound)) % uint32(bound))
		for low < threshold {
			r = uint64(uint32(x.NextInt32()))
			m = r * b
			low = m & 0xFFFFFFFF
		}
	}
	return int(int32(m >> 32))
}

func (x *Xoroshiro) NextLong() int64 { return int64(x.nextLong()) }

func (x *Xoroshiro) NextBool() bool { return x.nextLong()&1 != 0 }

func (x *Xoroshiro) NextFloat() float32 {
	return float32(x.nextBits(24)) * floatUnit
}

func (x *Xoroshiro) NextDouble() float64 {
	return float64(x.nextBits(53)) * doubleUnit
}

func (x *Xoroshiro) ConsumeCount(n int) {
	for i := 0; i < n; i++ {
		x.nextLong()
	}
}

// XoroshiroPositional derives Xoroshiro streams from a 128-bit base seed.
type XoroshiroPositional struct {
	lo, hi uint64
}

func NewXoroshiroPositional(lo, hi uint64) XoroshiroPositional {
	return XoroshiroPositional{lo: lo, hi: hi}
}

func (p XoroshiroPositional) At(x, y, z int) Source {
	return NewXoroshiroPair(uint64(PositionSeed(x, y, z))^p.lo, p.hi)
}

func (p XoroshiroPositional) FromHashOf(name string) Source {
	s := SeedFromHashOf(name)
	return NewXoroshiroPair(s.Lo^p.lo, s.Hi^p.hi)
}

func (p XoroshiroPositional) FromSeed(seed int64) Source {
	return NewXoroshiroPair(uint64(seed)^p.lo, uint64(seed)^p.hi)
}
