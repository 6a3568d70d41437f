package rng

const (
	lcgMultiplier = 0x5DEECE66D
	lcgIncrement  = 0xB
	lcgMask       = (1 << 48) - 1
)

// Legacy is the 48-bit linear congruential generator used by older
// worldgen seeds.
type Legacy struct {
	seed int64
}

func NewLegacy(seed int64) *Legacy {
	l := &Legacy{}
	l.SetSeed(seed)
	return l
}

func (l *Legacy) SetSeed(seed int64) {
	l.seed = (seed ^ lcgMultiplier) & lcgMask
}

func (l *Legacy) next(bits uint) int32 {
	l.seed = (l.seed*lcgMultiplier + lcgIncrement) & lcgMask
	return int32(l.seed >> (48 - bits))
}

func (l *Legacy) Fork() Source {
	return NewLegacy(l.NextLong())
}

func (l *Legacy) ForkPositional() PositionalFactory {
	return LegacyPositional{seed: l.NextLong()}
}

func (l *Legacy) NextInt32() int32 { return l.next(32) }

func (l *Legacy) NextInt(bound int) int {
	checkBound(bound)
	if bound&(bound-1) == 0 {
		return int((int64(bound) * int64(l.next(31))) >> 31)
	}
	b := int32(bound)
	for {
		v := l.next(31)
		m := v % b
		// Reject draws from the final partial bucket (signed overflow test).
		if v-m+(b-1) >= 0 {
			return int(m)
		}
	}
}

func (l *Legacy) NextLong() int64 {
	hi := int64(l.next(32))
	lo := int64(l.next(32))
	return hi<<32 + lo
}

func (l *Legacy) NextBool() bool { return l.next(1) != 0 }

func (l *Legacy) NextFloat() float32 {
	return float32(l.next(24)) * floatUnit
}

func (l *Legacy) NextDouble() float64 {
	hi := int64(l.next(26))
	lo := int64(l.next(27))
	return float64(hi<<27+lo) * doubleUnit
}

func (l *Legacy) ConsumeCount(n int) {
	for i := 0; i < n; i++ {
		l.next(32)
	}
}

// LegacyPositional derives Legacy streams from a base seed.
type LegacyPositional struct {
	seed int64
}

func NewLegacyPositional(seed int64) LegacyPositional {
	return LegacyPositional{seed: seed}
}

func (p LegacyPositional) At(x, y, z int) Source {
	return NewLegacy(PositionSeed(x, y, z) ^ p.seed)
}

func (p LegacyPositional) FromHashOf(name string) Source {
	return NewLegacy(int64(StringHash(name)) ^ p.seed)
}

func (p LegacyPositional) FromSeed(seed int64) Source {
	return NewLegacy(seed)
}
