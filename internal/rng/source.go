// Package rng implements the seedable random streams that drive noise
// construction. Every stream is deterministic: the same seed yields the same
// sequence on every platform, which is what keeps generated terrain stable
// across sessions.
package rng

import "fmt"

// Source is a seeded random stream. Implementations are not safe for
// concurrent use; noise construction consumes a stream from one goroutine.
type Source interface {
	// Fork splits off an independent stream, advancing this one.
	Fork() Source
	// ForkPositional derives a factory of position- or name-keyed streams.
	ForkPositional() PositionalFactory
	SetSeed(seed int64)

	NextInt32() int32
	// NextInt returns a value in [0, bound). It panics if bound <= 0.
	NextInt(bound int) int
	NextLong() int64
	NextBool() bool
	NextFloat() float32
	NextDouble() float64

	// ConsumeCount skips n draws of the stream's native width.
	ConsumeCount(n int)
}

// PositionalFactory derives streams keyed by block position or by name.
type PositionalFactory interface {
	At(x, y, z int) Source
	FromHashOf(name string) Source
	FromSeed(seed int64) Source
}

// Kind names a stream algorithm in configuration files.
type Kind string

const (
	KindLegacy    Kind = "legacy"
	KindXoroshiro Kind = "xoroshiro"
)

// New returns a root stream of the given kind.
func New(kind Kind, seed int64) (Source, error) {
	switch kind {
	case KindLegacy:
		return NewLegacy(seed), nil
	case KindXoroshiro, "":
		return NewXoroshiro(seed), nil
	default:
		return nil, fmt.Errorf("unknown random source %q", kind)
	}
}

const (
	floatUnit  = float32(1.0 / (1 << 24))
	doubleUnit = 1.0 / (1 << 53)
)

func checkBound(bound int) {
	if bound <= 0 {
		panic("rng: bound must be positive")
	}
}
