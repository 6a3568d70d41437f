// Package synth holds the deterministic noise kernels behind terrain density:
// single-octave gradient and simplex noise, the octave stacks built from
// them, and the blended density function. Every type is immutable once
// constructed and safe for concurrent sampling.
package synth

import (
	"errors"

	"voxelnoise.ai/internal/rng"
)

var (
	ErrNoOctaves      = errors.New("synth: need some octaves")
	ErrInvalidOctaves = errors.New("synth: invalid octave set")
	ErrInvalidParams  = errors.New("synth: invalid blended noise parameters")
)

// RandomSource is the part of a stream that noise construction consumes.
type RandomSource interface {
	NextInt(bound int) int
	NextDouble() float64
	ConsumeCount(n int)
}

// PositionalSource is a stream that can also derive name-keyed streams, as
// required by the hashed octave factory.
type PositionalSource interface {
	RandomSource
	ForkPositional() rng.PositionalFactory
}

// octaveStreamSteps is how many 32-bit steps building one octave advances a
// legacy stream: 256 bounded ints plus 3 doubles of two steps each.
const octaveStreamSteps = 262

// PermutationTable is a seeded shuffle of 0..255 plus the three lattice
// offsets drawn from the same stream.
type PermutationTable struct {
	P          [256]uint8
	XO, YO, ZO float64
}

// NewPermutationTable draws the three offsets first, then shuffles. It
// consumes exactly 3 NextDouble and 256 NextInt calls.
func NewPermutationTable(r RandomSource) PermutationTable {
	var t PermutationTable
	t.XO = r.NextDouble() * 256
	t.YO = r.NextDouble() * 256
	t.ZO = r.NextDouble() * 256
	for i := range t.P {
		t.P[i] = uint8(i)
	}
	for i := 0; i < 256; i++ {
		j := r.NextInt(256 - i)
		t.P[i], t.P[i+j] = t.P[i+j], t.P[i]
	}
	return t
}

func (t *PermutationTable) at(i int) int {
	return int(t.P[i&0xFF])
}

func buildOctave(r RandomSource) *ImprovedNoise {
	return NewImprovedNoise(r)
}

func skipOctave(r RandomSource) {
	r.ConsumeCount(octaveStreamSteps)
}
