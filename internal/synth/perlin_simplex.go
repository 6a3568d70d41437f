package synth

import (
	"math"

	"voxelnoise.ai/internal/mathx"
	"voxelnoise.ai/internal/rng"
)

// positiveSeedScale is float32(9.223372e18) widened to double, i.e. 2^63.
const positiveSeedScale = 9223372036854775808.0

// PerlinSimplexNoise stacks 2D simplex octaves. levels[0] is the highest
// frequency octave.
type PerlinSimplexNoise struct {
	levels []*SimplexNoise

	highestFreqInputFactor float64
	highestFreqValueFactor float64
}

// NewPerlinSimplexNoise builds octaves for the given levels. Octave 0 and
// the negative side come from r; positive octaves come from a second legacy
// stream seeded by sampling the octave-0 noise at its own offsets.
func NewPerlinSimplexNoise(r RandomSource, levels []int) (*PerlinSimplexNoise, error) {
	set := sortedLevels(levels)
	if len(set) == 0 {
		return nil, ErrNoOctaves
	}
	present := make(map[int]bool, len(set))
	for _, l := range set {
		present[l] = true
	}
	lo := -set[0]
	hi := set[len(set)-1]
	total := lo + hi + 1
	if total < 1 {
		return nil, ErrInvalidOctaves
	}

	p := &PerlinSimplexNoise{levels: make([]*SimplexNoise, total)}
	base := NewSimplexNoise(r)
	if hi >= 0 && hi < total && present[0] {
		p.levels[hi] = base
	}
	for i := hi + 1; i < total; i++ {
		if i >= 0 && present[hi-i] {
			p.levels[i] = NewSimplexNoise(r)
		} else {
			skipOctave(r)
		}
	}

	if hi > 0 {
		xo, yo, zo := base.Offsets()
		seed := mathx.ToInt64(base.Value3D(xo, yo, zo) * positiveSeedScale)
		pr := rng.NewLegacy(seed)
		for i := hi - 1; i >= 0; i-- {
			if i < total && present[hi-i] {
				p.levels[i] = NewSimplexNoise(pr)
			} else {
				skipOctave(pr)
			}
		}
	}

	p.highestFreqInputFactor = math.Ldexp(1, hi)
	p.highestFreqValueFactor = 1 / (math.Ldexp(1, total) - 1)
	return p, nil
}

// Value sums the octaves at (x, y). With useOffsets each octave is shifted
// by its own x/y lattice offsets.
func (p *PerlinSimplexNoise) Value(x, y float64, useOffsets bool) float64 {
	var sum float64
	in := p.highestFreqInputFactor
	amp := p.highestFreqValueFactor
	for _, n := range p.levels {
		if n != nil {
			var ox, oy float64
			if useOffsets {
				ox, oy = n.t.XO, n.t.YO
			}
			sum += n.Value2D(x*in+ox, y*in+oy) * amp
		}
		in /= 2
		amp *= 2
	}
	return sum
}

func (p *PerlinSimplexNoise) Levels() int { return len(p.levels) }
