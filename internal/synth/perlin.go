package synth

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"voxelnoise.ai/internal/mathx"
)

// wrapPeriod keeps octave inputs within float precision for far-out
// coordinates (2^25).
const wrapPeriod = 33554432.0

// Wrap folds v into [-wrapPeriod/2, wrapPeriod/2).
func Wrap(v float64) float64 {
	return v - float64(mathx.LFloor(v/wrapPeriod+0.5))*wrapPeriod
}

// Octaves describes an octave stack: Amplitudes[i] weights octave First+i.
// A zero amplitude means the octave is absent.
type Octaves struct {
	First      int       `json:"first_octave" yaml:"first_octave"`
	Amplitudes []float64 `json:"amplitudes" yaml:"amplitudes"`
}

// OctavesFromLevels builds unit amplitudes for the given octave levels.
func OctavesFromLevels(levels []int) (Octaves, error) {
	set := sortedLevels(levels)
	if len(set) == 0 {
		return Octaves{}, ErrNoOctaves
	}
	lo := -set[0]
	hi := set[len(set)-1]
	total := lo + hi + 1
	if total < 1 {
		return Octaves{}, fmt.Errorf("%w: total number of octaves must be >= 1", ErrInvalidOctaves)
	}
	amps := make([]float64, total)
	for _, l := range set {
		amps[l+lo] = 1
	}
	return Octaves{First: -lo, Amplitudes: amps}, nil
}

// LevelRange returns the octave levels lo..hi inclusive.
func LevelRange(lo, hi int) []int {
	out := make([]int, 0, hi-lo+1)
	for l := lo; l <= hi; l++ {
		out = append(out, l)
	}
	return out
}

func sortedLevels(levels []int) []int {
	set := append([]int(nil), levels...)
	sort.Ints(set)
	out := set[:0]
	for i, l := range set {
		if i > 0 && l == set[i-1] {
			continue
		}
		out = append(out, l)
	}
	return out
}

// PerlinNoise sums ImprovedNoise octaves at halving amplitude and doubling
// frequency.
type PerlinNoise struct {
	first      int
	amplitudes []float64
	levels     []*ImprovedNoise

	lowestFreqInputFactor float64
	lowestFreqValueFactor float64
	maxValue              float64
}

// NewLegacyPerlinNoise builds the octave stack by walking one stream from
// the octave-0 level down to the lowest frequency. Absent octaves still
// advance the stream so every later octave keeps its seed no matter which
// subset was requested.
func NewLegacyPerlinNoise(r RandomSource, oct Octaves) (*PerlinNoise, error) {
	n := len(oct.Amplitudes)
	if n == 0 {
		return nil, ErrNoOctaves
	}
	zero := -oct.First
	if zero < n-1 {
		return nil, fmt.Errorf("%w: positive octaves are not supported by the legacy factory", ErrInvalidOctaves)
	}
	p := newPerlinShell(oct)

	base := buildOctave(r)
	if zero >= 0 && zero < n && p.amplitudes[zero] != 0 {
		p.levels[zero] = base
	}
	for i := zero - 1; i >= 0; i-- {
		if i < n && p.amplitudes[i] != 0 {
			p.levels[i] = buildOctave(r)
		} else {
			skipOctave(r)
		}
	}
	p.finish()
	return p, nil
}

// NewBlendedPerlinNoise is the legacy stack over the contiguous levels
// lo..hi, as used by BlendedNoise.
func NewBlendedPerlinNoise(r RandomSource, lo, hi int) (*PerlinNoise, error) {
	oct, err := OctavesFromLevels(LevelRange(lo, hi))
	if err != nil {
		return nil, err
	}
	return NewLegacyPerlinNoise(r, oct)
}

// NewPerlinNoise seeds each present octave from its own name-keyed stream
// ("octave_<level>"), so octaves are independent of each other.
func NewPerlinNoise(r PositionalSource, oct Octaves) (*PerlinNoise, error) {
	if len(oct.Amplitudes) == 0 {
		return nil, ErrNoOctaves
	}
	p := newPerlinShell(oct)
	f := r.ForkPositional()
	for k, a := range p.amplitudes {
		if a == 0 {
			continue
		}
		p.levels[k] = NewImprovedNoise(f.FromHashOf(fmt.Sprintf("octave_%d", p.first+k)))
	}
	p.finish()
	return p, nil
}

func newPerlinShell(oct Octaves) *PerlinNoise {
	return &PerlinNoise{
		first:      oct.First,
		amplitudes: append([]float64(nil), oct.Amplitudes...),
		levels:     make([]*ImprovedNoise, len(oct.Amplitudes)),
	}
}

func (p *PerlinNoise) finish() {
	n := len(p.levels)
	p.lowestFreqInputFactor = math.Ldexp(1, p.first)
	p.lowestFreqValueFactor = math.Ldexp(1, n-1) / (math.Ldexp(1, n) - 1)
	p.maxValue = p.edgeValue(2)
}

func (p *PerlinNoise) Value(x, y, z float64) float64 {
	return p.ValueWithSmear(x, y, z, 0, 0, false)
}

// ValueWithSmear passes the smear parameters through to every octave, scaled
// by the octave frequency. With fixedY each octave samples at its own -yo.
func (p *PerlinNoise) ValueWithSmear(x, y, z, yScale, yMax float64, fixedY bool) float64 {
	var sum float64
	in := p.lowestFreqInputFactor
	amp := p.lowestFreqValueFactor
	for i, n := range p.levels {
		if n != nil {
			sy := Wrap(y * in)
			if fixedY {
				sy = -n.t.YO
			}
			v := n.NoiseWithSmear(Wrap(x*in), sy, Wrap(z*in), yScale*in, yMax*in)
			sum += p.amplitudes[i] * v * amp
		}
		in *= 2
		amp /= 2
	}
	return sum
}

// OctaveNoise returns the level i steps below the highest frequency, or nil
// when that octave is absent.
func (p *PerlinNoise) OctaveNoise(i int) *ImprovedNoise {
	idx := len(p.levels) - 1 - i
	if idx < 0 || idx >= len(p.levels) {
		return nil
	}
	return p.levels[idx]
}

func (p *PerlinNoise) Levels() int           { return len(p.levels) }
func (p *PerlinNoise) FirstOctave() int      { return p.first }
func (p *PerlinNoise) MaxValue() float64     { return p.maxValue }
func (p *PerlinNoise) Amplitudes() []float64 { return append([]float64(nil), p.amplitudes...) }

// MaxBrokenValue bounds the octave sum when sampled with a smear multiplier.
func (p *PerlinNoise) MaxBrokenValue(yMultiplier float64) float64 {
	return p.edgeValue(yMultiplier + 2)
}

func (p *PerlinNoise) edgeValue(multiplier float64) float64 {
	var sum float64
	amp := p.lowestFreqValueFactor
	for i, n := range p.levels {
		if n != nil {
			sum += p.amplitudes[i] * multiplier * amp
		}
		amp /= 2
	}
	return sum
}

func (p *PerlinNoise) String() string {
	var b strings.Builder
	b.WriteString("PerlinNoise{first octave: ")
	fmt.Fprintf(&b, "%d, amplitudes: [", p.first)
	for i, a := range p.amplitudes {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%.2f", a)
	}
	b.WriteString("], noise levels: [")
	for i, n := range p.levels {
		fmt.Fprintf(&b, "%d: ", i)
		if n == nil {
			b.WriteString("null")
		} else {
			b.WriteString(n.String())
		}
		b.WriteString(", ")
	}
	b.WriteString("]}")
	return b.String()
}
