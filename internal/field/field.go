// Package field assembles a tuning into ready-to-sample noise: the blended
// terrain density plus any named auxiliary noises, all derived from one seed.
package field

import (
	"fmt"

	"voxelnoise.ai/internal/rng"
	"voxelnoise.ai/internal/synth"
	"voxelnoise.ai/internal/tuning"
)

const streamPrefix = "voxelnoise:"

// Field is immutable after New and safe for concurrent sampling.
type Field struct {
	tuning  tuning.Tuning
	digest  string
	density *synth.BlendedNoise
	noises  map[string]*synth.NormalNoise
	kinds   []string
}

// Bounds is the closed value range of one sample kind.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// New builds every noise from its own name-keyed stream so adding or removing
// a named noise never reseeds the others.
func New(t tuning.Tuning) (*Field, error) {
	t.Normalize()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	root, err := rng.New(rng.Kind(t.RandomSource), t.Seed)
	if err != nil {
		return nil, err
	}
	streams := root.ForkPositional()

	density, err := synth.NewBlendedNoise(streams.FromHashOf(streamPrefix+"terrain"), t.Blended)
	if err != nil {
		return nil, fmt.Errorf("density: %w", err)
	}
	f := &Field{
		tuning:  t,
		digest:  t.Digest(),
		density: density,
		noises:  make(map[string]*synth.NormalNoise, len(t.Noises)),
		kinds:   []string{tuning.KindDensity},
	}
	for _, name := range t.NoiseNames() {
		n, err := synth.NewNormalNoise(streams.FromHashOf(streamPrefix+name), t.Noises[name])
		if err != nil {
			return nil, fmt.Errorf("noise %s: %w", name, err)
		}
		f.noises[name] = n
		f.kinds = append(f.kinds, name)
	}
	return f, nil
}

// Sample returns the value of kind at a block coordinate.
func (f *Field) Sample(kind string, x, y, z int) (float64, error) {
	fn, err := f.Sampler(kind)
	if err != nil {
		return 0, err
	}
	return fn(x, y, z), nil
}

// Sampler resolves kind once so hot loops skip the lookup.
func (f *Field) Sampler(kind string) (func(x, y, z int) float64, error) {
	if kind == tuning.KindDensity {
		return f.density.Compute, nil
	}
	n, ok := f.noises[kind]
	if !ok {
		return nil, fmt.Errorf("unknown sample kind %q", kind)
	}
	return func(x, y, z int) float64 {
		return n.Value(float64(x), float64(y), float64(z))
	}, nil
}

// Kinds lists density first, then named noises in sorted order.
func (f *Field) Kinds() []string { return append([]string(nil), f.kinds...) }

func (f *Field) Bounds(kind string) (Bounds, bool) {
	if kind == tuning.KindDensity {
		return Bounds{Min: f.density.MinValue(), Max: f.density.MaxValue()}, true
	}
	n, ok := f.noises[kind]
	if !ok {
		return Bounds{}, false
	}
	return Bounds{Min: -n.MaxValue(), Max: n.MaxValue()}, true
}

func (f *Field) Digest() string        { return f.digest }
func (f *Field) Seed() int64           { return f.tuning.Seed }
func (f *Field) Tuning() tuning.Tuning { return f.tuning }

func (f *Field) Density() *synth.BlendedNoise {
	return f.density
}
