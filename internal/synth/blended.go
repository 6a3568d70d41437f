package synth

import (
	"fmt"
	"math"

	"voxelnoise.ai/internal/mathx"
	"voxelnoise.ai/internal/rng"
)

// coordinateScale maps block coordinates into limit-noise space at scale 1.
const coordinateScale = 684.412

// BlendedParams are the five tuning knobs of the terrain density function.
type BlendedParams struct {
	XZScale              float64 `json:"xz_scale" yaml:"xz_scale"`
	YScale               float64 `json:"y_scale" yaml:"y_scale"`
	XZFactor             float64 `json:"xz_factor" yaml:"xz_factor"`
	YFactor              float64 `json:"y_factor" yaml:"y_factor"`
	SmearScaleMultiplier float64 `json:"smear_scale_multiplier" yaml:"smear_scale_multiplier"`
}

// DefaultBlendedParams matches the overworld terrain setting.
func DefaultBlendedParams() BlendedParams {
	return BlendedParams{XZScale: 0.25, YScale: 0.125, XZFactor: 80, YFactor: 160, SmearScaleMultiplier: 8}
}

// Validate rejects out-of-range values instead of clamping them.
func (p BlendedParams) Validate() error {
	scale := func(name string, v float64) error {
		if !(v >= 0.001 && v <= 1000) {
			return fmt.Errorf("%w: %s must be in [0.001, 1000], got %v", ErrInvalidParams, name, v)
		}
		return nil
	}
	factor := func(name string, v float64) error {
		if !(v > 0) || math.IsInf(v, 1) {
			return fmt.Errorf("%w: %s must be positive and finite, got %v", ErrInvalidParams, name, v)
		}
		return nil
	}
	if err := scale("xz_scale", p.XZScale); err != nil {
		return err
	}
	if err := scale("y_scale", p.YScale); err != nil {
		return err
	}
	if err := factor("xz_factor", p.XZFactor); err != nil {
		return err
	}
	if err := factor("y_factor", p.YFactor); err != nil {
		return err
	}
	if !(p.SmearScaleMultiplier >= 1 && p.SmearScaleMultiplier <= 8) {
		return fmt.Errorf("%w: smear_scale_multiplier must be in [1, 8], got %v", ErrInvalidParams, p.SmearScaleMultiplier)
	}
	return nil
}

// BlockPos is an integer block coordinate.
type BlockPos struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// BlendedNoise is the terrain density function: a main noise picks a blend
// factor between two limit noises, and a limit noise is skipped entirely
// when the factor saturates away from it.
type BlendedNoise struct {
	minLimit *PerlinNoise
	maxLimit *PerlinNoise
	main     *PerlinNoise

	params       BlendedParams
	xzMultiplier float64
	yMultiplier  float64
	maxValue     float64
}

// NewBlendedNoise consumes r in a fixed order: min limit, max limit, main.
func NewBlendedNoise(r RandomSource, p BlendedParams) (*BlendedNoise, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	minLimit, err := NewBlendedPerlinNoise(r, -15, 0)
	if err != nil {
		return nil, fmt.Errorf("min limit noise: %w", err)
	}
	maxLimit, err := NewBlendedPerlinNoise(r, -15, 0)
	if err != nil {
		return nil, fmt.Errorf("max limit noise: %w", err)
	}
	main, err := NewBlendedPerlinNoise(r, -7, 0)
	if err != nil {
		return nil, fmt.Errorf("main noise: %w", err)
	}
	b := &BlendedNoise{
		minLimit:     minLimit,
		maxLimit:     maxLimit,
		main:         main,
		params:       p,
		xzMultiplier: coordinateScale * p.XZScale,
		yMultiplier:  coordinateScale * p.YScale,
	}
	b.maxValue = minLimit.MaxBrokenValue(b.yMultiplier)
	return b, nil
}

// NewUnseededBlendedNoise seeds from a fixed Xoroshiro stream (seed 0).
func NewUnseededBlendedNoise(p BlendedParams) (*BlendedNoise, error) {
	return NewBlendedNoise(rng.NewXoroshiro(0), p)
}

// WithNewRandom builds a fresh instance with the same parameters from r.
// The parameters were validated when b was built, so this cannot fail.
func (b *BlendedNoise) WithNewRandom(r RandomSource) *BlendedNoise {
	nb, err := NewBlendedNoise(r, b.params)
	if err != nil {
		panic(fmt.Sprintf("synth: rebuilding validated blended noise: %v", err))
	}
	return nb
}

// Compute returns the density at a block coordinate.
func (b *BlendedNoise) Compute(x, y, z int) float64 {
	bx := float64(x) * b.xzMultiplier
	by := float64(y) * b.yMultiplier
	bz := float64(z) * b.xzMultiplier
	mx := bx / b.params.XZFactor
	my := by / b.params.YFactor
	mz := bz / b.params.XZFactor
	smear := b.yMultiplier * b.params.SmearScaleMultiplier
	mainSmear := smear / b.params.YFactor

	var mainSum float64
	freq := 1.0
	for i := 0; i < 8; i++ {
		if n := b.main.OctaveNoise(i); n != nil {
			mainSum += n.NoiseWithSmear(Wrap(mx*freq), Wrap(my*freq), Wrap(mz*freq), mainSmear*freq, my*freq) / freq
		}
		freq /= 2
	}

	blend := (mainSum/10 + 1) / 2
	onlyMax := blend >= 1
	onlyMin := blend <= 0

	var minSum, maxSum float64
	freq = 1.0
	for i := 0; i < 16; i++ {
		sx := Wrap(bx * freq)
		sy := Wrap(by * freq)
		sz := Wrap(bz * freq)
		ys := smear * freq
		if !onlyMax {
			if n := b.minLimit.OctaveNoise(i); n != nil {
				minSum += n.NoiseWithSmear(sx, sy, sz, ys, by*freq) / freq
			}
		}
		if !onlyMin {
			if n := b.maxLimit.OctaveNoise(i); n != nil {
				maxSum += n.NoiseWithSmear(sx, sy, sz, ys, by*freq) / freq
			}
		}
		freq /= 2
	}
	return mathx.ClampedLerp(minSum/512, maxSum/512, blend) / 128
}

// Fill computes one density per position into dst, which must be at least
// as long as pos.
func (b *BlendedNoise) Fill(dst []float64, pos []BlockPos) {
	for i, p := range pos {
		dst[i] = b.Compute(p.X, p.Y, p.Z)
	}
}

func (b *BlendedNoise) MinValue() float64     { return -b.maxValue }
func (b *BlendedNoise) MaxValue() float64     { return b.maxValue }
func (b *BlendedNoise) Params() BlendedParams { return b.params }

func (b *BlendedNoise) String() string {
	return fmt.Sprintf("BlendedNoise{minLimitNoise: %s, maxLimitNoise: %s, mainNoise: %s, xzScale: %v, yScale: %v, xzFactor: %v, yFactor: %v, smearScaleMultiplier: %v}",
		b.minLimit, b.maxLimit, b.main,
		b.params.XZScale, b.params.YScale, b.params.XZFactor, b.params.YFactor, b.params.SmearScaleMultiplier)
}
