package synth

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"voxelnoise.ai/internal/mathx"
	"voxelnoise.ai/internal/rng"
)

var unitParams = BlendedParams{XZScale: 1, YScale: 1, XZFactor: 80, YFactor: 160, SmearScaleMultiplier: 4}

// referenceCompute evaluates every octave of both limit noises regardless
// of the blend factor.
func referenceCompute(b *BlendedNoise, x, y, z int) (value, blend float64) {
	bx := float64(x) * b.xzMultiplier
	by := float64(y) * b.yMultiplier
	bz := float64(z) * b.xzMultiplier
	p := b.params
	smear := b.yMultiplier * p.SmearScaleMultiplier

	var mainSum float64
	freq := 1.0
	for i := 0; i < 8; i++ {
		n := b.main.OctaveNoise(i)
		mainSum += n.NoiseWithSmear(Wrap(bx/p.XZFactor*freq), Wrap(by/p.YFactor*freq), Wrap(bz/p.XZFactor*freq), smear/p.YFactor*freq, by/p.YFactor*freq) / freq
		freq /= 2
	}
	blend = (mainSum/10 + 1) / 2

	var minSum, maxSum float64
	freq = 1.0
	for i := 0; i < 16; i++ {
		sx, sy, sz := Wrap(bx*freq), Wrap(by*freq), Wrap(bz*freq)
		minSum += b.minLimit.OctaveNoise(i).NoiseWithSmear(sx, sy, sz, smear*freq, by*freq) / freq
		maxSum += b.maxLimit.OctaveNoise(i).NoiseWithSmear(sx, sy, sz, smear*freq, by*freq) / freq
		freq /= 2
	}
	return mathx.ClampedLerp(minSum/512, maxSum/512, blend) / 128, blend
}

func mustBlended(t *testing.T, r RandomSource, p BlendedParams) *BlendedNoise {
	t.Helper()
	b, err := NewBlendedNoise(r, p)
	if err != nil {
		t.Fatalf("NewBlendedNoise: %v", err)
	}
	return b
}

func TestBlendedNoise_Golden(t *testing.T) {
	unseeded, err := NewUnseededBlendedNoise(unitParams)
	if err != nil {
		t.Fatalf("NewUnseededBlendedNoise: %v", err)
	}
	cases := []struct {
		name    string
		b       *BlendedNoise
		x, y, z int
		want    float64
	}{
		{"unseeded unit", unseeded, 0, 64, 0, -0.023773543529804014},
		{"legacy seed 0", mustBlended(t, rng.NewLegacy(0), unitParams), 0, 64, 0, -0.15351446866192964},
		{"legacy seed 12345", mustBlended(t, rng.NewLegacy(12345), unitParams), 17, -5, 230, -0.1020007232158868},
		{"unseeded default", mustBlended(t, rng.NewXoroshiro(0), DefaultBlendedParams()), 0, 64, 0, -0.11111321157803848},
		{"unseeded default far", mustBlended(t, rng.NewXoroshiro(0), DefaultBlendedParams()), 100, -30, -250, -0.02434497913028931},
	}
	for _, tc := range cases {
		if got := tc.b.Compute(tc.x, tc.y, tc.z); !near(got, tc.want, goldenTol) {
			t.Fatalf("%s: Compute(%d,%d,%d)=%v want %v", tc.name, tc.x, tc.y, tc.z, got, tc.want)
		}
	}

	if got := unseeded.MaxValue(); !near(got, 686.412, 1e-9) {
		t.Fatalf("MaxValue=%v", got)
	}
	if unseeded.MinValue() != -unseeded.MaxValue() {
		t.Fatalf("MinValue must mirror MaxValue")
	}
	def := mustBlended(t, rng.NewXoroshiro(0), DefaultBlendedParams())
	if got := def.MaxValue(); !near(got, 87.55150000000002, 1e-9) {
		t.Fatalf("default MaxValue=%v", got)
	}
}

func TestBlendedNoise_Deterministic(t *testing.T) {
	a := mustBlended(t, rng.NewLegacy(77), DefaultBlendedParams())
	b := mustBlended(t, rng.NewLegacy(77), DefaultBlendedParams())
	for x := -48; x <= 48; x += 16 {
		for y := -64; y <= 256; y += 40 {
			if va, vb := a.Compute(x, y, -x), b.Compute(x, y, -x); va != vb {
				t.Fatalf("Compute(%d,%d,%d) differs: %v vs %v", x, y, -x, va, vb)
			}
		}
	}
}

func TestBlendedNoise_EarlyExitMatchesReference(t *testing.T) {
	b, err := NewUnseededBlendedNoise(unitParams)
	if err != nil {
		t.Fatalf("NewUnseededBlendedNoise: %v", err)
	}
	var onlyMax, onlyMin, total int
	for x := -64; x <= 64; x += 16 {
		for z := -64; z <= 64; z += 16 {
			for y := -64; y <= 320; y += 32 {
				total++
				got := b.Compute(x, y, z)
				want, blend := referenceCompute(b, x, y, z)
				if blend >= 1 {
					onlyMax++
				}
				if blend <= 0 {
					onlyMin++
				}
				if !near(got, want, 1e-15) {
					t.Fatalf("Compute(%d,%d,%d)=%v reference %v (blend %v)", x, y, z, got, want, blend)
				}
				if math.Abs(got) > b.MaxValue() {
					t.Fatalf("Compute(%d,%d,%d)=%v exceeds %v", x, y, z, got, b.MaxValue())
				}
			}
		}
	}
	if total != 1053 || onlyMax == 0 || onlyMin == 0 {
		t.Fatalf("grid did not exercise both shortcuts: total=%d onlyMax=%d onlyMin=%d", total, onlyMax, onlyMin)
	}
}

func TestBlendedNoise_WithinBoundsAtWideCoordinates(t *testing.T) {
	fields := []struct {
		name string
		b    *BlendedNoise
	}{
		{"legacy unit", mustBlended(t, rng.NewLegacy(9001), unitParams)},
		{"xoroshiro unit", mustBlended(t, rng.NewXoroshiro(-3), unitParams)},
		{"legacy default", mustBlended(t, rng.NewLegacy(9001), DefaultBlendedParams())},
		{"xoroshiro default", mustBlended(t, rng.NewXoroshiro(-3), DefaultBlendedParams())},
	}
	r := rand.New(rand.NewSource(20260301))
	for _, f := range fields {
		lo, hi := f.b.MinValue(), f.b.MaxValue()
		var seenMin, seenMax float64
		for i := 0; i < 5000; i++ {
			x := r.Intn(2_000_001) - 1_000_000
			y := r.Intn(1025) - 512
			z := r.Intn(2_000_001) - 1_000_000
			v := f.b.Compute(x, y, z)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("%s: Compute(%d,%d,%d)=%v", f.name, x, y, z, v)
			}
			if v < lo || v > hi {
				t.Fatalf("%s: Compute(%d,%d,%d)=%v outside [%v, %v]", f.name, x, y, z, v, lo, hi)
			}
			seenMin, seenMax = math.Min(seenMin, v), math.Max(seenMax, v)
		}
		if seenMin == 0 && seenMax == 0 {
			t.Fatalf("%s: every sample was zero", f.name)
		}
	}
}

func TestBlendedNoise_ConstructionOrder(t *testing.T) {
	b := mustBlended(t, rng.NewLegacy(5), unitParams)

	r := rng.NewLegacy(5)
	minLimit, _ := NewBlendedPerlinNoise(r, -15, 0)
	maxLimit, _ := NewBlendedPerlinNoise(r, -15, 0)
	main, _ := NewBlendedPerlinNoise(r, -7, 0)
	pairs := []struct {
		name      string
		got, want *PerlinNoise
	}{
		{"min", b.minLimit, minLimit},
		{"max", b.maxLimit, maxLimit},
		{"main", b.main, main},
	}
	for _, p := range pairs {
		for i := 0; i < p.want.Levels(); i++ {
			if p.got.levels[i].Table() != p.want.levels[i].Table() {
				t.Fatalf("%s octave index %d built out of order", p.name, i)
			}
		}
	}

	c := &countingSource{}
	if _, err := NewBlendedNoise(c, unitParams); err != nil {
		t.Fatalf("NewBlendedNoise: %v", err)
	}
	if want := (16 + 16 + 8) * octaveStreamSteps; c.steps != want {
		t.Fatalf("steps=%d want %d", c.steps, want)
	}
}

func TestBlendedNoise_WithNewRandom(t *testing.T) {
	b := mustBlended(t, rng.NewLegacy(1), unitParams)
	nb := b.WithNewRandom(rng.NewLegacy(0))
	if nb.Params() != b.Params() {
		t.Fatalf("params not carried over")
	}
	if got := nb.Compute(0, 64, 0); !near(got, -0.15351446866192964, goldenTol) {
		t.Fatalf("rebuilt Compute=%v", got)
	}
	if b.Compute(0, 64, 0) == nb.Compute(0, 64, 0) {
		t.Fatalf("rebuilt noise should not share permutation state")
	}
}

func TestBlendedNoise_Fill(t *testing.T) {
	b := mustBlended(t, rng.NewLegacy(9), DefaultBlendedParams())
	pos := []BlockPos{{0, 0, 0}, {5, 70, -3}, {-100, -60, 42}}
	dst := make([]float64, len(pos))
	b.Fill(dst, pos)
	for i, p := range pos {
		if dst[i] != b.Compute(p.X, p.Y, p.Z) {
			t.Fatalf("Fill[%d]=%v", i, dst[i])
		}
	}
}

func TestBlendedParams_Validate(t *testing.T) {
	if err := DefaultBlendedParams().Validate(); err != nil {
		t.Fatalf("default params invalid: %v", err)
	}
	bad := []BlendedParams{
		{XZScale: 0, YScale: 1, XZFactor: 80, YFactor: 160, SmearScaleMultiplier: 4},
		{XZScale: 1, YScale: 1001, XZFactor: 80, YFactor: 160, SmearScaleMultiplier: 4},
		{XZScale: 1, YScale: 1, XZFactor: 0, YFactor: 160, SmearScaleMultiplier: 4},
		{XZScale: 1, YScale: 1, XZFactor: 80, YFactor: math.Inf(1), SmearScaleMultiplier: 4},
		{XZScale: 1, YScale: 1, XZFactor: 80, YFactor: 160, SmearScaleMultiplier: 0.5},
		{XZScale: 1, YScale: 1, XZFactor: 80, YFactor: 160, SmearScaleMultiplier: 9},
		{XZScale: math.NaN(), YScale: 1, XZFactor: 80, YFactor: 160, SmearScaleMultiplier: 4},
	}
	for i, p := range bad {
		err := p.Validate()
		if !errors.Is(err, ErrInvalidParams) {
			t.Fatalf("case %d: expected ErrInvalidParams, got %v", i, err)
		}
		if _, err := NewUnseededBlendedNoise(p); err == nil {
			t.Fatalf("case %d: construction should fail", i)
		}
	}
}
