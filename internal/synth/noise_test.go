package synth

import (
	"errors"
	"math"
	"testing"

	"voxelnoise.ai/internal/rng"
)

const goldenTol = 1e-12

func near(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// countingSource counts stream steps the way a legacy LCG does: one per
// bounded int, two per double.
type countingSource struct {
	steps int
}

func (c *countingSource) NextInt(bound int) int { c.steps++; return 0 }
func (c *countingSource) NextDouble() float64   { c.steps += 2; return 0.5 }
func (c *countingSource) ConsumeCount(n int)    { c.steps += n }

var permutation12345 = [256]uint8{
	83, 88, 161, 90, 117, 220, 146, 221, 68, 86, 213, 124, 192, 112, 203, 19,
	248, 82, 184, 97, 61, 89, 201, 56, 177, 69, 237, 168, 243, 13, 78, 187,
	178, 231, 136, 102, 255, 162, 132, 165, 148, 87, 42, 163, 58, 176, 100, 140,
	188, 5, 94, 96, 74, 171, 40, 79, 209, 125, 219, 15, 37, 119, 3, 164,
	38, 49, 244, 52, 54, 251, 139, 253, 34, 128, 169, 55, 1, 160, 207, 218,
	67, 9, 108, 247, 30, 75, 189, 190, 167, 229, 24, 222, 114, 41, 85, 95,
	22, 210, 216, 239, 150, 200, 47, 174, 116, 92, 138, 101, 48, 62, 254, 197,
	180, 204, 32, 35, 8, 84, 143, 65, 135, 149, 57, 72, 12, 214, 145, 185,
	195, 206, 240, 120, 53, 4, 234, 211, 121, 33, 20, 133, 147, 110, 91, 0,
	77, 205, 173, 227, 226, 31, 194, 156, 141, 224, 175, 153, 182, 252, 217, 242,
	155, 245, 126, 6, 93, 98, 18, 241, 154, 151, 26, 76, 230, 23, 142, 183,
	28, 225, 27, 191, 99, 71, 59, 235, 107, 159, 127, 63, 134, 66, 181, 158,
	250, 44, 109, 103, 166, 208, 196, 2, 246, 228, 21, 111, 236, 73, 29, 45,
	223, 238, 152, 113, 10, 212, 179, 39, 232, 186, 104, 50, 115, 60, 64, 122,
	172, 7, 81, 130, 36, 11, 105, 80, 170, 46, 157, 249, 199, 144, 106, 131,
	17, 43, 137, 70, 25, 118, 123, 16, 233, 51, 215, 193, 129, 198, 202, 14,
}

func TestPermutationTable_Golden(t *testing.T) {
	tab := NewPermutationTable(rng.NewLegacy(12345))
	if tab.P != permutation12345 {
		t.Fatalf("permutation mismatch: %v", tab.P)
	}
	if tab.XO != 92.62159543308078 || tab.YO != 238.8463322338665 || tab.ZO != 213.27138533658206 {
		t.Fatalf("offsets=%v,%v,%v", tab.XO, tab.YO, tab.ZO)
	}
}

func TestPermutationTable_IsPermutation(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		tab := NewPermutationTable(rng.NewXoroshiro(seed))
		var seen [256]bool
		for _, v := range tab.P {
			if seen[v] {
				t.Fatalf("seed %d: duplicate %d", seed, v)
			}
			seen[v] = true
		}
		for _, o := range []float64{tab.XO, tab.YO, tab.ZO} {
			if o < 0 || o >= 256 {
				t.Fatalf("seed %d: offset %v out of range", seed, o)
			}
		}
	}
}

func TestPermutationTable_Consumption(t *testing.T) {
	c := &countingSource{}
	NewPermutationTable(c)
	if c.steps != octaveStreamSteps {
		t.Fatalf("steps=%d want %d", c.steps, octaveStreamSteps)
	}
}

func TestImprovedNoise_Golden(t *testing.T) {
	n := NewImprovedNoise(rng.NewLegacy(12345))
	if got := n.Noise(0.5, 1.25, -2.75); !near(got, 0.25749405314810775, goldenTol) {
		t.Fatalf("Noise=%v", got)
	}
	if got := n.NoiseWithSmear(10, 20, 30, 0.5, 0.3); !near(got, -0.25374550838340176, goldenTol) {
		t.Fatalf("NoiseWithSmear=%v", got)
	}
}

func TestImprovedNoise_ZeroAtLatticePoints(t *testing.T) {
	n := NewImprovedNoise(rng.NewLegacy(3))
	xo, yo, zo := n.Offsets()
	for i := 0; i < 5; i++ {
		// A lattice point relative to the offsets has all fractions at zero.
		x := math.Floor(xo) + float64(i) - xo
		y := math.Floor(yo) - yo
		z := math.Floor(zo) - float64(i) - zo
		sx, sy, sz := x+xo, y+yo, z+zo
		if sx != math.Floor(sx) || sy != math.Floor(sy) || sz != math.Floor(sz) {
			continue
		}
		if got := n.Noise(x, y, z); got != 0 {
			t.Fatalf("lattice noise=%v", got)
		}
	}
}

func TestImprovedNoise_DerivativeMatchesFiniteDifference(t *testing.T) {
	n := NewImprovedNoise(rng.NewXoroshiro(11))
	const h = 1e-6
	points := [][3]float64{{0.3, 0.7, 0.1}, {12.25, -4.6, 3.9}, {-100.4, 55.55, 0.05}}
	for _, p := range points {
		var d [3]float64
		v := n.NoiseWithDerivative(p[0], p[1], p[2], &d)
		if want := n.Noise(p[0], p[1], p[2]); !near(v, want, 1e-12) {
			t.Fatalf("value %v != Noise %v", v, want)
		}
		fd := [3]float64{
			(n.Noise(p[0]+h, p[1], p[2]) - n.Noise(p[0]-h, p[1], p[2])) / (2 * h),
			(n.Noise(p[0], p[1]+h, p[2]) - n.Noise(p[0], p[1]-h, p[2])) / (2 * h),
			(n.Noise(p[0], p[1], p[2]+h) - n.Noise(p[0], p[1], p[2]-h)) / (2 * h),
		}
		for i := range d {
			if !near(d[i], fd[i], 1e-5) {
				t.Fatalf("point %v axis %d: analytic %v finite %v", p, i, d[i], fd[i])
			}
		}
	}
}

func TestSimplexNoise_Golden(t *testing.T) {
	s := NewSimplexNoise(rng.NewLegacy(42))
	if got := s.Value2D(12.5, -7.25); !near(got, 0.0862668796324545, goldenTol) {
		t.Fatalf("Value2D=%v", got)
	}
	if got := s.Value3D(1.5, 2.25, -3.75); !near(got, 0.4687624999999995, goldenTol) {
		t.Fatalf("Value3D=%v", got)
	}
}

func TestPerlinSimplexNoise_Golden(t *testing.T) {
	p, err := NewPerlinSimplexNoise(rng.NewLegacy(1234), []int{-2, -1, 0})
	if err != nil {
		t.Fatalf("NewPerlinSimplexNoise: %v", err)
	}
	if got := p.Value(10, 20, false); !near(got, -0.08325632753334664, goldenTol) {
		t.Fatalf("Value=%v", got)
	}
	if got := p.Value(-3.5, 7.125, true); !near(got, 0.348492249854095, goldenTol) {
		t.Fatalf("Value offsets=%v", got)
	}

	pos, err := NewPerlinSimplexNoise(rng.NewLegacy(99), []int{0, 1, 2})
	if err != nil {
		t.Fatalf("NewPerlinSimplexNoise positive: %v", err)
	}
	if got := pos.Value(0.5, 0.25, false); !near(got, -0.00774842149737251, goldenTol) {
		t.Fatalf("positive Value=%v", got)
	}
	if _, err := NewPerlinSimplexNoise(rng.NewLegacy(1), nil); !errors.Is(err, ErrNoOctaves) {
		t.Fatalf("expected ErrNoOctaves, got %v", err)
	}
}

func TestNormalNoise_Golden(t *testing.T) {
	n, err := NewNormalNoise(rng.NewXoroshiro(7), Octaves{First: -3, Amplitudes: []float64{1, 1, 0, 1}})
	if err != nil {
		t.Fatalf("NewNormalNoise: %v", err)
	}
	if got := n.Value(100, 64, -50); !near(got, -0.4477929687300271, goldenTol) {
		t.Fatalf("Value=%v", got)
	}
	if got := n.MaxValue(); !near(got, 4.622222222222222, 1e-12) {
		t.Fatalf("MaxValue=%v", got)
	}
	for x := -200.0; x <= 200; x += 37.5 {
		if v := n.Value(x, x/3, -x); math.Abs(v) > n.MaxValue() {
			t.Fatalf("|%v| exceeds %v", v, n.MaxValue())
		}
	}
	if _, err := NewNormalNoise(rng.NewXoroshiro(7), Octaves{First: -2, Amplitudes: []float64{0, 0}}); !errors.Is(err, ErrNoOctaves) {
		t.Fatalf("expected ErrNoOctaves, got %v", err)
	}
}
