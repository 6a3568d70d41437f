package synth

import (
	"math"

	"voxelnoise.ai/internal/mathx"
)

var (
	sqrt3   = math.Sqrt(3)
	skew2   = 0.5 * (sqrt3 - 1)
	unskew2 = (3 - sqrt3) / 6
)

// SimplexNoise is one octave of simplex noise sharing the permutation
// layout of ImprovedNoise.
type SimplexNoise struct {
	t PermutationTable
}

func NewSimplexNoise(r RandomSource) *SimplexNoise {
	return &SimplexNoise{t: NewPermutationTable(r)}
}

func (s *SimplexNoise) Offsets() (xo, yo, zo float64) {
	return s.t.XO, s.t.YO, s.t.ZO
}

func (s *SimplexNoise) corner(gi int, x, y, z, radius float64) float64 {
	w := radius - x*x - y*y - z*z
	if w < 0 {
		return 0
	}
	w *= w
	return w * w * dot(&gradient[gi], x, y, z)
}

// Value2D samples 2D simplex noise; the result lies roughly in [-1, 1].
func (s *SimplexNoise) Value2D(x, y float64) float64 {
	skew := (x + y) * skew2
	i := mathx.Floor(x + skew)
	j := mathx.Floor(y + skew)
	unskew := float64(i+j) * unskew2
	x0 := x - (float64(i) - unskew)
	y0 := y - (float64(j) - unskew)

	// Upper or lower triangle of the skewed cell.
	i1, j1 := 0, 1
	if x0 > y0 {
		i1, j1 = 1, 0
	}

	x1 := x0 - float64(i1) + unskew2
	y1 := y0 - float64(j1) + unskew2
	x2 := x0 - 1 + 2*unskew2
	y2 := y0 - 1 + 2*unskew2

	ii := i & 0xFF
	jj := j & 0xFF
	t := &s.t
	g0 := t.at(ii+t.at(jj)) % 12
	g1 := t.at(ii+i1+t.at(jj+j1)) % 12
	g2 := t.at(ii+1+t.at(jj+1)) % 12

	n0 := s.corner(g0, x0, y0, 0, 0.5)
	n1 := s.corner(g1, x1, y1, 0, 0.5)
	n2 := s.corner(g2, x2, y2, 0, 0.5)
	return 70 * (n0 + n1 + n2)
}

// Value3D samples 3D simplex noise.
func (s *SimplexNoise) Value3D(x, y, z float64) float64 {
	const (
		f3 = 0.3333333333333333
		g3 = 0.16666666666666666
	)
	skew := (x + y + z) * f3
	i := mathx.Floor(x + skew)
	j := mathx.Floor(y + skew)
	k := mathx.Floor(z + skew)
	unskew := float64(i+j+k) * g3
	x0 := x - (float64(i) - unskew)
	y0 := y - (float64(j) - unskew)
	z0 := z - (float64(k) - unskew)

	var i1, j1, k1, i2, j2, k2 int
	if x0 >= y0 {
		switch {
		case y0 >= z0:
			i1, j1, k1, i2, j2, k2 = 1, 0, 0, 1, 1, 0
		case x0 >= z0:
			i1, j1, k1, i2, j2, k2 = 1, 0, 0, 1, 0, 1
		default:
			i1, j1, k1, i2, j2, k2 = 0, 0, 1, 1, 0, 1
		}
	} else {
		switch {
		case y0 < z0:
			i1, j1, k1, i2, j2, k2 = 0, 0, 1, 0, 1, 1
		case x0 < z0:
			i1, j1, k1, i2, j2, k2 = 0, 1, 0, 0, 1, 1
		default:
			i1, j1, k1, i2, j2, k2 = 0, 1, 0, 1, 1, 0
		}
	}

	x1 := x0 - float64(i1) + g3
	y1 := y0 - float64(j1) + g3
	z1 := z0 - float64(k1) + g3
	x2 := x0 - float64(i2) + f3
	y2 := y0 - float64(j2) + f3
	z2 := z0 - float64(k2) + f3
	x3 := x0 - 1 + 0.5
	y3 := y0 - 1 + 0.5
	z3 := z0 - 1 + 0.5

	ii := i & 0xFF
	jj := j & 0xFF
	kk := k & 0xFF
	t := &s.t
	c0 := t.at(ii+t.at(jj+t.at(kk))) % 12
	c1 := t.at(ii+i1+t.at(jj+j1+t.at(kk+k1))) % 12
	c2 := t.at(ii+i2+t.at(jj+j2+t.at(kk+k2))) % 12
	c3 := t.at(ii+1+t.at(jj+1+t.at(kk+1))) % 12

	n0 := s.corner(c0, x0, y0, z0, 0.6)
	n1 := s.corner(c1, x1, y1, z1, 0.6)
	n2 := s.corner(c2, x2, y2, z2, 0.6)
	n3 := s.corner(c3, x3, y3, z3, 0.6)
	return 32 * (n0 + n1 + n2 + n3)
}
