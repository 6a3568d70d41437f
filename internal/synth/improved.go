package synth

import (
	"fmt"

	"voxelnoise.ai/internal/mathx"
)

// gradient holds the 16 lattice gradients. The last four repeat earlier
// entries so a 4-bit hash selects uniformly among 12 directions.
var gradient = [16][3]float64{
	{1, 1, 0}, {-1, 1, 0}, {1, -1, 0}, {-1, -1, 0},
	{1, 0, 1}, {-1, 0, 1}, {1, 0, -1}, {-1, 0, -1},
	{0, 1, 1}, {0, -1, 1}, {0, 1, -1}, {0, -1, -1},
	{1, 1, 0}, {0, -1, 1}, {-1, 1, 0}, {0, -1, -1},
}

// smearEpsilon is the single-precision 1e-7 widened to double.
const smearEpsilon = 1.0000000116860974e-7

func dot(g *[3]float64, x, y, z float64) float64 {
	return g[0]*x + g[1]*y + g[2]*z
}

func gradDot(hash int, x, y, z float64) float64 {
	return dot(&gradient[hash&15], x, y, z)
}

// ImprovedNoise is one octave of 3D gradient noise.
type ImprovedNoise struct {
	t PermutationTable
}

func NewImprovedNoise(r RandomSource) *ImprovedNoise {
	return &ImprovedNoise{t: NewPermutationTable(r)}
}

// Offsets returns the lattice offsets added to every sample.
func (n *ImprovedNoise) Offsets() (xo, yo, zo float64) {
	return n.t.XO, n.t.YO, n.t.ZO
}

// Table exposes the permutation for inspection.
func (n *ImprovedNoise) Table() PermutationTable {
	return n.t
}

func (n *ImprovedNoise) Noise(x, y, z float64) float64 {
	return n.NoiseWithSmear(x, y, z, 0, 0)
}

// NoiseWithSmear samples with the vertical smear used by terrain: when yScale
// is non-zero the y gradient input is snapped down to multiples of yScale,
// with yMax (if non-negative) capping the fractional y used for the snap.
func (n *ImprovedNoise) NoiseWithSmear(x, y, z, yScale, yMax float64) float64 {
	sx := x + n.t.XO
	sy := y + n.t.YO
	sz := z + n.t.ZO
	gx := mathx.Floor(sx)
	gy := mathx.Floor(sy)
	gz := mathx.Floor(sz)
	fx := sx - float64(gx)
	fy := sy - float64(gy)
	fz := sz - float64(gz)

	var smear float64
	if yScale != 0 {
		ref := fy
		if yMax >= 0 && yMax < fy {
			ref = yMax
		}
		smear = float64(mathx.Floor(ref/yScale+smearEpsilon)) * yScale
	}
	return n.sampleAndLerp(gx, gy, gz, fx, fy-smear, fz, fy)
}

func (n *ImprovedNoise) sampleAndLerp(gx, gy, gz int, fx, wy, fz, fy float64) float64 {
	t := &n.t
	i := t.at(gx)
	j := t.at(gx + 1)
	k := t.at(i + gy)
	l := t.at(i + gy + 1)
	i1 := t.at(j + gy)
	j1 := t.at(j + gy + 1)

	d0 := gradDot(t.at(k+gz), fx, wy, fz)
	d1 := gradDot(t.at(i1+gz), fx-1, wy, fz)
	d2 := gradDot(t.at(l+gz), fx, wy-1, fz)
	d3 := gradDot(t.at(j1+gz), fx-1, wy-1, fz)
	d4 := gradDot(t.at(k+gz+1), fx, wy, fz-1)
	d5 := gradDot(t.at(i1+gz+1), fx-1, wy, fz-1)
	d6 := gradDot(t.at(l+gz+1), fx, wy-1, fz-1)
	d7 := gradDot(t.at(j1+gz+1), fx-1, wy-1, fz-1)

	return mathx.Lerp3(mathx.Smoothstep(fx), mathx.Smoothstep(fy), mathx.Smoothstep(fz), d0, d1, d2, d3, d4, d5, d6, d7)
}

// NoiseWithDerivative returns Noise(x, y, z) and adds its analytic gradient
// to d.
func (n *ImprovedNoise) NoiseWithDerivative(x, y, z float64, d *[3]float64) float64 {
	sx := x + n.t.XO
	sy := y + n.t.YO
	sz := z + n.t.ZO
	gx := mathx.Floor(sx)
	gy := mathx.Floor(sy)
	gz := mathx.Floor(sz)
	fx := sx - float64(gx)
	fy := sy - float64(gy)
	fz := sz - float64(gz)

	t := &n.t
	i := t.at(gx)
	j := t.at(gx + 1)
	k := t.at(i + gy)
	l := t.at(i + gy + 1)
	i1 := t.at(j + gy)
	j1 := t.at(j + gy + 1)

	g0 := &gradient[t.at(k+gz)&15]
	g1 := &gradient[t.at(i1+gz)&15]
	g2 := &gradient[t.at(l+gz)&15]
	g3 := &gradient[t.at(j1+gz)&15]
	g4 := &gradient[t.at(k+gz+1)&15]
	g5 := &gradient[t.at(i1+gz+1)&15]
	g6 := &gradient[t.at(l+gz+1)&15]
	g7 := &gradient[t.at(j1+gz+1)&15]

	d0 := dot(g0, fx, fy, fz)
	d1 := dot(g1, fx-1, fy, fz)
	d2 := dot(g2, fx, fy-1, fz)
	d3 := dot(g3, fx-1, fy-1, fz)
	d4 := dot(g4, fx, fy, fz-1)
	d5 := dot(g5, fx-1, fy, fz-1)
	d6 := dot(g6, fx, fy-1, fz-1)
	d7 := dot(g7, fx-1, fy-1, fz-1)

	ux := mathx.Smoothstep(fx)
	uy := mathx.Smoothstep(fy)
	uz := mathx.Smoothstep(fz)

	gradX := mathx.Lerp3(ux, uy, uz, g0[0], g1[0], g2[0], g3[0], g4[0], g5[0], g6[0], g7[0])
	gradY := mathx.Lerp3(ux, uy, uz, g0[1], g1[1], g2[1], g3[1], g4[1], g5[1], g6[1], g7[1])
	gradZ := mathx.Lerp3(ux, uy, uz, g0[2], g1[2], g2[2], g3[2], g4[2], g5[2], g6[2], g7[2])

	edgeX := mathx.Lerp2(uy, uz, d1-d0, d3-d2, d5-d4, d7-d6)
	edgeY := mathx.Lerp2(uz, ux, d2-d0, d6-d4, d3-d1, d7-d5)
	edgeZ := mathx.Lerp2(ux, uy, d4-d0, d5-d1, d6-d2, d7-d3)

	d[0] += gradX + mathx.SmoothstepDerivative(fx)*edgeX
	d[1] += gradY + mathx.SmoothstepDerivative(fy)*edgeY
	d[2] += gradZ + mathx.SmoothstepDerivative(fz)*edgeZ

	return mathx.Lerp3(ux, uy, uz, d0, d1, d2, d3, d4, d5, d6, d7)
}

func (n *ImprovedNoise) String() string {
	return fmt.Sprintf("ImprovedNoise{xo=%.2f, yo=%.2f, zo=%.2f, p0=%d, p255=%d}",
		n.t.XO, n.t.YO, n.t.ZO, n.t.P[0], n.t.P[255])
}
