package synth

import "fmt"

// normalInputFactor offsets the second field so the two never align.
const normalInputFactor = 1.0181268882175227

// NormalNoise is two hashed PerlinNoise fields summed and rescaled so the
// result has a roughly unit expected deviation.
type NormalNoise struct {
	first       *PerlinNoise
	second      *PerlinNoise
	valueFactor float64
	maxValue    float64
}

func NewNormalNoise(r PositionalSource, oct Octaves) (*NormalNoise, error) {
	lo, hi := -1, -1
	for i, a := range oct.Amplitudes {
		if a == 0 {
			continue
		}
		if lo < 0 {
			lo = i
		}
		hi = i
	}
	if lo < 0 {
		return nil, fmt.Errorf("%w: no non-zero amplitude", ErrNoOctaves)
	}
	first, err := NewPerlinNoise(r, oct)
	if err != nil {
		return nil, err
	}
	second, err := NewPerlinNoise(r, oct)
	if err != nil {
		return nil, err
	}
	n := &NormalNoise{first: first, second: second}
	n.valueFactor = 0.16666666666666666 / (0.1 * (1 + 1/float64(hi-lo+1)))
	n.maxValue = (first.MaxValue() + second.MaxValue()) * n.valueFactor
	return n, nil
}

func (n *NormalNoise) Value(x, y, z float64) float64 {
	x2 := x * normalInputFactor
	y2 := y * normalInputFactor
	z2 := z * normalInputFactor
	return (n.first.Value(x, y, z) + n.second.Value(x2, y2, z2)) * n.valueFactor
}

// MaxValue bounds |Value|.
func (n *NormalNoise) MaxValue() float64 { return n.maxValue }

func (n *NormalNoise) String() string {
	return fmt.Sprintf("NormalNoise{first: %s, second: %s}", n.first, n.second)
}
