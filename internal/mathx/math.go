package mathx

import "math"

func FloorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func Mod(a, b int) int {
	// b > 0
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// Floor rounds toward negative infinity and saturates to the int32 range, so
// lattice coordinates behave the same for any finite input.
func Floor(v float64) int {
	i := toInt32(v)
	if v < float64(i) {
		return int(i) - 1
	}
	return int(i)
}

// LFloor is Floor over the int64 range.
func LFloor(v float64) int64 {
	i := ToInt64(v)
	if v < float64(i) {
		return i - 1
	}
	return i
}

func toInt32(v float64) int32 {
	switch {
	case v != v:
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	}
	return int32(v)
}

// ToInt64 truncates toward zero, saturating at the int64 limits (NaN -> 0).
func ToInt64(v float64) int64 {
	switch {
	case v != v:
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return math.MinInt64
	}
	return int64(v)
}

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func Lerp(t, a, b float64) float64 {
	return a + t*(b-a)
}

func Lerp2(tx, ty, v00, v10, v01, v11 float64) float64 {
	return Lerp(ty, Lerp(tx, v00, v10), Lerp(tx, v01, v11))
}

func Lerp3(tx, ty, tz, v000, v100, v010, v110, v001, v101, v011, v111 float64) float64 {
	return Lerp(tz, Lerp2(tx, ty, v000, v100, v010, v110), Lerp2(tx, ty, v001, v101, v011, v111))
}

// ClampedLerp returns a below t=0 and b above t=1 without evaluating the
// interpolation.
func ClampedLerp(a, b, t float64) float64 {
	if t < 0 {
		return a
	}
	if t > 1 {
		return b
	}
	return Lerp(t, a, b)
}

// Smoothstep is the quintic fade 6t^5 - 15t^4 + 10t^3.
func Smoothstep(t float64) float64 {
	return t * t * t * (t*(t*6.0-15.0) + 10.0)
}

func SmoothstepDerivative(t float64) float64 {
	return 30.0 * t * t * (t - 1.0) * (t - 1.0)
}
