package rng

import (
	"crypto/md5"
	"encoding/binary"
	"unicode/utf16"
)

const (
	goldenRatio64 uint64 = 0x9E3779B97F4A7C15
	silverRatio64 uint64 = 0x6A09E667F3BCC909
)

// Seed128 is the two-word state used to seed Xoroshiro streams.
type Seed128 struct {
	Lo, Hi uint64
}

func (s Seed128) Mixed() Seed128 {
	return Seed128{Lo: mixStafford13(s.Lo), Hi: mixStafford13(s.Hi)}
}

func mixStafford13(z uint64) uint64 {
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

func UpgradeSeedUnmixed(seed int64) Seed128 {
	lo := uint64(seed) ^ silverRatio64
	return Seed128{Lo: lo, Hi: lo + goldenRatio64}
}

func UpgradeSeed(seed int64) Seed128 {
	return UpgradeSeedUnmixed(seed).Mixed()
}

// SeedFromHashOf splits the MD5 digest of name into two big-endian words.
func SeedFromHashOf(name string) Seed128 {
	sum := md5.Sum([]byte(name))
	return Seed128{
		Lo: binary.BigEndian.Uint64(sum[:8]),
		Hi: binary.BigEndian.Uint64(sum[8:]),
	}
}

// StringHash is the 31-based polynomial hash over UTF-16 code units that
// legacy seeds were derived with.
func StringHash(s string) int32 {
	var h int32
	for _, u := range utf16.Encode([]rune(s)) {
		h = 31*h + int32(u)
	}
	return h
}

// PositionSeed scrambles a block position into a 64-bit seed. The x term is
// multiplied in 32-bit arithmetic on purpose.
func PositionSeed(x, y, z int) int64 {
	v := int64(int32(x)*3129871) ^ int64(z)*116129781 ^ int64(y)
	v = v*v*42317861 + v*11
	return v >> 16
}
