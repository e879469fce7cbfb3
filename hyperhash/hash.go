// Package hyperhash implements the 32-bit fingerprint hash used for slot
// placement in hypermap. It is a CityHash32-style function built from the
// Murmur3 mixing primitives; output is bit-exact across processes, so clients
// may pre-hash keys and agree with the table on placement.
//
// This is not a cryptographic hash. Do not use it where collision resistance
// against adversarial input matters.
package hyperhash

import (
	"encoding/binary"
	"math/bits"
	"unsafe"
)

// Magic numbers for 32-bit hashing. Copied from Murmur3.
const (
	c1 = 0xcc9e2d51
	c2 = 0x1b873593
)

func fetch32(s []byte, i int) uint32 {
	return binary.LittleEndian.Uint32(s[i:])
}

func rotate32(val uint32, shift int) uint32 {
	return bits.RotateLeft32(val, -shift)
}

// A 32-bit to 32-bit integer hash copied from Murmur3.
func fmix(h uint32) uint32 {
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16

	return h
}

// Helper from Murmur3 for combining two 32-bit values.
func mur(a, h uint32) uint32 {
	a *= c1
	a = rotate32(a, 17)
	a *= c2
	h ^= a
	h = rotate32(h, 19)

	return h*5 + 0xe6546b64
}

func hash32Len0to4(s []byte) uint32 {
	b := uint32(0)
	c := uint32(9)

	for _, v := range s {
		// The reference treats bytes as signed chars, so sign-extend.
		b = b*c1 + uint32(int32(int8(v)))
		c ^= b
	}

	return fmix(mur(b, mur(uint32(len(s)), c)))
}

func hash32Len5to12(s []byte) uint32 {
	l := len(s)

	a := uint32(l)
	b := a * 5
	c := uint32(9)
	d := b

	a += fetch32(s, 0)
	b += fetch32(s, l-4)
	c += fetch32(s, (l>>1)&4)

	return fmix(mur(c, mur(b, mur(a, d))))
}

func hash32Len13to24(s []byte) uint32 {
	l := len(s)

	a := fetch32(s, (l>>1)-4)
	b := fetch32(s, 4)
	c := fetch32(s, l-8)
	d := fetch32(s, l>>1)
	e := fetch32(s, 0)
	f := fetch32(s, l-4)
	h := uint32(l)

	return fmix(mur(f, mur(e, mur(d, mur(c, mur(b, mur(a, h)))))))
}

// Sum32 returns the fingerprint of s. Distinct length regimes (0-4, 5-12,
// 13-24, >24 bytes) use distinct mixing paths; longer inputs are folded in
// 20-byte blocks across three accumulators.
func Sum32(s []byte) uint32 {
	l := len(s)

	if l <= 24 {
		switch {
		case l <= 4:
			return hash32Len0to4(s)
		case l <= 12:
			return hash32Len5to12(s)
		default:
			return hash32Len13to24(s)
		}
	}

	h := uint32(l)
	g := c1 * h
	f := g

	a0 := rotate32(fetch32(s, l-4)*c1, 17) * c2
	a1 := rotate32(fetch32(s, l-8)*c1, 17) * c2
	a2 := rotate32(fetch32(s, l-16)*c1, 17) * c2
	a3 := rotate32(fetch32(s, l-12)*c1, 17) * c2
	a4 := rotate32(fetch32(s, l-20)*c1, 17) * c2

	h ^= a0
	h = rotate32(h, 19)
	h = h*5 + 0xe6546b64
	h ^= a2
	h = rotate32(h, 19)
	h = h*5 + 0xe6546b64
	g ^= a1
	g = rotate32(g, 19)
	g = g*5 + 0xe6546b64
	g ^= a3
	g = rotate32(g, 19)
	g = g*5 + 0xe6546b64
	f += a4
	f = rotate32(f, 19)
	f = f*5 + 0xe6546b64

	for iters, pos := (l-1)/20, 0; iters != 0; iters, pos = iters-1, pos+20 {
		a0 := rotate32(fetch32(s, pos)*c1, 17) * c2
		a1 := fetch32(s, pos+4)
		a2 := rotate32(fetch32(s, pos+8)*c1, 17) * c2
		a3 := rotate32(fetch32(s, pos+12)*c1, 17) * c2
		a4 := fetch32(s, pos+16)

		h ^= a0
		h = rotate32(h, 18)
		h = h*5 + 0xe6546b64
		f += a1
		f = rotate32(f, 19)
		f = f * c1
		g += a2
		g = rotate32(g, 18)
		g = g*5 + 0xe6546b64
		h ^= a3 + a1
		h = rotate32(h, 19)
		h = h*5 + 0xe6546b64
		g ^= a4
		g = bits.ReverseBytes32(g) * 5
		h += a4 * 5
		h = bits.ReverseBytes32(h)
		f += a0

		f, g, h = g, h, f
	}

	g = rotate32(g, 11) * c1
	g = rotate32(g, 17) * c1
	f = rotate32(f, 11) * c1
	f = rotate32(f, 17) * c1
	h = rotate32(h+g, 19)
	h = h*5 + 0xe6546b64
	h = rotate32(h, 17) * c1
	h = rotate32(h+f, 19)
	h = h*5 + 0xe6546b64
	h = rotate32(h, 17) * c1

	return h
}

// Sum32String fingerprints a string key without copying it.
func Sum32String(s string) uint32 {
	if len(s) == 0 {
		return Sum32(nil)
	}

	return Sum32(unsafe.Slice(unsafe.StringData(s), len(s)))
}
