// Package mining searches for strings whose SHA-256 digest, taken over a fixed
// seed followed by the string, starts with a given hex prefix.
//
// Candidates are produced by a bijective base-B numeral system over a caller
// supplied alphabet, so every index maps to exactly one non-empty string and
// string length never decreases as the index grows.
//
// SPDX-License-Identifier: AGPL-3.0-or-later
package mining

import "math"

// Encode writes the candidate for index into dst, least-significant digit
// first, and returns its length. dst must hold at least EncodedLen(index, B)
// bytes where B is len(alphabet); alphabet must be non-empty.
func Encode(dst []byte, index uint64, alphabet string) int {
	base := uint64(len(alphabet))

	// First digit straight from index: avoids index+1 overflowing at MaxUint64.
	dst[0] = alphabet[index%base]
	m := index / base
	n := 1
	for m > 0 {
		m--
		dst[n] = alphabet[m%base]
		m /= base
		n++
	}
	return n
}

// Candidate returns the candidate string for index as a fresh string.
func Candidate(index uint64, alphabet string) string {
	size := EncodedLen(index, len(alphabet))
	buf := make([]byte, size)
	n := Encode(buf, index, alphabet)
	return string(buf[:n])
}

// EncodedLen reports the length of the candidate for index in the given base.
func EncodedLen(index uint64, base int) uint64 {
	if base == 1 {
		if index == math.MaxUint64 {
			// Not representable; callers treat it as "too large".
			return math.MaxUint64
		}
		return index + 1
	}
	b := uint64(base)
	m := index / b
	n := uint64(1)
	for m > 0 {
		m = (m - 1) / b
		n++
	}
	return n
}

// ScratchSize is the buffer size needed to encode every index in [start, end):
// the length of the last candidate plus one zero guard byte.
//
// Length is non-decreasing in the index, so a buffer of this size zeroed once
// at the start of a search always holds zeros past the current candidate.
func ScratchSize(end uint64, base int) uint64 {
	last := uint64(0)
	if end > 0 {
		last = end - 1
	}
	n := EncodedLen(last, base)
	if n == math.MaxUint64 {
		return n
	}
	return n + 1
}
