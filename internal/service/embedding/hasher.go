// Package embedding turns catalyst text into fixed-length unit vectors.
package embedding

import (
	"context"
	"math"
	"strings"
	"unicode"
)

// Dimensions is the length of every stored embedding.
const Dimensions = 384

// scatter is how many positions each token contributes to.
const scatter = 3

// Tokenize lowercases text, replaces anything that is not a letter, digit or
// space with nothing, and drops tokens of two characters or fewer.
func Tokenize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	fields := strings.Fields(b.String())
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 2 {
			out = append(out, f)
		}
	}
	return out
}

// tokenHash is the 32-bit polynomial string hash h = h*31 + c with wraparound.
func tokenHash(token string) int32 {
	var h int32
	for _, c := range token {
		h = h*31 + int32(c)
	}
	return h
}

// Deterministic computes the hashed bag-of-words embedding of text.
func Deterministic(text string) []float64 {
	v := make([]float64, Dimensions)
	for _, tok := range Tokenize(text) {
		h := int64(tokenHash(tok))
		for i := int64(0); i < scatter; i++ {
			idx := (h + i*1000) % Dimensions
			if idx < 0 {
				idx = -idx
			}
			v[idx] += 1
		}
	}
	return Normalize(v)
}

// Normalize scales v to unit L2 norm in place. A zero vector stays zero.
func Normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return v
	}
	n := math.Sqrt(sum)
	for i := range v {
		v[i] /= n
	}
	return v
}

// Norm returns the L2 norm of v.
func Norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Cosine returns the cosine similarity of a and b, or 0 when either is zero or
// their lengths differ.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// DeterministicProvider is the local, dependency-free provider.
type DeterministicProvider struct{}

func (DeterministicProvider) Name() string { return "deterministic" }

func (DeterministicProvider) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = Deterministic(t)
	}
	return out, nil
}
