// Package shamir implements Shamir secret sharing and Lagrange
// recombination over any field.Field. Based on "How to share a secret",
// Adi Shamir, Communications of the ACM 22 (11).
package shamir

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/veilmpc/veil/pkg/math/field"
)

// Point is one evaluation (x, f(x)) of the sharing polynomial. X is the
// field embedding of a player ID; the secret lives at x = 0.
type Point struct {
	X, Y field.Element
}

// Share splits secret into numPlayers points of a uniformly random
// polynomial of degree threshold with constant term secret, evaluated at
// 1..numPlayers. Up to threshold points reveal nothing about the secret.
func Share(secret field.Element, threshold, numPlayers int, rand io.Reader) []Point {
	if threshold < 0 || threshold >= numPlayers {
		panic(fmt.Sprintf("shamir: threshold %d out of range for %d players", threshold, numPlayers))
	}
	f := secret.Field()

	coef := make([]field.Element, threshold+1)
	coef[0] = secret
	for j := 1; j <= threshold; j++ {
		coef[j] = f.Random(rand)
	}

	points := make([]Point, numPlayers)
	for i := 1; i <= numPlayers; i++ {
		// Horner's method: s + x(a₁ + x(a₂ + … x(aₜ))).
		x := f.Element(uint64(i))
		y := coef[threshold]
		for j := threshold - 1; j >= 0; j-- {
			y = coef[j].Add(y.Mul(x))
		}
		points[i-1] = Point{X: x, Y: y}
	}
	return points
}

// The recombination vector depends only on the x-coordinates and the
// evaluation point, so it is cached across calls.
var (
	vectorMu    sync.Mutex
	vectorCache = map[string][]field.Element{}
)

func vectorKey(points []Point, x field.Element) string {
	var b strings.Builder
	b.WriteString(x.Field().Name())
	for _, p := range points {
		b.Write(p.X.Bytes())
		b.WriteByte('|')
	}
	b.WriteByte('@')
	b.Write(x.Bytes())
	return b.String()
}

// RecombineAt interpolates the polynomial through the given points and
// evaluates it at x. At least degree+1 points are required for a
// degree-d sharing; the x-coordinates must be pairwise distinct.
func RecombineAt(points []Point, x field.Element) field.Element {
	if len(points) == 0 {
		panic("shamir: cannot recombine zero points")
	}
	key := vectorKey(points, x)

	vectorMu.Lock()
	vector, ok := vectorCache[key]
	vectorMu.Unlock()

	if !ok {
		vector = make([]field.Element, len(points))
		for i, pi := range points {
			factor := x.Field().One()
			for k, pk := range points {
				if k == i {
					continue
				}
				num := pk.X.Sub(x)
				den, err := pk.X.Sub(pi.X).Invert()
				if err != nil {
					panic("shamir: duplicate x-coordinate in recombination")
				}
				factor = factor.Mul(num.Mul(den))
			}
			vector[i] = factor
		}
		vectorMu.Lock()
		vectorCache[key] = vector
		vectorMu.Unlock()
	}

	sum := x.Field().Zero()
	for i, p := range points {
		sum = sum.Add(p.Y.Mul(vector[i]))
	}
	return sum
}

// Recombine interpolates the secret, i.e. the polynomial value at 0.
func Recombine(points []Point) field.Element {
	return RecombineAt(points, points[0].X.Field().Zero())
}

// Verify checks that the points lie on a polynomial of at most the given
// degree: the first degree+1 points fix the polynomial, and every further
// point must agree with it.
func Verify(points []Point, degree int) bool {
	if len(points) <= degree {
		return false
	}
	used := points[:degree+1]
	for _, p := range points[degree+1:] {
		if !RecombineAt(used, p.X).Equal(p.Y) {
			return false
		}
	}
	return true
}
