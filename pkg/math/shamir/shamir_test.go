package shamir

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilmpc/veil/pkg/math/field"
)

var f1031 = field.MustPrime(big.NewInt(1031))

func TestShareRecombine(t *testing.T) {
	for threshold := 0; threshold <= 3; threshold++ {
		secret := f1031.Element(919)
		points := Share(secret, threshold, 7, rand.Reader)
		require.Len(t, points, 7)

		// Any threshold+1 points recover the secret.
		assert.True(t, Recombine(points[:threshold+1]).Equal(secret))
		assert.True(t, Recombine(points[6-threshold:]).Equal(secret))
		assert.True(t, Recombine(points).Equal(secret))
	}
}

func TestShareThreshold(t *testing.T) {
	secret := f1031.Element(1)
	// With t points the polynomial is underdetermined; interpolating
	// through too few points gives the wrong constant term almost always.
	// Statistical check over repeated sharings.
	misses := 0
	for i := 0; i < 32; i++ {
		points := Share(secret, 2, 5, rand.Reader)
		if !Recombine(points[:2]).Equal(secret) {
			misses++
		}
	}
	assert.Greater(t, misses, 0, "2 points must not determine a degree-2 sharing")
}

func TestShareBadThresholdPanics(t *testing.T) {
	secret := f1031.Element(1)
	assert.Panics(t, func() { Share(secret, 3, 3, rand.Reader) })
	assert.Panics(t, func() { Share(secret, -1, 3, rand.Reader) })
}

func TestRecombineAt(t *testing.T) {
	// f(X) = 5 + 2X over ℤ₁₀₃₁.
	points := []Point{
		{X: f1031.Element(1), Y: f1031.Element(7)},
		{X: f1031.Element(2), Y: f1031.Element(9)},
	}
	at3 := RecombineAt(points, f1031.Element(3))
	assert.True(t, at3.Equal(f1031.Element(11)))
	assert.True(t, Recombine(points).Equal(f1031.Element(5)))
}

func TestRecombineDuplicatePanics(t *testing.T) {
	points := []Point{
		{X: f1031.Element(1), Y: f1031.Element(7)},
		{X: f1031.Element(1), Y: f1031.Element(9)},
	}
	assert.Panics(t, func() { Recombine(points) })
}

func TestVerify(t *testing.T) {
	secret := f1031.Element(123)
	points := Share(secret, 2, 7, rand.Reader)
	assert.True(t, Verify(points, 2))
	assert.False(t, Verify(points[:2], 2), "not enough points")

	// Tamper with one share beyond the fixing prefix.
	points[5].Y = points[5].Y.Add(f1031.One())
	assert.False(t, Verify(points, 2))
}

func TestVerifyHigherDegreeFails(t *testing.T) {
	secret := f1031.Element(77)
	points := Share(secret, 4, 7, rand.Reader)
	assert.True(t, Verify(points, 4))
	assert.False(t, Verify(points, 2), "degree-4 sharing is not degree-2")
}

func TestShareGF256(t *testing.T) {
	f := field.GF256()
	secret := f.Element(0xab)
	points := Share(secret, 1, 3, rand.Reader)
	assert.True(t, Recombine(points[:2]).Equal(secret))
	assert.True(t, Recombine(points[1:]).Equal(secret))
}
