package matrix

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilmpc/veil/pkg/math/field"
)

var f1031 = field.MustPrime(big.NewInt(1031))

func TestMulVec(t *testing.T) {
	a := New(2, 3, f1031)
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			a.Set(i, j, f1031.Element(uint64(3*i+j+1)))
		}
	}
	v := []field.Element{f1031.Element(1), f1031.Element(2), f1031.Element(3)}
	out := a.MulVec(v)
	require.Len(t, out, 2)
	assert.True(t, out[0].Equal(f1031.Element(14)))
	assert.True(t, out[1].Equal(f1031.Element(32)))
}

func TestMulVecDimensionPanics(t *testing.T) {
	a := New(2, 3, f1031)
	assert.Panics(t, func() { a.MulVec([]field.Element{f1031.One()}) })
}

// determinant by Gaussian elimination, test helper only.
func determinant(t *testing.T, a *Matrix) field.Element {
	t.Helper()
	n := a.Rows()
	require.Equal(t, n, a.Cols())

	rows := make([][]field.Element, n)
	for i := range rows {
		rows[i] = make([]field.Element, n)
		copy(rows[i], a.Row(i))
	}
	f := rows[0][0].Field()
	det := f.One()
	for col := 0; col < n; col++ {
		pivot := -1
		for r := col; r < n; r++ {
			if !rows[r][col].IsZero() {
				pivot = r
				break
			}
		}
		if pivot == -1 {
			return f.Zero()
		}
		if pivot != col {
			rows[pivot], rows[col] = rows[col], rows[pivot]
			det = det.Neg()
		}
		det = det.Mul(rows[col][col])
		inv, err := rows[col][col].Invert()
		require.NoError(t, err)
		for r := col + 1; r < n; r++ {
			factor := rows[r][col].Mul(inv)
			for c := col; c < n; c++ {
				rows[r][c] = rows[r][c].Sub(factor.Mul(rows[col][c]))
			}
		}
	}
	return det
}

func TestHyperInvertible(t *testing.T) {
	h := Hyper(4, f1031)

	// Every square sub-matrix must be invertible. Check all 2x2
	// sub-matrices and the full matrix.
	assert.False(t, determinant(t, h).IsZero())
	for r0 := 0; r0 < 4; r0++ {
		for r1 := r0 + 1; r1 < 4; r1++ {
			for c0 := 0; c0 < 4; c0++ {
				for c1 := c0 + 1; c1 < 4; c1++ {
					sub := FromRows([][]field.Element{
						{h.At(r0, c0), h.At(r0, c1)},
						{h.At(r1, c0), h.At(r1, c1)},
					})
					assert.False(t, determinant(t, sub).IsZero(),
						"rows (%d,%d) cols (%d,%d)", r0, r1, c0, c1)
				}
			}
		}
	}
}

func TestHyperMapsPolynomials(t *testing.T) {
	// Hyper(n) maps evaluations of a polynomial at 0..n-1 to its
	// evaluations at n..2n-1. Try f(X) = 3 + 5X + 2X².
	n := 4
	h := Hyper(n, f1031)
	eval := func(x int64) field.Element {
		v := 3 + 5*x + 2*x*x
		return f1031.FromBig(big.NewInt(v))
	}
	in := make([]field.Element, n)
	for i := range in {
		in[i] = eval(int64(i))
	}
	out := h.MulVec(in)
	for i := range out {
		assert.True(t, out[i].Equal(eval(int64(n+i))), "i = %d", i)
	}
}
