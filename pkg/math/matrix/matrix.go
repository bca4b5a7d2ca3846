// Package matrix provides dense matrices over a field, and the
// hyper-invertible matrices used for verified triple generation.
package matrix

import (
	"fmt"
	"math/big"

	"github.com/veilmpc/veil/pkg/math/field"
)

// Matrix is an m×n matrix of field elements.
type Matrix struct {
	rows [][]field.Element
	m, n int
}

// New returns the m×n zero matrix over f.
func New(m, n int, f field.Field) *Matrix {
	rows := make([][]field.Element, m)
	for i := range rows {
		rows[i] = make([]field.Element, n)
		for j := range rows[i] {
			rows[i][j] = f.Zero()
		}
	}
	return &Matrix{rows: rows, m: m, n: n}
}

// FromRows wraps a row-major list of elements.
func FromRows(rows [][]field.Element) *Matrix {
	return &Matrix{rows: rows, m: len(rows), n: len(rows[0])}
}

func (a *Matrix) Rows() int { return a.m }
func (a *Matrix) Cols() int { return a.n }

func (a *Matrix) At(i, j int) field.Element     { return a.rows[i][j] }
func (a *Matrix) Set(i, j int, v field.Element) { a.rows[i][j] = v }

// Row returns row i; the slice is shared with the matrix.
func (a *Matrix) Row(i int) []field.Element { return a.rows[i] }

// MulVec returns the matrix-vector product a·v.
func (a *Matrix) MulVec(v []field.Element) []field.Element {
	if a.n != len(v) {
		panic(fmt.Sprintf("matrix: dimensions %dx%d do not match vector of length %d", a.m, a.n, len(v)))
	}
	f := v[0].Field()
	out := make([]field.Element, a.m)
	for i := 0; i < a.m; i++ {
		sum := f.Zero()
		for k := 0; k < a.n; k++ {
			sum = sum.Add(a.rows[i][k].Mul(v[k]))
		}
		out[i] = sum
	}
	return out
}

// Hyper builds an n×n hyper-invertible matrix over f: every square
// sub-matrix, taken from arbitrary subsets of rows and columns, is
// invertible. Entry (i,j) is ∏_{k≠j} (n+i-k)/(j-k), the Lagrange
// coefficient mapping interpolation points 0..n-1 to n..2n-1.
func Hyper(n int, f field.Field) *Matrix {
	out := New(n, n, f)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			product := f.One()
			for k := 0; k < n; k++ {
				if k == j {
					continue
				}
				num := f.FromBig(big.NewInt(int64(n + i - k)))
				den, err := f.FromBig(big.NewInt(int64(j - k))).Invert()
				if err != nil {
					panic("matrix: hyper-invertible construction needs a field larger than 2n")
				}
				product = product.Mul(num.Mul(den))
			}
			out.rows[i][j] = product
		}
	}
	return out
}
