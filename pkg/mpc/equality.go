package mpc

import (
	"context"
	"math/big"

	"github.com/veilmpc/veil/internal/pc"
	"github.com/veilmpc/veil/pkg/math/field"
)

// Equal returns a 0/1 share of x == y, using the probabilistic
// quadratic-residue test from "Constant-Round Multiparty Computation
// for Interval Test, Equality Test, and Comparison", Nishide and Ohta,
// PKC 2007. The error probability is 2^-k for the runtime's security
// parameter k. The field modulus must be ≡ 3 (mod 4), so that -1 is a
// non-square.
func (rt *Runtime) Equal(x, y *Share) *Share {
	f := sameField(x, y)
	p := rt.nextPC()
	out := rt.newShare(f)
	go func() {
		v, err := rt.runEqual(p, f, rt.Sub(x, y))
		rt.post(func() {
			if err != nil {
				out.fail(err)
				return
			}
			out.resolve(v)
		})
	}()
	return out
}

// runEqual tests a == 0. Each round opens c = a·r + b·r'² for random r,
// r' and a random sign b ∈ {-1, 1}. If a is zero, c is a square exactly
// when b = 1; otherwise c is a square with probability 1/2 regardless
// of b. A player recovering b from the Legendre symbol of c learns one
// test bit that is 1 for sure only when a = 0; the AND of k test bits
// is the result.
func (rt *Runtime) runEqual(p pc.Path, f field.Field, a *Share) (field.Element, error) {
	ctx := context.Background()
	seq := pc.NewSeq(p)

	half, err := f.Element(2).Invert()
	if err != nil {
		return nil, err
	}
	legendreExp := new(big.Int).Rsh(new(big.Int).Sub(f.Modulus(), big.NewInt(1)), 1)

	testBit := func() (*Share, error) {
		for {
			// b ∈ {-1, 1}.
			b := rt.AddPublic(rt.MulPublic(rt.randomBit(seq.Next(), f), f.Element(2)), f.One().Neg())
			r := rt.randomShare(seq.Next(), f)
			rp := rt.randomShare(seq.Next(), f)

			ar := rt.mul(seq.Next(), a, r)
			brp := rt.mul(seq.Next(), b, rp)
			brp2 := rt.mul(seq.Next(), brp, rp)

			c, err := rt.open(seq.Next(), rt.t, rt.Add(ar, brp2)).Wait(ctx)
			if err != nil {
				return nil, err
			}
			switch legendre(c, legendreExp) {
			case 1:
				return rt.MulPublic(rt.AddPublic(b, f.One()), half), nil // (b+1)/2
			case -1:
				return rt.MulPublic(rt.SubFromPublic(f.One(), b), half), nil // (1-b)/2
			default:
				// c = 0, the masking r' hit zero. Go again.
			}
		}
	}

	bits := make([]*Share, rt.secParam)
	for i := range bits {
		if bits[i], err = testBit(); err != nil {
			return nil, err
		}
	}
	for len(bits) > 1 {
		var next []*Share
		for len(bits) > 1 {
			next = append(next, rt.mul(seq.Next(), bits[0], bits[1]))
			bits = bits[2:]
		}
		next = append(next, bits...)
		bits = next
	}
	return bits[0].Wait(ctx)
}

func legendre(a field.Element, exp *big.Int) int {
	v := a.Exp(exp)
	switch {
	case v.Equal(a.Field().One()):
		return 1
	case v.IsZero():
		return 0
	default:
		return -1
	}
}
