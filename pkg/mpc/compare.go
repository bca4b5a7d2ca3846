package mpc

import (
	"context"
	crand "crypto/rand"
	"fmt"
	"math/big"

	"github.com/veilmpc/veil/internal/pc"
	"github.com/veilmpc/veil/pkg/math/field"
	"github.com/veilmpc/veil/pkg/party"
)

// ComparisonStrategy computes ordering predicates on shared values.
type ComparisonStrategy interface {
	GreaterEq(rt *Runtime, p pc.Path, x, y *Share) *Share
}

// GreaterEq returns a 0/1 share of x ≥ y, interpreting both operands
// as integers of the runtime's configured bit length.
func (rt *Runtime) GreaterEq(x, y *Share) *Share {
	return rt.compare.GreaterEq(rt, rt.nextPC(), x, y)
}

// LessThan returns a 0/1 share of x < y.
func (rt *Runtime) LessThan(x, y *Share) *Share {
	return rt.SubFromPublic(x.f.One(), rt.GreaterEq(x, y))
}

// Toft07 compares shared values with the constant-round protocol from
// "Primitives and Applications for Multi-party Computation", Tomas
// Toft, 2007. The bit decomposition work runs over an auxiliary small
// field, which only has to hold values up to 3l+3 for l-bit inputs.
type Toft07 struct {
	// SmallField overrides the auxiliary field. When nil, the smallest
	// prime field admissible for the bit length is used.
	SmallField field.Field
}

func smallFieldFor(l int) field.Field {
	q := big.NewInt(int64(3*l + 4))
	if q.Bit(0) == 0 {
		q.Add(q, big.NewInt(1))
	}
	for !q.ProbablyPrime(20) {
		q.Add(q, big.NewInt(2))
	}
	return field.MustPrime(q)
}

func (s *Toft07) GreaterEq(rt *Runtime, p pc.Path, x, y *Share) *Share {
	f := sameField(x, y)

	// One extra bit keeps equal inputs apart after the a'=2a+1, b'=2b
	// shift below.
	l := rt.bitLength + 1
	k := rt.secParam

	need := new(big.Int).Lsh(big.NewInt(1), uint(l+2))
	need.Add(need, new(big.Int).Lsh(big.NewInt(1), uint(l+k)))
	if f.Modulus().Cmp(need) <= 0 {
		return rt.failedShare(f, fmt.Errorf("mpc: field %s too small for %d-bit comparison", f.Name(), rt.bitLength))
	}
	small := s.SmallField
	if small == nil {
		small = smallFieldFor(l)
	}
	if small.Modulus().Cmp(big.NewInt(int64(3+3*l))) <= 0 {
		return rt.failedShare(f, fmt.Errorf("mpc: auxiliary field %s too small, need modulus > %d", small.Name(), 3+3*l))
	}

	out := rt.newShare(f)
	go func() {
		v, err := s.run(rt, p, f, small, l, k, x, y)
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

func (s *Toft07) run(rt *Runtime, p pc.Path, f, small field.Field, l, k int, x, y *Share) (field.Element, error) {
	ctx := context.Background()
	seq := pc.NewSeq(p)

	pow2 := make([]field.Element, l+k)
	for i := range pow2 {
		pow2[i] = f.FromBig(new(big.Int).Lsh(big.NewInt(1), uint(i)))
	}
	pow2l := pow2[l]
	inv2l, err := pow2l.Invert()
	if err != nil {
		return nil, err
	}

	// Preprocessing: l+k shared random bits making up the mask
	// r = Σ 2^i·r_i, the low l bits converted into the small field, a
	// wraparound indicator bit s in both fields, and a non-zero
	// multiplicative mask.
	rBits := make([]*Share, l+k)
	for i := range rBits {
		rBits[i] = rt.randomBit(seq.Next(), f)
	}
	rFull := rt.LinComb(pow2, rBits)
	rModl := rt.LinComb(pow2[:l], rBits[:l])

	rBitsSmall := make([]*Share, l)
	for i := range rBitsSmall {
		rBitsSmall[i] = rt.convertBit(seq.Next(), rBits[i], small)
	}

	sBit := rt.randomBit(seq.Next(), f)
	sSmall := rt.convertBit(seq.Next(), sBit, small)
	// s_sign = 1 - 2s ∈ {-1, 1}.
	sSign := rt.SubFromPublic(small.One(), rt.MulPublic(sSmall, small.Element(2)))

	mask, err := rt.nonZeroRandom(ctx, seq.Next(), small)
	if err != nil {
		return nil, err
	}

	// Online: z = (2x+1) - 2y + 2^l is positive, and its l-th bit is
	// the comparison result. Open c = z + r; r statistically hides z.
	aa := rt.AddPublic(rt.MulPublic(x, f.Element(2)), f.One())
	bb := rt.MulPublic(y, f.Element(2))
	z := rt.AddPublic(rt.Sub(aa, bb), pow2l)

	cShare := rt.open(seq.Next(), rt.t, rt.Add(rFull, z))
	cVal, err := cShare.Wait(ctx)
	if err != nil {
		return nil, err
	}
	cBig := cVal.Big()

	// sumXORs[i] = Σ_{j>i} r_j ⊕ c_j, in the small field. XOR with a
	// public bit stays local.
	sumXORs := make([]*Share, l)
	sumXORs[l-1] = rt.Public(small.Zero())
	for i := l - 2; i >= 0; i-- {
		sumXORs[i] = rt.Add(sumXORs[i+1], rt.xorPublicBit(rBitsSmall[i+1], cBig.Bit(i+1)))
	}

	// e_i = s_sign + (r_i - c_i) + 3·sumXORs[i] is zero exactly at the
	// most significant index where r and c differ in the direction
	// selected by s. The masked product of all e_i reveals whether such
	// an index exists.
	factors := make([]*Share, 0, l+1)
	for i := 0; i < l; i++ {
		ci := small.Element(uint64(cBig.Bit(i)))
		ei := rt.Add(rt.AddPublic(rBitsSmall[i], ci.Neg()), sSign)
		ei = rt.Add(ei, rt.MulPublic(sumXORs[i], small.Element(3)))
		factors = append(factors, ei)
	}
	factors = append(factors, mask)

	for len(factors) > 1 {
		var next []*Share
		for len(factors) > 1 {
			a, b := factors[0], factors[1]
			factors = factors[2:]
			next = append(next, rt.mul(seq.Next(), a, b))
		}
		next = append(next, factors...)
		factors = next
	}
	eVal, err := rt.open(seq.Next(), rt.t, factors[0]).Wait(ctx)
	if err != nil {
		return nil, err
	}

	// UF = (e != 0) ⊕ s tells whether c's low bits underflowed r's.
	var uf *Share
	if eVal.IsZero() {
		uf = sBit
	} else {
		uf = rt.SubFromPublic(f.One(), sBit)
	}

	// z mod 2^l = c mod 2^l - r mod 2^l + UF·2^l; strip it from z and
	// shift down to extract the l-th bit.
	cMod2l := f.FromBig(new(big.Int).Rem(cBig, new(big.Int).Lsh(big.NewInt(1), uint(l))))
	low := rt.AddPublic(rt.Neg(rModl), cMod2l)
	low = rt.Add(low, rt.MulPublic(uf, pow2l))
	result := rt.MulPublic(rt.Sub(z, low), inv2l)
	return result.Wait(ctx)
}

// xorPublicBit returns a share of r ⊕ b for a shared bit r and a public
// bit b. Local.
func (rt *Runtime) xorPublicBit(r *Share, b uint) *Share {
	if b == 0 {
		return r
	}
	return rt.SubFromPublic(r.f.One(), r)
}

// convertBit moves a shared 0/1 value from its field into dst. Every
// player deals the same random integer mask in both fields; opening the
// masked bit in the source field lets players re-enter it in dst and
// strip the masks again. The masks statistically hide the bit in the
// opened sum.
func (rt *Runtime) convertBit(p pc.Path, bit *Share, dst field.Field) *Share {
	f := bit.f
	maskBits := rt.secParam + dst.BitLen()
	bound := new(big.Int).Lsh(big.NewInt(1), uint(maskBits))
	seq := pc.NewSeq(p)

	masked := bit
	dstMasks := make([]*Share, rt.n)
	for i := 0; i < rt.n; i++ {
		dealer := party.ID(i + 1)
		var srcMask, dstMask field.Element
		if rt.me == dealer {
			m, err := crand.Int(rt.rand, bound)
			if err != nil {
				return rt.failedShare(dst, fmt.Errorf("mpc: sampling conversion mask: %w", err))
			}
			srcMask, dstMask = f.FromBig(m), dst.FromBig(m)
		}
		masked = rt.Add(masked, rt.dealerInput(seq.Next(), f, dealer, srcMask))
		dstMasks[i] = rt.dealerInput(seq.Next(), dst, dealer, dstMask)
	}

	opened := rt.open(seq.Next(), rt.t, masked)

	out := rt.newShare(dst)
	rt.post(func() {
		opened.on(func(v field.Element, err error) {
			if err != nil {
				out.fail(err)
				return
			}
			reentered := rt.Public(dst.FromBig(v.Big()))
			for _, m := range dstMasks {
				reentered = rt.Sub(reentered, m)
			}
			reentered.on(func(v field.Element, err error) {
				if err != nil {
					out.fail(err)
					return
				}
				out.resolve(v)
			})
		})
	})
	return out
}

// nonZeroRandom draws a shared random value known to be non-zero:
// candidates come in pairs whose product is opened, and a zero product
// discards the pair. The opened product reveals nothing about the
// surviving factor beyond its non-zeroness.
func (rt *Runtime) nonZeroRandom(ctx context.Context, p pc.Path, f field.Field) (*Share, error) {
	seq := pc.NewSeq(p)
	for {
		a := rt.randomShare(seq.Next(), f)
		b := rt.randomShare(seq.Next(), f)
		prod, err := rt.open(seq.Next(), 2*rt.t, rt.localMul(a, b)).Wait(ctx)
		if err != nil {
			return nil, err
		}
		if !prod.IsZero() {
			return a, nil
		}
	}
}
