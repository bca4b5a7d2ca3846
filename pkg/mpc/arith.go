package mpc

import (
	"fmt"
	"math/big"

	"github.com/veilmpc/veil/internal/pc"
	"github.com/veilmpc/veil/internal/wire"
	"github.com/veilmpc/veil/pkg/math/field"
	"github.com/veilmpc/veil/pkg/math/shamir"
	"github.com/veilmpc/veil/pkg/party"
)

func sameField(x, y *Share) field.Field {
	if !field.Equal(x.f, y.f) {
		panic(fmt.Sprintf("mpc: mixing shares over %s and %s", x.f.Name(), y.f.Name()))
	}
	return x.f
}

// Public wraps a publicly known value as a share: every player holds
// the value itself, a degree-0 sharing.
func (rt *Runtime) Public(v field.Element) *Share {
	return rt.resolvedShare(v)
}

// Add returns a share of x + y. Local, no communication.
func (rt *Runtime) Add(x, y *Share) *Share {
	f := sameField(x, y)
	z := rt.newShare(f)
	rt.post(func() {
		gather2(x, y, func(a, b field.Element, err error) {
			if err != nil {
				z.fail(err)
				return
			}
			z.resolve(a.Add(b))
		})
	})
	return z
}

// Sub returns a share of x - y. Local.
func (rt *Runtime) Sub(x, y *Share) *Share {
	f := sameField(x, y)
	z := rt.newShare(f)
	rt.post(func() {
		gather2(x, y, func(a, b field.Element, err error) {
			if err != nil {
				z.fail(err)
				return
			}
			z.resolve(a.Sub(b))
		})
	})
	return z
}

// Neg returns a share of -x. Local.
func (rt *Runtime) Neg(x *Share) *Share {
	z := rt.newShare(x.f)
	rt.post(func() {
		x.on(func(a field.Element, err error) {
			if err != nil {
				z.fail(err)
				return
			}
			z.resolve(a.Neg())
		})
	})
	return z
}

// AddPublic returns a share of x + c for public c. Local: adding a
// constant polynomial moves every share by c.
func (rt *Runtime) AddPublic(x *Share, c field.Element) *Share {
	z := rt.newShare(x.f)
	rt.post(func() {
		x.on(func(a field.Element, err error) {
			if err != nil {
				z.fail(err)
				return
			}
			z.resolve(a.Add(c))
		})
	})
	return z
}

// SubFromPublic returns a share of c - x for public c. Local.
func (rt *Runtime) SubFromPublic(c field.Element, x *Share) *Share {
	z := rt.newShare(x.f)
	rt.post(func() {
		x.on(func(a field.Element, err error) {
			if err != nil {
				z.fail(err)
				return
			}
			z.resolve(c.Sub(a))
		})
	})
	return z
}

// MulPublic returns a share of c·x for public c. Local.
func (rt *Runtime) MulPublic(x *Share, c field.Element) *Share {
	z := rt.newShare(x.f)
	rt.post(func() {
		x.on(func(a field.Element, err error) {
			if err != nil {
				z.fail(err)
				return
			}
			z.resolve(a.Mul(c))
		})
	})
	return z
}

// LinComb returns a share of Σ coeffs[i]·shares[i] for public
// coefficients. Local.
func (rt *Runtime) LinComb(coeffs []field.Element, shares []*Share) *Share {
	if len(coeffs) != len(shares) {
		panic("mpc: LinComb length mismatch")
	}
	if len(shares) == 0 {
		panic("mpc: LinComb of nothing")
	}
	f := shares[0].f
	z := rt.newShare(f)
	rt.post(func() {
		gather(shares, func(vals []field.Element, err error) {
			if err != nil {
				z.fail(err)
				return
			}
			sum := f.Zero()
			for i, v := range vals {
				sum = sum.Add(v.Mul(coeffs[i]))
			}
			z.resolve(sum)
		})
	})
	return z
}

// Mul returns a share of x·y. One round of communication: players
// multiply their shares locally, getting a degree-2t sharing, and the
// first 2t+1 players reshare at degree t. The result is the fixed
// Lagrange combination of the subshares.
func (rt *Runtime) Mul(x, y *Share) *Share {
	return rt.mul(rt.nextPC(), x, y)
}

func (rt *Runtime) mul(p pc.Path, x, y *Share) *Share {
	f := sameField(x, y)
	z := rt.newShare(f)
	resharers := 2*rt.t + 1
	rt.post(func() {
		gather2(x, y, func(a, b field.Element, err error) {
			if err != nil {
				z.fail(err)
				return
			}
			if int(rt.me) <= resharers {
				points := shamir.Share(a.Mul(b), rt.t, rt.n, rt.rand)
				for j, pt := range points {
					rt.send(party.ID(j+1), p, wire.KindShare, pt.Y.Bytes())
				}
			}
		})
		subs := make([]shamir.Point, resharers)
		missing := resharers
		for i := 1; i <= resharers; i++ {
			i := i
			rt.expect(party.ID(i), p, wire.KindShare, func(data []byte) {
				v, err := f.FromBytes(data)
				if err != nil {
					z.fail(fmt.Errorf("mpc: bad subshare from player %d: %w", i, err))
					return
				}
				subs[i-1] = shamir.Point{X: f.Element(uint64(i)), Y: v}
				if missing--; missing == 0 && !z.done {
					z.resolve(shamir.Recombine(subs))
				}
			})
		}
	})
	return z
}

// Xor returns a share of x ⊕ y for 0/1 shared values: x + y - 2xy. In a
// characteristic-2 field this is plain addition and stays local.
func (rt *Runtime) Xor(x, y *Share) *Share {
	f := sameField(x, y)
	if field.Equal(f, field.GF256()) {
		return rt.Add(x, y)
	}
	prod := rt.Mul(x, y)
	two := f.Element(2)
	return rt.Sub(rt.Add(x, y), rt.MulPublic(prod, two))
}

// Input shares the dealer's secret at degree t. Only the dealer reads
// its secret argument; other players pass nil.
func (rt *Runtime) Input(f field.Field, dealer party.ID, secret field.Element) *Share {
	return rt.input(rt.nextPC(), f, dealer, secret, rt.t)
}

func (rt *Runtime) input(p pc.Path, f field.Field, dealer party.ID, secret field.Element, degree int) *Share {
	z := rt.newShare(f)
	rt.post(func() {
		if rt.me == dealer {
			points := shamir.Share(secret, degree, rt.n, rt.rand)
			for j, pt := range points {
				rt.send(party.ID(j+1), p, wire.KindShare, pt.Y.Bytes())
			}
		}
		rt.expect(dealer, p, wire.KindShare, func(data []byte) {
			v, err := f.FromBytes(data)
			if err != nil {
				z.fail(fmt.Errorf("mpc: bad input share from player %d: %w", dealer, err))
				return
			}
			z.resolve(v)
		})
	})
	return z
}

// Open reveals a degree-t shared value to all players. The result is a
// share resolved with the public value.
func (rt *Runtime) Open(x *Share) *Share {
	return rt.open(rt.nextPC(), rt.t, x)
}

// OpenAt reveals a sharing of the given degree, e.g. 2t for a local
// product of two degree-t sharings.
func (rt *Runtime) OpenAt(degree int, x *Share) *Share {
	return rt.open(rt.nextPC(), degree, x)
}

func (rt *Runtime) open(p pc.Path, degree int, x *Share) *Share {
	f := x.f
	z := rt.newShare(f)
	rt.post(func() {
		x.on(func(v field.Element, err error) {
			if err != nil {
				z.fail(err)
				return
			}
			rt.sendAll(p, wire.KindShare, v.Bytes())
		})
		// The first degree+1 arrivals determine the value; the
		// remaining frames are still consumed so nothing lingers in
		// the mailbox.
		var points []shamir.Point
		for i := 1; i <= rt.n; i++ {
			i := i
			rt.expect(party.ID(i), p, wire.KindShare, func(data []byte) {
				if z.done {
					return
				}
				v, err := f.FromBytes(data)
				if err != nil {
					z.fail(fmt.Errorf("mpc: bad share from player %d: %w", i, err))
					return
				}
				points = append(points, shamir.Point{X: f.Element(uint64(i)), Y: v})
				if len(points) == degree+1 {
					z.resolve(shamir.Recombine(points))
				}
			})
		}
	})
	return z
}

// ExpPublic returns a share of x^e for a public exponent, by square and
// multiply over the multiplication protocol.
func (rt *Runtime) ExpPublic(x *Share, e *big.Int) *Share {
	if e.Sign() < 0 {
		panic("mpc: negative exponent")
	}
	if e.Sign() == 0 {
		return rt.Public(x.f.One())
	}
	var result *Share
	cur := x
	for i := 0; i < e.BitLen(); i++ {
		if e.Bit(i) == 1 {
			if result == nil {
				result = cur
			} else {
				result = rt.Mul(result, cur)
			}
		}
		if i+1 < e.BitLen() {
			cur = rt.Mul(cur, cur)
		}
	}
	return result
}
