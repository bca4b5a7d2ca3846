package mpc

import (
	"fmt"

	"github.com/veilmpc/veil/internal/pc"
	"github.com/veilmpc/veil/internal/wire"
	"github.com/veilmpc/veil/pkg/math/field"
	"github.com/veilmpc/veil/pkg/party"
	"github.com/veilmpc/veil/pkg/prss"
)

// Random returns a share of a uniformly pseudorandom value, derived
// without interaction from the PRSS keys and the operation's path.
func (rt *Runtime) Random(f field.Field) *Share {
	return rt.randomShare(rt.nextPC(), f)
}

func (rt *Runtime) randomShare(p pc.Path, f field.Field) *Share {
	return rt.resolvedShare(rt.prssParty.RandomShare(f, p.Bytes()))
}

// DoubleRandom returns degree-t and degree-2t shares of the same
// pseudorandom value. Non-interactive.
func (rt *Runtime) DoubleRandom(f field.Field) (rt1, rt2 *Share) {
	return rt.doubleRandom(rt.nextPC(), f)
}

func (rt *Runtime) doubleRandom(p pc.Path, f field.Field) (*Share, *Share) {
	a, b := rt.prssParty.DoubleShare(f, p.Bytes())
	return rt.resolvedShare(a), rt.resolvedShare(b)
}

// DealerInput shares a value known to the dealer without the dealer
// sending individual shares: players derive a pseudorandom sharing from
// the dealer's PRSS setup, and the dealer publishes one correction.
// Only the dealer reads its secret argument.
func (rt *Runtime) DealerInput(f field.Field, dealer party.ID, secret field.Element) *Share {
	return rt.dealerInput(rt.nextPC(), f, dealer, secret)
}

func (rt *Runtime) dealerInput(p pc.Path, f field.Field, dealer party.ID, secret field.Element) *Share {
	z := rt.newShare(f)
	rt.post(func() {
		base := rt.dealers[dealer].RandomShare(f, p.Bytes())
		if rt.me == dealer {
			r, err := prss.Value(rt.cfg.DealerKeys[dealer], rt.n, rt.t, f, p.Bytes())
			if err != nil {
				z.fail(err)
				return
			}
			rt.sendAll(p, wire.KindShare, secret.Sub(r).Bytes())
		}
		rt.expect(dealer, p, wire.KindShare, func(data []byte) {
			delta, err := f.FromBytes(data)
			if err != nil {
				z.fail(fmt.Errorf("mpc: bad correction from player %d: %w", dealer, err))
				return
			}
			z.resolve(base.Add(delta))
		})
	})
	return z
}

// RandomBit returns a share of a uniformly random bit, unknown to any
// player. Players derive a shared random r, open r², take the public
// square root and map r/√(r²) ∈ {-1, 1} to {0, 1}. A zero square
// forces a retry; the retries are driven by the opened value, so all
// players retry in lockstep. The field modulus must be ≡ 3 (mod 4).
func (rt *Runtime) RandomBit(f field.Field) *Share {
	return rt.randomBit(rt.nextPC(), f)
}

func (rt *Runtime) randomBit(p pc.Path, f field.Field) *Share {
	prime, ok := f.(*field.Prime)
	if !ok || !prime.IsBlum() {
		return rt.failedShare(f, fmt.Errorf("mpc: random bits need a Blum prime field, got %s", f.Name()))
	}
	z := rt.newShare(f)
	half, err := f.Element(2).Invert()
	if err != nil {
		return rt.failedShare(f, err)
	}

	seq := pc.NewSeq(p)
	var attempt func()
	attempt = func() {
		base := seq.Next()
		r := rt.prssParty.RandomShare(f, base.Bytes())
		square := rt.open(base.Child(0), 2*rt.t, rt.resolvedShare(r.Mul(r)))
		square.on(func(sq field.Element, err error) {
			if err != nil {
				z.fail(err)
				return
			}
			if sq.IsZero() {
				attempt()
				return
			}
			rootInv, err := sq.Sqrt().Invert()
			if err != nil {
				z.fail(err)
				return
			}
			// r/√(r²) is ±1; (±1 + 1)/2 is the bit.
			z.resolve(r.Mul(rootInv).Add(f.One()).Mul(half))
		})
	}
	rt.post(attempt)
	return z
}
