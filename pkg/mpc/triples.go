package mpc

import (
	"fmt"

	"github.com/veilmpc/veil/internal/pc"
	"github.com/veilmpc/veil/internal/wire"
	"github.com/veilmpc/veil/pkg/math/field"
	"github.com/veilmpc/veil/pkg/math/matrix"
	"github.com/veilmpc/veil/pkg/math/shamir"
	"github.com/veilmpc/veil/pkg/party"
)

// Triple is a multiplication triple: shares of random a and b together
// with a share of c = a·b. Consumed by BeaverMul.
type Triple struct {
	A, B, C *Share
}

// TripleStrategy generates batches of multiplication triples.
type TripleStrategy interface {
	Batch(rt *Runtime, p pc.Path, f field.Field, count int) []Triple
}

// tripleBatch is how many triples a pool refill generates at once.
const tripleBatch = 16

// Triple takes one triple from the per-field pool, refilling it with a
// fresh batch when empty.
func (rt *Runtime) Triple(f field.Field) Triple {
	rt.poolMu.Lock()
	defer rt.poolMu.Unlock()
	pool := rt.pools[f.Name()]
	if len(pool) == 0 {
		pool = rt.triples.Batch(rt, rt.nextPC(), f, tripleBatch)
	}
	tr := pool[0]
	rt.pools[f.Name()] = pool[1:]
	return tr
}

// BeaverMul multiplies with a precomputed triple: open d = x-a and
// e = y-b, then x·y = c + d·b + e·a + d·e. Unlike Mul, the sharing
// degree never exceeds t, and with verified triples the product is
// correct even against active corruption.
func (rt *Runtime) BeaverMul(x, y *Share) *Share {
	f := sameField(x, y)
	tr := rt.Triple(f)
	d := rt.Open(rt.Sub(x, tr.A))
	e := rt.Open(rt.Sub(y, tr.B))

	z := rt.newShare(f)
	rt.post(func() {
		gather([]*Share{d, e, tr.A, tr.B, tr.C}, func(vals []field.Element, err error) {
			if err != nil {
				z.fail(err)
				return
			}
			dv, ev, a, b, c := vals[0], vals[1], vals[2], vals[3], vals[4]
			z.resolve(c.Add(dv.Mul(b)).Add(ev.Mul(a)).Add(dv.Mul(ev)))
		})
	})
	return z
}

// localMul multiplies shares pointwise without resharing, doubling the
// sharing degree. Internal building block for triple generation.
func (rt *Runtime) localMul(x, y *Share) *Share {
	f := sameField(x, y)
	z := rt.newShare(f)
	rt.post(func() {
		gather2(x, y, func(a, b field.Element, err error) {
			if err != nil {
				z.fail(err)
				return
			}
			z.resolve(a.Mul(b))
		})
	})
	return z
}

// PRSSTriples derives triples from pseudorandom sharings alone: a and b
// come straight from PRSS, and c is corrected with one degree-2t
// opening of a·b - r against a double sharing of r. Secure against
// passive corruption.
type PRSSTriples struct{}

func (PRSSTriples) Batch(rt *Runtime, p pc.Path, f field.Field, count int) []Triple {
	seq := pc.NewSeq(p)
	out := make([]Triple, count)
	for i := range out {
		base := seq.Next()
		a := rt.randomShare(base.Child(0), f)
		b := rt.randomShare(base.Child(1), f)
		rT, r2T := rt.doubleRandom(base.Child(2), f)

		// a·b - r is uniform, so opening it at degree 2t leaks nothing.
		d := rt.open(base.Child(3), 2*rt.t, rt.Sub(rt.localMul(a, b), r2T))
		c := rt.Add(rT, d)
		out[i] = Triple{A: a, B: b, C: c}
	}
	return out
}

// HyperTriples generates verified triples from hyper-invertible
// matrices, after "Perfectly-secure MPC with linear communication
// complexity", Beerliová-Trubíniová and Hirt, TCC 2008. Each player
// deals a random sharing; the matrix turns n dealings, of which at
// least n-t came from honest players, into n sharings of which n-2t
// are kept and 2t are opened to designated verifiers that check the
// sharing degree. A detected cheat fails the batch with
// ErrVerification.
type HyperTriples struct{}

func (HyperTriples) Batch(rt *Runtime, p pc.Path, f field.Field, count int) []Triple {
	kept := rt.n - 2*rt.t
	seq := pc.NewSeq(p)
	var out []Triple
	for len(out) < count {
		base := seq.Next()
		as := rt.hyperSingles(base.Child(0), f)
		bs := rt.hyperSingles(base.Child(1), f)
		rTs, r2Ts := rt.hyperDoubles(base.Child(2), f)

		opens := pc.NewSeq(base.Child(3))
		for j := 0; j < kept; j++ {
			d := rt.open(opens.Next(), 2*rt.t, rt.Sub(rt.localMul(as[j], bs[j]), r2Ts[j]))
			out = append(out, Triple{A: as[j], B: bs[j], C: rt.Add(rTs[j], d)})
		}
	}
	return out[:count]
}

// hyperSingles produces n-2t verified random degree-t sharings.
func (rt *Runtime) hyperSingles(p pc.Path, f field.Field) []*Share {
	n, t := rt.n, rt.t
	kept := n - 2*t
	seq := pc.NewSeq(p)

	svec := make([]*Share, n)
	for i := 0; i < n; i++ {
		var secret field.Element
		if rt.me == party.ID(i+1) {
			secret = f.Random(rt.rand)
		}
		svec[i] = rt.input(seq.Next(), f, party.ID(i+1), secret, t)
	}

	h := matrix.Hyper(n, f)
	rvec := make([]*Share, n)
	for i := 0; i < n; i++ {
		rvec[i] = rt.LinComb(h.Row(i), svec)
	}

	verdicts := make([]*Bytes, 2*t)
	for offset := 0; offset < 2*t; offset++ {
		verdicts[offset] = rt.verifySharing(seq.Next(), party.ID(kept+1+offset),
			[]*Share{rvec[kept+offset]}, []int{t})
	}
	return rt.gateShares(rvec[:kept], verdicts)
}

// hyperDoubles is hyperSingles for double sharings: every dealt value
// is shared at degree t and 2t, and verifiers additionally check that
// both sharings hide the same value.
func (rt *Runtime) hyperDoubles(p pc.Path, f field.Field) (rTs, r2Ts []*Share) {
	n, t := rt.n, rt.t
	kept := n - 2*t
	seq := pc.NewSeq(p)

	svecT := make([]*Share, n)
	svec2T := make([]*Share, n)
	for i := 0; i < n; i++ {
		var secret field.Element
		if rt.me == party.ID(i+1) {
			secret = f.Random(rt.rand)
		}
		svecT[i] = rt.input(seq.Next(), f, party.ID(i+1), secret, t)
		svec2T[i] = rt.input(seq.Next(), f, party.ID(i+1), secret, 2*t)
	}

	h := matrix.Hyper(n, f)
	rvecT := make([]*Share, n)
	rvec2T := make([]*Share, n)
	for i := 0; i < n; i++ {
		rvecT[i] = rt.LinComb(h.Row(i), svecT)
		rvec2T[i] = rt.LinComb(h.Row(i), svec2T)
	}

	verdicts := make([]*Bytes, 2*t)
	for offset := 0; offset < 2*t; offset++ {
		verdicts[offset] = rt.verifySharing(seq.Next(), party.ID(kept+1+offset),
			[]*Share{rvecT[kept+offset], rvec2T[kept+offset]}, []int{t, 2 * t})
	}
	return rt.gateShares(rvecT[:kept], verdicts), rt.gateShares(rvec2T[:kept], verdicts)
}

// verifySharing opens the given sharings to one verifier, which checks
// each against its expected degree (and, for several sharings, that
// they agree on the value) and announces the verdict to all players.
func (rt *Runtime) verifySharing(p pc.Path, verifier party.ID, shares []*Share, degrees []int) *Bytes {
	f := shares[0].f
	verdict := rt.newBytes()
	rt.post(func() {
		for k, s := range shares {
			k := k
			s.on(func(v field.Element, err error) {
				if err == nil {
					rt.send(verifier, p.Child(uint32(k)), wire.KindShare, v.Bytes())
				}
			})
		}
		if rt.me == verifier {
			collected := make([][]shamir.Point, len(shares))
			missing := len(shares) * rt.n
			announce := func() {
				ok := true
				var value field.Element
				for k, points := range collected {
					if !shamir.Verify(points, degrees[k]) {
						ok = false
						break
					}
					v := shamir.Recombine(points[:degrees[k]+1])
					if value == nil {
						value = v
					} else if !value.Equal(v) {
						ok = false
						break
					}
				}
				if ok {
					rt.sendAll(p, wire.KindText, []byte{1})
				} else {
					rt.sendAll(p, wire.KindText, []byte{0})
				}
			}
			for k := range shares {
				k := k
				for id := party.ID(1); int(id) <= rt.n; id++ {
					id := id
					rt.expect(id, p.Child(uint32(k)), wire.KindShare, func(data []byte) {
						v, err := f.FromBytes(data)
						if err != nil {
							v = f.Zero() // treated as a bad share by Verify
						}
						collected[k] = append(collected[k],
							shamir.Point{X: f.Element(uint64(id)), Y: v})
						if missing--; missing == 0 {
							announce()
						}
					})
				}
			}
		}
		rt.expect(verifier, p, wire.KindText, func(data []byte) {
			if len(data) == 1 && data[0] == 1 {
				verdict.resolve(nil)
			} else {
				verdict.fail(fmt.Errorf("%w: player %d rejected a sharing", ErrVerification, verifier))
			}
		})
	})
	return verdict
}

// gateShares delays each share until every verdict came back clean.
func (rt *Runtime) gateShares(shares []*Share, verdicts []*Bytes) []*Share {
	out := make([]*Share, len(shares))
	for i, s := range shares {
		s := s
		gated := rt.newShare(s.f)
		out[i] = gated
		rt.post(func() {
			pass := func() {
				s.on(func(val field.Element, err error) {
					if err != nil {
						gated.fail(err)
						return
					}
					gated.resolve(val)
				})
			}
			missing := len(verdicts)
			if missing == 0 {
				pass()
				return
			}
			for _, v := range verdicts {
				v.on(func(_ []byte, err error) {
					if gated.done {
						return
					}
					if err != nil {
						gated.fail(err)
						return
					}
					if missing--; missing == 0 {
						pass()
					}
				})
			}
		})
	}
	return out
}
