// Package prss implements pseudorandom secret sharing as described in
// "Share conversion, pseudorandom secret-sharing and applications to
// secure computation", Cramer, Damgård and Ishai, TCC 2005.
//
// Players agree once, at setup, on a symmetric key for every maximal
// unqualified subset (every subset of n-t players). Afterwards they can
// derive shares of a common uniformly random value, of zero, or of a
// value known to a dealer, from local pseudorandom function evaluations
// alone, without any interaction.
package prss

import (
	"fmt"
	"io"

	"github.com/zeebo/blake3"

	"github.com/veilmpc/veil/pkg/math/field"
	"github.com/veilmpc/veil/pkg/math/shamir"
	"github.com/veilmpc/veil/pkg/party"
)

// KeySize is the size of a subset key in bytes, matching blake3's keyed
// mode.
const KeySize = 32

// Key is a symmetric key shared by one subset of players.
type Key []byte

// Keys maps each maximal unqualified subset to its key. A player holds
// the keys of exactly the subsets it belongs to; a dealer additionally
// holds the rest.
type Keys map[party.Set]Key

// GenerateKeys draws a fresh key for every subset of size n-t of the
// players 1..n. The full map goes to the dealer role; each player
// receives the entries whose subset contains it.
func GenerateKeys(rand io.Reader, n, t int) (Keys, error) {
	keys := Keys{}
	for _, s := range party.Subsets(party.All(n), n-t) {
		k := make(Key, KeySize)
		if _, err := io.ReadFull(rand, k); err != nil {
			return nil, fmt.Errorf("prss: generating subset keys: %w", err)
		}
		keys[s] = k
	}
	return keys, nil
}

// ViewOf returns the subset of keys player id is entitled to.
func (keys Keys) ViewOf(id party.ID) Keys {
	view := Keys{}
	for s, k := range keys {
		if s.Contains(id) {
			view[s] = k
		}
	}
	return view
}

// prf evaluates the pseudorandom function of one subset key on a tag,
// mapped into f by rejection sampling on blake3's output stream.
func prf(f field.Field, key Key, tag []byte) field.Element {
	h, err := blake3.NewKeyed(key)
	if err != nil {
		panic(fmt.Sprintf("prss: bad subset key: %v", err))
	}
	_, _ = h.Write(tag)
	return f.Random(h.Digest())
}

// zeroKey derives the i-th zero-sharing key from a subset key. Distinct
// derivation contexts keep the zero-sharing PRFs independent of the
// random-sharing PRF under the same subset key.
func zeroKey(key Key, i int) Key {
	sub := make(Key, KeySize)
	blake3.DeriveKey(fmt.Sprintf("veil 2024-01-12 przs %d", i), key, sub)
	return sub
}

// subsetWeight evaluates f_S at j, where f_S is the unique degree-t
// polynomial with f_S(0) = 1 and f_S(x) = 0 for every player x outside S.
func subsetWeight(f field.Field, all party.IDSlice, s party.Set, j party.ID) field.Element {
	points := []shamir.Point{{X: f.Zero(), Y: f.One()}}
	for _, x := range all {
		if !s.Contains(x) {
			points = append(points, shamir.Point{X: f.Element(uint64(x)), Y: f.Zero()})
		}
	}
	return shamir.RecombineAt(points, f.Element(uint64(j)))
}

// Party is one player's view of the PRSS setup.
type Party struct {
	n, t int
	me   party.ID
	all  party.IDSlice
	keys Keys
}

// NewParty validates the key material for player me among n players
// with threshold t. Every subset must have n-t members and contain me,
// and all subsets containing me must be present.
func NewParty(n, t int, me party.ID, keys Keys) (*Party, error) {
	if me < 1 || int(me) > n {
		return nil, fmt.Errorf("prss: player %v out of range 1..%d", me, n)
	}
	want := 0
	for _, s := range party.Subsets(party.All(n), n-t) {
		if !s.Contains(me) {
			continue
		}
		want++
		k, ok := keys[s]
		if !ok {
			return nil, fmt.Errorf("prss: player %v is missing the key for subset {%s}", me, s)
		}
		if len(k) != KeySize {
			return nil, fmt.Errorf("prss: key for subset {%s} has %d bytes, want %d", s, len(k), KeySize)
		}
	}
	if len(keys) != want {
		return nil, fmt.Errorf("prss: player %v holds %d keys, want %d", me, len(keys), want)
	}
	return &Party{n: n, t: t, me: me, all: party.All(n), keys: keys}, nil
}

// RandomShare returns this player's degree-t share of a pseudorandom
// value determined by the key material and the tag:
//
//	share(j) = Σ_{S∋j} PRF_S(tag)·f_S(j)
//
// All players calling RandomShare with the same tag hold a consistent
// sharing of the same uniformly pseudorandom value.
func (p *Party) RandomShare(f field.Field, tag []byte) field.Element {
	sum := f.Zero()
	for s, k := range p.keys {
		sum = sum.Add(prf(f, k, tag).Mul(subsetWeight(f, p.all, s, p.me)))
	}
	return sum
}

// ZeroShare returns this player's degree-2t share of zero:
//
//	share(j) = Σ_{S∋j} Σ_{i=1..t} PRF_{S,i}(tag)·jⁱ·f_S(j)
//
// Each inner term is j^i·f_S(j), a polynomial of degree t+i ≤ 2t with
// constant term zero, so the sum shares 0 at degree 2t.
func (p *Party) ZeroShare(f field.Field, tag []byte) field.Element {
	sum := f.Zero()
	j := f.Element(uint64(p.me))
	for s, k := range p.keys {
		w := subsetWeight(f, p.all, s, p.me)
		jPow := f.One()
		for i := 1; i <= p.t; i++ {
			jPow = jPow.Mul(j)
			sum = sum.Add(prf(f, zeroKey(k, i), tag).Mul(jPow).Mul(w))
		}
	}
	return sum
}

// DoubleShare returns shares of the same pseudorandom value at degree t
// and at degree 2t. The degree-2t share is the degree-t share masked by
// a zero-sharing, so both recombine to the same value.
func (p *Party) DoubleShare(f field.Field, tag []byte) (rt, r2t field.Element) {
	rt = p.RandomShare(f, tag)
	return rt, rt.Add(p.ZeroShare(f, tag))
}

// ValidateFull checks that keys covers every subset of size n-t with a
// well-formed key, the precondition for acting as a dealer.
func ValidateFull(n, t int, keys Keys) error {
	subsets := party.Subsets(party.All(n), n-t)
	if len(keys) != len(subsets) {
		return fmt.Errorf("prss: %d keys, want %d", len(keys), len(subsets))
	}
	for _, s := range subsets {
		k, ok := keys[s]
		if !ok {
			return fmt.Errorf("prss: missing the key for subset {%s}", s)
		}
		if len(k) != KeySize {
			return fmt.Errorf("prss: key for subset {%s} has %d bytes, want %d", s, len(k), KeySize)
		}
	}
	return nil
}

// Value computes the pseudorandom value behind RandomShare(tag). It
// needs the keys of all subsets, so only a dealer holding the complete
// key map can call it:
//
//	value = Σ_S PRF_S(tag)·f_S(0) = Σ_S PRF_S(tag)
func Value(keys Keys, n, t int, f field.Field, tag []byte) (field.Element, error) {
	if err := ValidateFull(n, t, keys); err != nil {
		return nil, fmt.Errorf("prss: dealer: %w", err)
	}
	sum := f.Zero()
	for _, k := range keys {
		sum = sum.Add(prf(f, k, tag))
	}
	return sum, nil
}
