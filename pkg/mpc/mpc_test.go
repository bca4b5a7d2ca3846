package mpc_test

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/veilmpc/veil/internal/test"
	"github.com/veilmpc/veil/internal/wire"
	"github.com/veilmpc/veil/pkg/config"
	"github.com/veilmpc/veil/pkg/math/field"
	"github.com/veilmpc/veil/pkg/mpc"
	"github.com/veilmpc/veil/pkg/party"
)

var (
	f1031 = field.MustPrime(big.NewInt(1031))

	// 2^61 - 1, a Blum prime large enough for statistically masked
	// comparisons with small bit lengths.
	fBig = field.MustPrime(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 61), big.NewInt(1)))
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)
	return ctx
}

// Three players input 2, 3 and 4; everyone learns the product 24 and
// nothing lingers in any mailbox afterwards.
func TestProductOfThreeInputs(t *testing.T) {
	ctx := testCtx(t)
	inputs := map[party.ID]uint64{1: 2, 2: 3, 3: 4}

	err := test.Cluster(ctx, 3, 1, nil, func(rt *mpc.Runtime) error {
		var secret field.Element
		if v, ok := inputs[rt.Self()]; ok {
			secret = f1031.Element(v)
		}
		x := rt.Input(f1031, 1, secret)
		y := rt.Input(f1031, 2, secret)
		z := rt.Input(f1031, 3, secret)

		got, err := rt.Open(rt.Mul(rt.Mul(x, y), z)).Wait(ctx)
		if err != nil {
			return err
		}
		assert.True(t, got.Equal(f1031.Element(24)))

		if err := rt.Synchronize(ctx); err != nil {
			return err
		}
		assert.Equal(t, 0, rt.PendingMessages(), "player %v has undelivered frames", rt.Self())
		return nil
	})
	require.NoError(t, err)
}

func TestLinearArithmeticIsLocal(t *testing.T) {
	ctx := testCtx(t)
	err := test.Cluster(ctx, 3, 1, nil, func(rt *mpc.Runtime) error {
		var a, b field.Element
		if rt.Self() == 1 {
			a = f1031.Element(100)
		}
		if rt.Self() == 2 {
			b = f1031.Element(7)
		}
		x := rt.Input(f1031, 1, a)
		y := rt.Input(f1031, 2, b)

		sum, err := rt.Open(rt.Add(x, y)).Wait(ctx)
		if err != nil {
			return err
		}
		assert.True(t, sum.Equal(f1031.Element(107)))

		diff, err := rt.Open(rt.Sub(x, y)).Wait(ctx)
		if err != nil {
			return err
		}
		assert.True(t, diff.Equal(f1031.Element(93)))

		scaled, err := rt.Open(rt.AddPublic(rt.MulPublic(x, f1031.Element(3)), f1031.Element(5))).Wait(ctx)
		if err != nil {
			return err
		}
		assert.True(t, scaled.Equal(f1031.Element(305)))

		lin, err := rt.Open(rt.LinComb(
			[]field.Element{f1031.Element(2), f1031.Element(1030)}, // 2x - y
			[]*mpc.Share{x, y})).Wait(ctx)
		if err != nil {
			return err
		}
		assert.True(t, lin.Equal(f1031.Element(193)))
		return nil
	})
	require.NoError(t, err)
}

func TestExpPublic(t *testing.T) {
	ctx := testCtx(t)
	err := test.Cluster(ctx, 3, 1, nil, func(rt *mpc.Runtime) error {
		var secret field.Element
		if rt.Self() == 1 {
			secret = f1031.Element(3)
		}
		x := rt.Input(f1031, 1, secret)
		got, err := rt.Open(rt.ExpPublic(x, big.NewInt(7))).Wait(ctx)
		if err != nil {
			return err
		}
		// 3^7 = 2187 = 125 mod 1031.
		assert.True(t, got.Equal(f1031.Element(125)))
		return nil
	})
	require.NoError(t, err)
}

func TestPRSSRandomAndDealerInput(t *testing.T) {
	ctx := testCtx(t)
	err := test.Cluster(ctx, 3, 1, nil, func(rt *mpc.Runtime) error {
		// A PRSS random value opens to the same value everywhere; two
		// distinct operations give independent values.
		r1, err := rt.Open(rt.Random(f1031)).Wait(ctx)
		if err != nil {
			return err
		}
		r2, err := rt.Open(rt.Random(f1031)).Wait(ctx)
		if err != nil {
			return err
		}
		assert.False(t, r1.Equal(r2), "independent random values collided")

		var secret field.Element
		if rt.Self() == 2 {
			secret = f1031.Element(77)
		}
		got, err := rt.Open(rt.DealerInput(f1031, 2, secret)).Wait(ctx)
		if err != nil {
			return err
		}
		assert.True(t, got.Equal(f1031.Element(77)))

		// Double sharings recombine to the same value at both degrees.
		lo, hi := rt.DoubleRandom(f1031)
		loVal, err := rt.Open(lo).Wait(ctx)
		if err != nil {
			return err
		}
		hiVal, err := rt.OpenAt(2*rt.T(), hi).Wait(ctx)
		if err != nil {
			return err
		}
		assert.True(t, loVal.Equal(hiVal))
		return nil
	})
	require.NoError(t, err)
}

func TestRandomBit(t *testing.T) {
	ctx := testCtx(t)
	err := test.Cluster(ctx, 3, 1, nil, func(rt *mpc.Runtime) error {
		for i := 0; i < 8; i++ {
			b, err := rt.Open(rt.RandomBit(f1031)).Wait(ctx)
			if err != nil {
				return err
			}
			assert.True(t, b.IsZero() || b.Equal(f1031.One()), "got %v", b)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestXor(t *testing.T) {
	ctx := testCtx(t)
	err := test.Cluster(ctx, 3, 1, nil, func(rt *mpc.Runtime) error {
		for _, tc := range [][3]uint64{{0, 0, 0}, {0, 1, 1}, {1, 0, 1}, {1, 1, 0}} {
			var a, b field.Element
			if rt.Self() == 1 {
				a = f1031.Element(tc[0])
				b = f1031.Element(tc[1])
			}
			x := rt.Input(f1031, 1, a)
			y := rt.Input(f1031, 1, b)
			got, err := rt.Open(rt.Xor(x, y)).Wait(ctx)
			if err != nil {
				return err
			}
			assert.True(t, got.Equal(f1031.Element(tc[2])), "%d ⊕ %d", tc[0], tc[1])
		}
		return nil
	})
	require.NoError(t, err)
}

func testTriples(t *testing.T, opts []mpc.Option) {
	ctx := testCtx(t)
	err := test.Cluster(ctx, 3, 1, opts, func(rt *mpc.Runtime) error {
		// The triple itself multiplies out.
		tr := rt.Triple(f1031)
		a, err := rt.Open(tr.A).Wait(ctx)
		if err != nil {
			return err
		}
		b, err := rt.Open(tr.B).Wait(ctx)
		if err != nil {
			return err
		}
		c, err := rt.Open(tr.C).Wait(ctx)
		if err != nil {
			return err
		}
		assert.True(t, c.Equal(a.Mul(b)), "c = %v, a·b = %v", c, a.Mul(b))

		// Beaver multiplication with pooled triples.
		var xv, yv field.Element
		if rt.Self() == 1 {
			xv = f1031.Element(41)
			yv = f1031.Element(27)
		}
		x := rt.Input(f1031, 1, xv)
		y := rt.Input(f1031, 1, yv)
		got, err := rt.Open(rt.BeaverMul(x, y)).Wait(ctx)
		if err != nil {
			return err
		}
		// 41·27 = 1107 = 76 mod 1031.
		assert.True(t, got.Equal(f1031.Element(76)))
		return nil
	})
	require.NoError(t, err)
}

func TestTriplesPRSS(t *testing.T) {
	testTriples(t, nil)
}

func TestTriplesHyper(t *testing.T) {
	testTriples(t, []mpc.Option{mpc.WithTriples(mpc.HyperTriples{})})
}

func testBroadcast(t *testing.T, n, threshold int, opts []mpc.Option) {
	ctx := testCtx(t)
	err := test.Cluster(ctx, n, threshold, opts, func(rt *mpc.Runtime) error {
		var msg []byte
		if rt.Self() == 2 {
			msg = []byte("all players agree on this")
		}
		got, err := rt.Broadcast(2, msg).Wait(ctx)
		if err != nil {
			return err
		}
		assert.Equal(t, "all players agree on this", string(got))

		if err := rt.Synchronize(ctx); err != nil {
			return err
		}
		assert.Equal(t, 0, rt.PendingMessages())
		return nil
	})
	require.NoError(t, err)
}

func TestBrachaBroadcast(t *testing.T) {
	// Bracha needs t < n/3.
	testBroadcast(t, 4, 1, nil)
}

func TestHashBroadcast(t *testing.T) {
	testBroadcast(t, 3, 1, []mpc.Option{mpc.WithBroadcast(mpc.HashBroadcast{})})
}

// tamperConn rewrites outgoing frames, simulating a corrupted player.
type tamperConn struct {
	mpc.Conn
	rewrite func(*wire.Frame) *wire.Frame
}

func (c tamperConn) Send(f *wire.Frame) error { return c.Conn.Send(c.rewrite(f)) }

// byzantineCluster is test.Cluster with one player's outgoing frames
// passed through rewrite. Frames the player sends to itself stay
// untouched.
func byzantineCluster(ctx context.Context, n, threshold int, corrupt party.ID, rewrite func(to party.ID, f *wire.Frame) *wire.Frame, program func(rt *mpc.Runtime) error) error {
	addresses := make([]string, n)
	for i := range addresses {
		addresses[i] = fmt.Sprintf("player-%d", i+1)
	}
	configs, err := config.Generate(rand.Reader, threshold, addresses)
	if err != nil {
		return err
	}
	conns := test.Network(n)
	for to, c := range conns[corrupt-1] {
		to, c := to, c
		conns[corrupt-1][to] = tamperConn{
			Conn:    c,
			rewrite: func(f *wire.Frame) *wire.Frame { return rewrite(to, f) },
		}
	}

	g, _ := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			rt, err := mpc.New(configs[i], conns[i])
			if err != nil {
				return err
			}
			defer rt.Close()
			return program(rt)
		})
	}
	return g.Wait()
}

// A corrupted sender that tells different players different values must
// not break agreement: every honest player delivers the value that
// reached the echo threshold, including the player that was lied to.
func TestBrachaBroadcastConflictingSends(t *testing.T) {
	ctx := testCtx(t)
	rewrite := func(to party.ID, f *wire.Frame) *wire.Frame {
		if f.Kind == wire.KindSend && to == 4 {
			return &wire.Frame{PC: f.PC, Kind: f.Kind, Data: []byte("minority value")}
		}
		return f
	}
	err := byzantineCluster(ctx, 4, 1, 2, rewrite, func(rt *mpc.Runtime) error {
		var msg []byte
		if rt.Self() == 2 {
			msg = []byte("majority value")
		}
		got, err := rt.Broadcast(2, msg).Wait(ctx)
		if err != nil {
			return err
		}
		assert.Equal(t, "majority value", string(got), "player %v", rt.Self())

		if err := rt.Synchronize(ctx); err != nil {
			return err
		}
		assert.Equal(t, 0, rt.PendingMessages())
		return nil
	})
	require.NoError(t, err)
}

// A corrupted non-sender forging its echo and ready frames cannot move
// honest players off the sender's value: one forged ready stays below
// the t+1 amplification threshold.
func TestBrachaBroadcastForgedReadies(t *testing.T) {
	ctx := testCtx(t)
	rewrite := func(to party.ID, f *wire.Frame) *wire.Frame {
		if f.Kind == wire.KindEcho || f.Kind == wire.KindReady {
			return &wire.Frame{PC: f.PC, Kind: f.Kind, Data: []byte("forged value")}
		}
		return f
	}
	err := byzantineCluster(ctx, 4, 1, 3, rewrite, func(rt *mpc.Runtime) error {
		var msg []byte
		if rt.Self() == 1 {
			msg = []byte("honest value")
		}
		got, err := rt.Broadcast(1, msg).Wait(ctx)
		if err != nil {
			return err
		}
		assert.Equal(t, "honest value", string(got), "player %v", rt.Self())

		if err := rt.Synchronize(ctx); err != nil {
			return err
		}
		assert.Equal(t, 0, rt.PendingMessages())
		return nil
	})
	require.NoError(t, err)
}

func TestGreaterEq(t *testing.T) {
	ctx := testCtx(t)
	opts := []mpc.Option{mpc.WithBitLength(4), mpc.WithSecurityParameter(8)}

	cases := []struct {
		a, b uint64
		want uint64
	}{
		{5, 5, 1}, // equality is the boundary case the extra bit exists for
		{5, 6, 0},
		{6, 5, 1},
		{0, 0, 1},
		{15, 0, 1},
		{0, 15, 0},
	}
	err := test.Cluster(ctx, 3, 1, opts, func(rt *mpc.Runtime) error {
		for _, tc := range cases {
			var av, bv field.Element
			if rt.Self() == 1 {
				av = fBig.Element(tc.a)
			}
			if rt.Self() == 2 {
				bv = fBig.Element(tc.b)
			}
			x := rt.Input(fBig, 1, av)
			y := rt.Input(fBig, 2, bv)
			got, err := rt.Open(rt.GreaterEq(x, y)).Wait(ctx)
			if err != nil {
				return err
			}
			assert.True(t, got.Equal(fBig.Element(tc.want)), "%d >= %d: got %v", tc.a, tc.b, got)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestLessThan(t *testing.T) {
	ctx := testCtx(t)
	opts := []mpc.Option{mpc.WithBitLength(4), mpc.WithSecurityParameter(8)}
	err := test.Cluster(ctx, 3, 1, opts, func(rt *mpc.Runtime) error {
		var av, bv field.Element
		if rt.Self() == 1 {
			av = fBig.Element(3)
			bv = fBig.Element(9)
		}
		x := rt.Input(fBig, 1, av)
		y := rt.Input(fBig, 1, bv)
		got, err := rt.Open(rt.LessThan(x, y)).Wait(ctx)
		if err != nil {
			return err
		}
		assert.True(t, got.Equal(fBig.One()), "3 < 9")
		return nil
	})
	require.NoError(t, err)
}

func TestEqual(t *testing.T) {
	ctx := testCtx(t)
	opts := []mpc.Option{mpc.WithSecurityParameter(8)}
	err := test.Cluster(ctx, 3, 1, opts, func(rt *mpc.Runtime) error {
		var av, bv, cv field.Element
		if rt.Self() == 1 {
			av = f1031.Element(123)
			bv = f1031.Element(123)
			cv = f1031.Element(124)
		}
		x := rt.Input(f1031, 1, av)
		y := rt.Input(f1031, 1, bv)
		w := rt.Input(f1031, 1, cv)

		same, err := rt.Open(rt.Equal(x, y)).Wait(ctx)
		if err != nil {
			return err
		}
		assert.True(t, same.Equal(f1031.One()))

		diff, err := rt.Open(rt.Equal(x, w)).Wait(ctx)
		if err != nil {
			return err
		}
		assert.True(t, diff.IsZero())
		return nil
	})
	require.NoError(t, err)
}

func TestFivePlayers(t *testing.T) {
	ctx := testCtx(t)
	err := test.Cluster(ctx, 5, 2, nil, func(rt *mpc.Runtime) error {
		var secret field.Element
		if rt.Self() == 4 {
			secret = f1031.Element(321)
		}
		x := rt.Input(f1031, 4, secret)
		sq, err := rt.Open(rt.Mul(x, x)).Wait(ctx)
		if err != nil {
			return err
		}
		// 321² = 103041 = 972 mod 1031.
		assert.True(t, sq.Equal(f1031.Element(972)))

		if err := rt.Synchronize(ctx); err != nil {
			return err
		}
		assert.Equal(t, 0, rt.PendingMessages())
		return nil
	})
	require.NoError(t, err)
}
