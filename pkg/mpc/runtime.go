// Package mpc implements an asynchronous runtime for secure multiparty
// computation based on Shamir secret sharing over a prime field.
//
// A computation runs between n players, of which up to t may collude
// (and, for the verified protocols, misbehave). Each player runs the
// same program against its own Runtime; operations return Share futures
// immediately and resolve as protocol messages arrive, so independent
// operations overlap freely. Message streams of concurrent operations
// are kept apart by program-counter paths: players issuing operations
// in the same order derive the same paths, and every frame carries the
// path of the operation it belongs to.
package mpc

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/veilmpc/veil/internal/pc"
	"github.com/veilmpc/veil/internal/wire"
	"github.com/veilmpc/veil/pkg/config"
	"github.com/veilmpc/veil/pkg/party"
	"github.com/veilmpc/veil/pkg/prss"
)

// Conn is a reliable, ordered, authenticated channel to one peer.
// Send must be safe for use from the event loop; implementations that
// can block should buffer internally.
type Conn interface {
	Send(f *wire.Frame) error
	Recv() (*wire.Frame, error)
	Close() error
}

type options struct {
	rand      io.Reader
	bitLength int
	secParam  int
	compare   ComparisonStrategy
	broadcast BroadcastStrategy
	triples   TripleStrategy
}

// Option configures a Runtime.
type Option func(*options)

// WithRand sets the source of local randomness. Defaults to crypto/rand.
func WithRand(r io.Reader) Option { return func(o *options) { o.rand = r } }

// WithBitLength sets the assumed bit length of comparison inputs.
func WithBitLength(l int) Option { return func(o *options) { o.bitLength = l } }

// WithSecurityParameter sets the statistical security parameter.
func WithSecurityParameter(k int) Option { return func(o *options) { o.secParam = k } }

// WithComparison selects the comparison protocol.
func WithComparison(s ComparisonStrategy) Option { return func(o *options) { o.compare = s } }

// WithBroadcast selects the broadcast protocol.
func WithBroadcast(s BroadcastStrategy) Option { return func(o *options) { o.broadcast = s } }

// WithTriples selects the multiplication triple generator.
func WithTriples(s TripleStrategy) Option { return func(o *options) { o.triples = s } }

type msgKey struct {
	from party.ID
	pc   string
	kind wire.Kind
}

// Runtime is one player's end of a multiparty computation.
type Runtime struct {
	cfg  *config.Config
	n, t int
	me   party.ID

	rand      io.Reader
	bitLength int
	secParam  int
	compare   ComparisonStrategy
	broadcast BroadcastStrategy
	triples   TripleStrategy

	prssParty *prss.Party
	dealers   map[party.ID]*prss.Party

	conns map[party.ID]Conn

	seqMu sync.Mutex
	seq   *pc.Seq

	poolMu sync.Mutex
	pools  map[string][]Triple

	// Event loop state. The loop goroutine owns everything below.
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	closing bool
	closed  chan struct{}

	inbox   map[msgKey][][]byte
	expects map[msgKey][]func([]byte)
}

// New starts a runtime for the player described by cfg, connected to
// every other player through conns (one entry per peer, none for the
// player itself).
func New(cfg *config.Config, conns map[party.ID]Conn, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := cfg.N()
	for id := party.ID(1); int(id) <= n; id++ {
		if id == cfg.ID {
			continue
		}
		if _, ok := conns[id]; !ok {
			return nil, fmt.Errorf("mpc: no connection to player %v", id)
		}
	}

	o := options{
		rand:      rand.Reader,
		bitLength: DefaultBitLength,
		secParam:  DefaultSecurityParameter,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.compare == nil {
		o.compare = &Toft07{}
	}
	if o.broadcast == nil {
		o.broadcast = Bracha{}
	}
	if o.triples == nil {
		o.triples = PRSSTriples{}
	}

	own, err := prss.NewParty(n, cfg.T(), cfg.ID, cfg.Keys)
	if err != nil {
		return nil, err
	}
	dealers := map[party.ID]*prss.Party{}
	for id := party.ID(1); int(id) <= n; id++ {
		keys := cfg.DealerKeys[id]
		if id == cfg.ID {
			keys = keys.ViewOf(id)
		}
		p, err := prss.NewParty(n, cfg.T(), cfg.ID, keys)
		if err != nil {
			return nil, fmt.Errorf("mpc: dealer %v: %w", id, err)
		}
		dealers[id] = p
	}

	rt := &Runtime{
		cfg:       cfg,
		n:         n,
		t:         cfg.T(),
		me:        cfg.ID,
		rand:      o.rand,
		bitLength: o.bitLength,
		secParam:  o.secParam,
		compare:   o.compare,
		broadcast: o.broadcast,
		triples:   o.triples,
		prssParty: own,
		dealers:   dealers,
		conns:     conns,
		seq:       pc.NewSeq(pc.Root()),
		closed:    make(chan struct{}),
		inbox:     map[msgKey][][]byte{},
		expects:   map[msgKey][]func([]byte){},
		pools:     map[string][]Triple{},
	}
	rt.cond = sync.NewCond(&rt.mu)

	go rt.loop()
	for id, conn := range conns {
		go rt.reader(id, conn)
	}
	return rt, nil
}

// Default protocol parameters.
const (
	DefaultBitLength         = 32
	DefaultSecurityParameter = 30
)

// N returns the number of players.
func (rt *Runtime) N() int { return rt.n }

// T returns the corruption threshold.
func (rt *Runtime) T() int { return rt.t }

// Self returns this player's ID.
func (rt *Runtime) Self() party.ID { return rt.me }

func (rt *Runtime) loop() {
	for {
		rt.mu.Lock()
		for len(rt.queue) == 0 && !rt.closing {
			rt.cond.Wait()
		}
		if rt.closing && len(rt.queue) == 0 {
			rt.mu.Unlock()
			return
		}
		ev := rt.queue[0]
		rt.queue = rt.queue[1:]
		rt.mu.Unlock()
		ev()
	}
}

// post schedules f on the event loop. The queue is unbounded, so post
// never blocks and is safe from the loop itself.
func (rt *Runtime) post(f func()) {
	rt.mu.Lock()
	if !rt.closing {
		rt.queue = append(rt.queue, f)
		rt.cond.Signal()
	}
	rt.mu.Unlock()
}

func (rt *Runtime) reader(from party.ID, conn Conn) {
	for {
		frame, err := conn.Recv()
		if err != nil {
			return
		}
		rt.post(func() { rt.deliver(from, frame) })
	}
}

// deliver hands an incoming frame to the operation expecting it, or
// buffers it until the operation is issued locally. Loop only.
func (rt *Runtime) deliver(from party.ID, f *wire.Frame) {
	key := msgKey{from: from, pc: string(f.PC), kind: f.Kind}
	if subs := rt.expects[key]; len(subs) > 0 {
		if len(subs) == 1 {
			delete(rt.expects, key)
		} else {
			rt.expects[key] = subs[1:]
		}
		subs[0](f.Data)
		return
	}
	rt.inbox[key] = append(rt.inbox[key], f.Data)
}

// expect registers interest in the next frame with the given origin,
// path and kind. Loop only.
func (rt *Runtime) expect(from party.ID, p pc.Path, kind wire.Kind, sub func([]byte)) {
	key := msgKey{from: from, pc: string(p.Bytes()), kind: kind}
	if buf := rt.inbox[key]; len(buf) > 0 {
		if len(buf) == 1 {
			delete(rt.inbox, key)
		} else {
			rt.inbox[key] = buf[1:]
		}
		sub(buf[0])
		return
	}
	rt.expects[key] = append(rt.expects[key], sub)
}

// send transmits a frame to one player. Sending to oneself loops back
// through the regular delivery path. Loop only.
func (rt *Runtime) send(to party.ID, p pc.Path, kind wire.Kind, data []byte) {
	f := &wire.Frame{PC: p.Bytes(), Kind: kind, Data: data}
	if to == rt.me {
		rt.post(func() { rt.deliver(rt.me, f) })
		return
	}
	// Peer failures surface as missing messages; the passive model
	// assumes reliable channels.
	_ = rt.conns[to].Send(f)
}

// sendAll transmits the same payload to every player, self included.
func (rt *Runtime) sendAll(p pc.Path, kind wire.Kind, data []byte) {
	for id := party.ID(1); int(id) <= rt.n; id++ {
		rt.send(id, p, kind, data)
	}
}

// nextPC allocates the program-counter path for the next top-level
// operation. Players must issue top-level operations in the same order.
func (rt *Runtime) nextPC() pc.Path {
	rt.seqMu.Lock()
	defer rt.seqMu.Unlock()
	return rt.seq.Next()
}

// PendingMessages reports how many received frames are buffered waiting
// for an operation to claim them. After a fully synchronized
// computation this is zero: every operation consumes exactly the frames
// addressed to it.
func (rt *Runtime) PendingMessages() int {
	ch := make(chan int, 1)
	rt.post(func() {
		total := 0
		for _, buf := range rt.inbox {
			total += len(buf)
		}
		ch <- total
	})
	select {
	case v := <-ch:
		return v
	case <-rt.closed:
		return 0
	}
}

// Synchronize blocks until every player has reached the same point of
// the program. It doubles as a flush: once all markers have arrived, no
// frame of any earlier operation is still in flight from this player's
// perspective.
func (rt *Runtime) Synchronize(ctx context.Context) error {
	p := rt.nextPC()
	done := make(chan struct{})
	rt.post(func() {
		rt.sendAll(p, wire.KindText, []byte("sync"))
		missing := rt.n
		for id := party.ID(1); int(id) <= rt.n; id++ {
			rt.expect(id, p, wire.KindText, func([]byte) {
				if missing--; missing == 0 {
					close(done)
				}
			})
		}
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-rt.closed:
		return ErrClosed
	}
}

// Close shuts the runtime down and closes all peer connections.
// Outstanding futures fail with ErrClosed.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	if rt.closing {
		rt.mu.Unlock()
		return nil
	}
	rt.closing = true
	rt.queue = nil
	close(rt.closed)
	rt.cond.Signal()
	rt.mu.Unlock()

	var first error
	for _, conn := range rt.conns {
		if err := conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
