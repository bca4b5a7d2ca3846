// Package transport connects the players of a computation over TCP,
// optionally wrapped in TLS. Every pair of players shares one
// connection: the higher ID dials, the lower ID listens. A short
// handshake exchanges the dialer's ID and a fingerprint of the roster,
// so players running against mismatched configs fail fast instead of
// corrupting a computation.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"
	"golang.org/x/sync/errgroup"

	"github.com/veilmpc/veil/internal/wire"
	"github.com/veilmpc/veil/pkg/config"
	"github.com/veilmpc/veil/pkg/mpc"
	"github.com/veilmpc/veil/pkg/party"
)

type options struct {
	tls         *tls.Config
	dialRetry   time.Duration
	sendBacklog int
}

// Option configures the mesh.
type Option func(*options)

// WithTLS wraps every connection in TLS with the given config. The
// dialing side uses it as a client config, the listening side as a
// server config; both must carry certificates the other side accepts,
// so the server config needs ClientAuth set. Each player's certificate
// must carry the player's ID as its serial number; the mesh rejects
// peers whose certificate does not match the ID they claim.
func WithTLS(c *tls.Config) Option { return func(o *options) { o.tls = c } }

// WithDialRetry sets the pause between dial attempts while waiting for
// a peer to come up. Defaults to 200ms.
func WithDialRetry(d time.Duration) Option { return func(o *options) { o.dialRetry = d } }

// fingerprintSize is the length of the roster fingerprint exchanged in
// the handshake.
const fingerprintSize = 16

// Fingerprint derives a short identifier of the computation cohort from
// the roster and threshold. Players with different configs get
// different fingerprints with overwhelming probability.
func Fingerprint(cfg *config.Config) []byte {
	shake := sha3.NewShake128()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(cfg.Threshold))
	shake.Write(buf[:])
	for _, p := range cfg.Peers {
		binary.BigEndian.PutUint64(buf[:], uint64(p.ID))
		shake.Write(buf[:])
		shake.Write([]byte(p.Address))
	}
	out := make([]byte, fingerprintSize)
	shake.Read(out)
	return out
}

// netConn adapts a stream to mpc.Conn. Writes go through a background
// goroutine so the runtime's event loop never blocks on the network.
type netConn struct {
	c   net.Conn
	out chan *wire.Frame

	once   sync.Once
	done   chan struct{}
	closed chan struct{}
	err    error
}

func newNetConn(c net.Conn, backlog int) *netConn {
	nc := &netConn{
		c:      c,
		out:    make(chan *wire.Frame, backlog),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go nc.writer()
	return nc
}

// writer owns the socket's write side. On shutdown it first drains the
// queue: a player that finished its program may still have the final
// frames of the computation queued, and a peer that is behind needs
// them.
func (nc *netConn) writer() {
	defer close(nc.closed)
	for {
		select {
		case f := <-nc.out:
			if err := wire.Write(nc.c, f); err != nil {
				nc.err = err
				nc.c.Close()
				return
			}
		case <-nc.done:
			for {
				select {
				case f := <-nc.out:
					if err := wire.Write(nc.c, f); err != nil {
						nc.err = err
						nc.c.Close()
						return
					}
				default:
					nc.err = nc.c.Close()
					return
				}
			}
		}
	}
}

func (nc *netConn) Send(f *wire.Frame) error {
	select {
	case nc.out <- f:
		return nil
	case <-nc.done:
		return net.ErrClosed
	case <-nc.closed:
		return net.ErrClosed
	}
}

func (nc *netConn) Recv() (*wire.Frame, error) {
	return wire.Read(nc.c)
}

// Close flushes queued frames, closes the socket and waits for the
// writer to finish.
func (nc *netConn) Close() error {
	nc.once.Do(func() { close(nc.done) })
	<-nc.closed
	return nc.err
}

// Mesh establishes the full mesh of connections for the player in cfg.
// It listens on the player's own roster address, dials every lower ID,
// and returns once all n-1 links are up and verified.
func Mesh(ctx context.Context, cfg *config.Config, opts ...Option) (map[party.ID]mpc.Conn, error) {
	o := options{dialRetry: 200 * time.Millisecond, sendBacklog: 1024}
	for _, opt := range opts {
		opt(&o)
	}

	fingerprint := Fingerprint(cfg)
	me := cfg.ID

	var mu sync.Mutex
	conns := map[party.ID]mpc.Conn{}
	add := func(id party.ID, nc *netConn) error {
		mu.Lock()
		defer mu.Unlock()
		if _, dup := conns[id]; dup {
			nc.Close()
			return fmt.Errorf("transport: duplicate connection from player %v", id)
		}
		conns[id] = nc
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)

	// Accept connections from all higher IDs.
	expected := cfg.N() - int(me)
	if expected > 0 {
		ln, err := net.Listen("tcp", cfg.Address(me))
		if err != nil {
			return nil, fmt.Errorf("transport: listening on %s: %w", cfg.Address(me), err)
		}
		go func() {
			<-ctx.Done()
			ln.Close()
		}()
		g.Go(func() error {
			defer ln.Close()
			for i := 0; i < expected; i++ {
				raw, err := ln.Accept()
				if err != nil {
					return fmt.Errorf("transport: accept: %w", err)
				}
				if o.tls != nil {
					raw = tls.Server(raw, o.tls)
				}
				nc := newNetConn(raw, o.sendBacklog)
				id, err := readHello(nc, fingerprint)
				if err != nil {
					nc.Close()
					return err
				}
				if id <= me || int(id) > cfg.N() {
					nc.Close()
					return fmt.Errorf("transport: unexpected hello from player %v", id)
				}
				// Reading the hello completed the TLS handshake, so the
				// claimed ID can be checked against the certificate.
				if err := verifyPeerCertificate(raw, id); err != nil {
					nc.Close()
					return err
				}
				if err := add(id, nc); err != nil {
					return err
				}
			}
			return nil
		})
	}

	// Dial all lower IDs.
	for id := party.ID(1); id < me; id++ {
		id := id
		g.Go(func() error {
			addr := cfg.Address(id)
			for {
				var d net.Dialer
				raw, err := d.DialContext(ctx, "tcp", addr)
				if err != nil {
					select {
					case <-time.After(o.dialRetry):
						continue
					case <-ctx.Done():
						return fmt.Errorf("transport: dialing player %v at %s: %w", id, addr, ctx.Err())
					}
				}
				if o.tls != nil {
					tc := tls.Client(raw, o.tls)
					if err := tc.HandshakeContext(ctx); err != nil {
						raw.Close()
						return fmt.Errorf("transport: TLS handshake with player %v: %w", id, err)
					}
					raw = tc
				}
				nc := newNetConn(raw, o.sendBacklog)
				if err := verifyPeerCertificate(raw, id); err != nil {
					nc.Close()
					return err
				}
				if err := sendHello(nc, me, fingerprint); err != nil {
					nc.Close()
					return err
				}
				return add(id, nc)
			}
		})
	}

	if err := g.Wait(); err != nil {
		for _, c := range conns {
			c.Close()
		}
		return nil, err
	}
	return conns, nil
}

// verifyPeerCertificate binds a TLS connection to a player identity:
// the peer's certificate serial number must equal its player ID. Plain
// TCP connections pass unchecked.
func verifyPeerCertificate(c net.Conn, id party.ID) error {
	tc, ok := c.(*tls.Conn)
	if !ok {
		return nil
	}
	certs := tc.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return fmt.Errorf("transport: player %v presented no certificate", id)
	}
	if serial := certs[0].SerialNumber; serial == nil || serial.Cmp(big.NewInt(int64(id))) != 0 {
		return fmt.Errorf("transport: player %v presented a certificate with serial %v", id, certs[0].SerialNumber)
	}
	return nil
}

// The hello is a single frame: two bytes of player ID followed by the
// roster fingerprint.
func sendHello(nc *netConn, me party.ID, fingerprint []byte) error {
	data := make([]byte, 2+len(fingerprint))
	binary.BigEndian.PutUint16(data, uint16(me))
	copy(data[2:], fingerprint)
	return nc.Send(&wire.Frame{Kind: wire.KindText, Data: data})
}

func readHello(nc *netConn, fingerprint []byte) (party.ID, error) {
	f, err := nc.Recv()
	if err != nil {
		return 0, fmt.Errorf("transport: reading hello: %w", err)
	}
	if f.Kind != wire.KindText || len(f.Data) != 2+fingerprintSize {
		return 0, fmt.Errorf("transport: malformed hello")
	}
	id := party.ID(binary.BigEndian.Uint16(f.Data))
	if !bytes.Equal(f.Data[2:], fingerprint) {
		return 0, fmt.Errorf("transport: player %v runs a different computation config", id)
	}
	return id, nil
}
