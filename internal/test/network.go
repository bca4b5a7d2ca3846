// Package test provides an in-memory network and cluster helpers for
// exercising multiparty protocols inside a single process.
package test

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/veilmpc/veil/internal/wire"
	"github.com/veilmpc/veil/pkg/config"
	"github.com/veilmpc/veil/pkg/mpc"
	"github.com/veilmpc/veil/pkg/party"
)

// pipeConn is one end of an in-memory link. Frames are passed by
// reference; peers must not mutate them after sending.
type pipeConn struct {
	out chan<- *wire.Frame
	in  <-chan *wire.Frame

	once sync.Once
	done chan struct{}
}

func (c *pipeConn) Send(f *wire.Frame) error {
	select {
	case c.out <- f:
		return nil
	case <-c.done:
		return io.ErrClosedPipe
	}
}

func (c *pipeConn) Recv() (*wire.Frame, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.done:
		return nil, io.EOF
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

// Network builds a full mesh of in-memory connections between n
// players. The result is indexed by player: conns[i] belongs to player
// i+1 and has one entry per peer.
func Network(n int) []map[party.ID]mpc.Conn {
	type link struct{ ab, ba chan *wire.Frame }
	links := map[[2]party.ID]link{}
	for i := 1; i <= n; i++ {
		for j := i + 1; j <= n; j++ {
			links[[2]party.ID{party.ID(i), party.ID(j)}] = link{
				ab: make(chan *wire.Frame, 4096),
				ba: make(chan *wire.Frame, 4096),
			}
		}
	}
	conns := make([]map[party.ID]mpc.Conn, n)
	for i := 1; i <= n; i++ {
		conns[i-1] = map[party.ID]mpc.Conn{}
		for j := 1; j <= n; j++ {
			if i == j {
				continue
			}
			a, b := party.ID(i), party.ID(j)
			if a < b {
				l := links[[2]party.ID{a, b}]
				conns[i-1][b] = &pipeConn{out: l.ab, in: l.ba, done: make(chan struct{})}
			} else {
				l := links[[2]party.ID{b, a}]
				conns[i-1][b] = &pipeConn{out: l.ba, in: l.ab, done: make(chan struct{})}
			}
		}
	}
	return conns
}

// Cluster runs the same program on n players over an in-memory mesh
// and waits for all of them. Each player gets its own runtime; the
// program must issue operations in a deterministic order.
func Cluster(ctx context.Context, n, threshold int, opts []mpc.Option, program func(rt *mpc.Runtime) error) error {
	addresses := make([]string, n)
	for i := range addresses {
		addresses[i] = fmt.Sprintf("player-%d", i+1)
	}
	configs, err := config.Generate(rand.Reader, threshold, addresses)
	if err != nil {
		return err
	}
	conns := Network(n)

	g, _ := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			rt, err := mpc.New(configs[i], conns[i], opts...)
			if err != nil {
				return err
			}
			defer rt.Close()
			return program(rt)
		})
	}
	return g.Wait()
}
