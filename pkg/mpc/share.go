package mpc

import (
	"context"

	"github.com/veilmpc/veil/pkg/math/field"
)

// Share is a future holding this player's share of a secret value. It
// resolves once the underlying protocol messages have arrived; local
// arithmetic on resolved shares resolves immediately.
//
// Shares are created and resolved on the runtime's event loop.
// Programs observe them through Wait, which is safe from any goroutine.
type Share struct {
	rt   *Runtime
	f    field.Field
	done bool
	val  field.Element
	err  error
	subs []func(field.Element, error)
}

func (rt *Runtime) newShare(f field.Field) *Share {
	return &Share{rt: rt, f: f}
}

func (rt *Runtime) resolvedShare(v field.Element) *Share {
	return &Share{rt: rt, f: v.Field(), done: true, val: v}
}

func (rt *Runtime) failedShare(f field.Field, err error) *Share {
	return &Share{rt: rt, f: f, done: true, err: err}
}

// Field returns the field the shared value lives in.
func (s *Share) Field() field.Field { return s.f }

// resolve fulfils the future. Loop only.
func (s *Share) resolve(v field.Element) {
	if s.done {
		panic("mpc: share resolved twice")
	}
	s.done, s.val = true, v
	for _, sub := range s.subs {
		sub(v, nil)
	}
	s.subs = nil
}

// fail rejects the future. Loop only.
func (s *Share) fail(err error) {
	if s.done {
		return
	}
	s.done, s.err = true, err
	for _, sub := range s.subs {
		sub(nil, err)
	}
	s.subs = nil
}

// on registers a continuation, run in registration order. Loop only.
func (s *Share) on(sub func(field.Element, error)) {
	if s.done {
		sub(s.val, s.err)
		return
	}
	s.subs = append(s.subs, sub)
}

// Wait blocks until the share resolves and returns this player's share
// value. It does not open the secret; see Runtime.Open for that.
func (s *Share) Wait(ctx context.Context) (field.Element, error) {
	type result struct {
		val field.Element
		err error
	}
	ch := make(chan result, 1)
	s.rt.post(func() {
		s.on(func(v field.Element, err error) {
			ch <- result{v, err}
		})
	})
	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.rt.closed:
		return nil, ErrClosed
	}
}

// gather runs sub once every share has resolved, passing the values in
// order. The first error wins. Loop only.
func gather(shares []*Share, sub func([]field.Element, error)) {
	vals := make([]field.Element, len(shares))
	missing := len(shares)
	failed := false
	if missing == 0 {
		sub(vals, nil)
		return
	}
	for i, s := range shares {
		i := i
		s.on(func(v field.Element, err error) {
			if failed {
				return
			}
			if err != nil {
				failed = true
				sub(nil, err)
				return
			}
			vals[i] = v
			if missing--; missing == 0 {
				sub(vals, nil)
			}
		})
	}
}

func gather2(x, y *Share, sub func(a, b field.Element, err error)) {
	gather([]*Share{x, y}, func(vals []field.Element, err error) {
		if err != nil {
			sub(nil, nil, err)
			return
		}
		sub(vals[0], vals[1], nil)
	})
}

// Bytes is a future holding an opaque byte payload, used for broadcast
// results.
type Bytes struct {
	rt   *Runtime
	done bool
	val  []byte
	err  error
	subs []func([]byte, error)
}

func (rt *Runtime) newBytes() *Bytes { return &Bytes{rt: rt} }

func (b *Bytes) resolve(v []byte) {
	if b.done {
		panic("mpc: bytes future resolved twice")
	}
	b.done, b.val = true, v
	for _, sub := range b.subs {
		sub(v, nil)
	}
	b.subs = nil
}

func (b *Bytes) fail(err error) {
	if b.done {
		return
	}
	b.done, b.err = true, err
	for _, sub := range b.subs {
		sub(nil, err)
	}
	b.subs = nil
}

func (b *Bytes) on(sub func([]byte, error)) {
	if b.done {
		sub(b.val, b.err)
		return
	}
	b.subs = append(b.subs, sub)
}

// Wait blocks until the payload is available.
func (b *Bytes) Wait(ctx context.Context) ([]byte, error) {
	type result struct {
		val []byte
		err error
	}
	ch := make(chan result, 1)
	b.rt.post(func() {
		b.on(func(v []byte, err error) {
			ch <- result{v, err}
		})
	})
	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.rt.closed:
		return nil, ErrClosed
	}
}
