package mpc

import (
	"bytes"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/veilmpc/veil/internal/pc"
	"github.com/veilmpc/veil/internal/wire"
	"github.com/veilmpc/veil/pkg/party"
)

// BroadcastStrategy delivers one sender's message identically to all
// players, even when the sender misbehaves.
type BroadcastStrategy interface {
	Broadcast(rt *Runtime, p pc.Path, sender party.ID, msg []byte) *Bytes
}

// Broadcast runs the configured broadcast protocol. Only the sender
// reads its msg argument; other players pass nil.
func (rt *Runtime) Broadcast(sender party.ID, msg []byte) *Bytes {
	return rt.broadcast.Broadcast(rt, rt.nextPC(), sender, msg)
}

// Bracha is Byzantine reliable broadcast after "An asynchronous [(n-1)/3]-
// resilient consensus protocol", G. Bracha, PODC 1984. It tolerates
// t < n/3 actively corrupted players: all honest players deliver the
// same message, or none deliver at all.
type Bracha struct{}

func (Bracha) Broadcast(rt *Runtime, p pc.Path, sender party.ID, msg []byte) *Bytes {
	out := rt.newBytes()
	if 3*rt.t >= rt.n {
		out.done = true
		out.err = fmt.Errorf("mpc: Bracha broadcast needs t < n/3, have t=%d n=%d", rt.t, rt.n)
		return out
	}
	echoThreshold := (rt.n + rt.t + 2) / 2 // ⌈(n+t+1)/2⌉
	rt.post(func() {
		if rt.me == sender {
			rt.sendAll(p, wire.KindSend, msg)
		}

		readySent := false
		ready := func(data []byte) {
			if !readySent {
				readySent = true
				rt.sendAll(p, wire.KindReady, data)
			}
		}

		rt.expect(sender, p, wire.KindSend, func(data []byte) {
			rt.sendAll(p, wire.KindEcho, data)
		})

		echoes := map[string]int{}
		for id := party.ID(1); int(id) <= rt.n; id++ {
			rt.expect(id, p, wire.KindEcho, func(data []byte) {
				echoes[string(data)]++
				if echoes[string(data)] == echoThreshold {
					ready(data)
				}
			})
		}

		readies := map[string]int{}
		for id := party.ID(1); int(id) <= rt.n; id++ {
			rt.expect(id, p, wire.KindReady, func(data []byte) {
				readies[string(data)]++
				// t+1 readies amplify, 2t+1 deliver.
				if readies[string(data)] == rt.t+1 {
					ready(data)
				}
				if readies[string(data)] == 2*rt.t+1 && !out.done {
					out.resolve(data)
				}
			})
		}
	})
	return out
}

// HashBroadcast is the cheap alternative for the crash-stop setting:
// the sender sends the message point to point, players exchange
// digests, and any disagreement aborts the broadcast. A corrupted
// sender can stop the computation but cannot make honest players
// accept different values without detection.
type HashBroadcast struct{}

func (HashBroadcast) Broadcast(rt *Runtime, p pc.Path, sender party.ID, msg []byte) *Bytes {
	out := rt.newBytes()
	rt.post(func() {
		if rt.me == sender {
			rt.sendAll(p, wire.KindText, msg)
		}
		rt.expect(sender, p, wire.KindText, func(data []byte) {
			digest := blake3.Sum256(data)
			rt.sendAll(p, wire.KindHash, digest[:])

			missing := rt.n
			for id := party.ID(1); int(id) <= rt.n; id++ {
				id := id
				rt.expect(id, p, wire.KindHash, func(theirs []byte) {
					if out.done {
						return
					}
					if !bytes.Equal(theirs, digest[:]) {
						out.fail(fmt.Errorf("%w: digest from player %d differs", ErrBroadcast, id))
						return
					}
					if missing--; missing == 0 {
						out.resolve(data)
					}
				})
			}
		})
	})
	return out
}
