// Package wire defines the message frame exchanged between players.
// Every frame carries the program-counter path of the operation it
// belongs to, a kind discriminating concurrent streams under the same
// path, and an opaque payload interpreted by the operation.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Kind labels the message stream a frame belongs to.
type Kind uint8

const (
	// KindShare carries a field element, a share sent between players.
	KindShare Kind = iota + 1
	// KindText carries an arbitrary payload for echoed broadcast values.
	KindText
	// KindHash carries a digest in hash-based broadcast.
	KindHash
	// KindSend, KindEcho and KindReady are the three phases of
	// Byzantine reliable broadcast.
	KindSend
	KindEcho
	KindReady
)

func (k Kind) String() string {
	switch k {
	case KindShare:
		return "share"
	case KindText:
		return "text"
	case KindHash:
		return "hash"
	case KindSend:
		return "send"
	case KindEcho:
		return "echo"
	case KindReady:
		return "ready"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Frame is one unit of player-to-player communication.
type Frame struct {
	PC   []byte `cbor:"pc"`
	Kind Kind   `cbor:"kind"`
	Data []byte `cbor:"data"`
}

// MaxFrameSize bounds a single encoded frame. Shares and digests are
// small; anything larger indicates a broken or hostile peer.
const MaxFrameSize = 1 << 20

var encMode = func() cbor.EncMode {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// Write encodes the frame with a 4-byte big-endian length prefix.
func Write(w io.Writer, f *Frame) error {
	body, err := encMode.Marshal(f)
	if err != nil {
		return fmt.Errorf("wire: encoding frame: %w", err)
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("wire: frame of %d bytes exceeds limit", len(body))
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// Read decodes one length-prefixed frame.
func Read(r io.Reader) (*Frame, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("wire: frame of %d bytes exceeds limit", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	f := &Frame{}
	if err := cbor.Unmarshal(body, f); err != nil {
		return nil, fmt.Errorf("wire: decoding frame: %w", err)
	}
	return f, nil
}
