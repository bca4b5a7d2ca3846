// Package pc provides the program-counter tree that keeps message
// streams of concurrent protocol operations apart. Every operation runs
// under a Path; sub-operations run under child paths. Two players
// executing the same program derive the same paths, so a message tagged
// with its sender's path is routed to the matching operation at the
// receiver without any global coordination.
package pc

import (
	"encoding/binary"
	"strconv"
	"strings"
)

// Path is an immutable position in the program-counter tree. The zero
// value is the root.
type Path struct {
	elems []uint32
}

// Root returns the root path.
func Root() Path { return Path{} }

// Child returns the path extended by one branch. The receiver is not
// modified.
func (p Path) Child(branch uint32) Path {
	elems := make([]uint32, len(p.elems)+1)
	copy(elems, p.elems)
	elems[len(p.elems)] = branch
	return Path{elems: elems}
}

// Depth returns the number of branches taken from the root.
func (p Path) Depth() int { return len(p.elems) }

// Key returns the path in a form usable as a map key.
func (p Path) Key() string {
	var b strings.Builder
	var buf [4]byte
	for _, e := range p.elems {
		binary.BigEndian.PutUint32(buf[:], e)
		b.Write(buf[:])
	}
	return b.String()
}

// Bytes returns the wire encoding of the path, 4 bytes per branch.
func (p Path) Bytes() []byte {
	out := make([]byte, 4*len(p.elems))
	for i, e := range p.elems {
		binary.BigEndian.PutUint32(out[4*i:], e)
	}
	return out
}

// FromBytes decodes a path produced by Bytes.
func FromBytes(data []byte) (Path, bool) {
	if len(data)%4 != 0 {
		return Path{}, false
	}
	elems := make([]uint32, len(data)/4)
	for i := range elems {
		elems[i] = binary.BigEndian.Uint32(data[4*i:])
	}
	return Path{elems: elems}, true
}

func (p Path) String() string {
	parts := make([]string, len(p.elems))
	for i, e := range p.elems {
		parts[i] = strconv.FormatUint(uint64(e), 10)
	}
	return "/" + strings.Join(parts, "/")
}

// Seq hands out child paths of a base path in deterministic order. Each
// operation owns its Seq, so concurrent operations never contend for a
// shared counter.
type Seq struct {
	base Path
	next uint32
}

// NewSeq returns a sequence of children of base, starting at branch 0.
func NewSeq(base Path) *Seq {
	return &Seq{base: base}
}

// Next returns the next child path.
func (s *Seq) Next() Path {
	p := s.base.Child(s.next)
	s.next++
	return p
}
