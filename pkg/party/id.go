// Package party defines player identifiers and the subset sets used to
// index PRSS keys.
package party

import (
	"sort"
	"strconv"
	"strings"
)

// ID identifies a player. Valid IDs run from 1 to the number of players;
// 0 is reserved as the secret evaluation point and never names a player.
type ID uint16

// String returns the base-10 representation of the ID.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// IDSlice is a sorted list of player IDs.
type IDSlice []ID

// All returns the IDs 1..n.
func All(n int) IDSlice {
	ids := make(IDSlice, n)
	for i := range ids {
		ids[i] = ID(i + 1)
	}
	return ids
}

func (ids IDSlice) Len() int           { return len(ids) }
func (ids IDSlice) Less(i, j int) bool { return ids[i] < ids[j] }
func (ids IDSlice) Swap(i, j int)      { ids[i], ids[j] = ids[j], ids[i] }

// Sort is a convenience method: x.Sort() calls sort.Sort(x).
func (ids IDSlice) Sort() { sort.Sort(ids) }

// Contains reports whether id occurs in ids. Assumes ids is sorted.
func (ids IDSlice) Contains(id ID) bool {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	return i < len(ids) && ids[i] == id
}

// Copy returns a sorted copy.
func (ids IDSlice) Copy() IDSlice {
	out := make(IDSlice, len(ids))
	copy(out, ids)
	out.Sort()
	return out
}

// Set is an immutable subset of players, used as the index of a PRSS key.
// The canonical form is the sorted, space-separated ID list, which makes
// Set usable as a map key and stable across processes and config files.
type Set string

// NewSet builds the canonical Set for the given IDs.
func NewSet(ids ...ID) Set {
	sorted := IDSlice(ids).Copy()
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = id.String()
	}
	return Set(strings.Join(parts, " "))
}

// IDs returns the members of the set in increasing order.
func (s Set) IDs() IDSlice {
	if s == "" {
		return nil
	}
	parts := strings.Split(string(s), " ")
	ids := make(IDSlice, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			panic("party: malformed set " + string(s))
		}
		ids[i] = ID(v)
	}
	return ids
}

// Contains reports whether id is a member of the set.
func (s Set) Contains(id ID) bool {
	return s.IDs().Contains(id)
}

// With returns the set extended with id.
func (s Set) With(id ID) Set {
	ids := s.IDs()
	if ids.Contains(id) {
		return s
	}
	return NewSet(append(ids, id)...)
}

// Size returns the number of members.
func (s Set) Size() int {
	if s == "" {
		return 0
	}
	return strings.Count(string(s), " ") + 1
}

// Subsets enumerates all subsets of ids with exactly size members.
func Subsets(ids IDSlice, size int) []Set {
	if size < 0 || size > len(ids) {
		return nil
	}
	var out []Set
	pick := make(IDSlice, 0, size)
	var rec func(start int)
	rec = func(start int) {
		if len(pick) == size {
			out = append(out, NewSet(pick...))
			return
		}
		for i := start; i <= len(ids)-(size-len(pick)); i++ {
			pick = append(pick, ids[i])
			rec(i + 1)
			pick = pick[:len(pick)-1]
		}
	}
	rec(0)
	return out
}
