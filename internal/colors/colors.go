// Package colors implements one narrow boundary function for color-set
// storage: turning a slice of color ids into a compact Index. The full
// on-disk color-storage format stays out of scope; this package gives
// that one boundary function a concrete, process-local implementation
// good enough to exercise everywhere the pipeline attaches color
// metadata to an output record.
package colors

import (
	"encoding/binary"
	"hash/maphash"
	"sync"
)

// Index identifies one distinct color set.
type Index uint32

// Serializer turns repeated color-id slices into a compact Index,
// memoizing by content so two calls with the same set of colors return
// the same Index instead of growing the table unboundedly.
type Serializer struct {
	mu     sync.Mutex
	seed   maphash.Seed
	byHash map[uint64]Index
	names  []string
	nextID Index
}

func NewSerializer(colorNames []string) *Serializer {
	return &Serializer{
		seed:   maphash.MakeSeed(),
		byHash: make(map[uint64]Index),
		names:  colorNames,
	}
}

func (s *Serializer) hashColors(colorIDs []uint32) uint64 {
	var h maphash.Hash
	h.SetSeed(s.seed)
	var buf [4]byte
	for _, c := range colorIDs {
		binary.LittleEndian.PutUint32(buf[:], c)
		h.Write(buf[:])
	}
	return h.Sum64()
}

// GetID returns the Index for this set of color ids, allocating a new
// one on first sight of this exact combination.
func (s *Serializer) GetID(colorIDs []uint32) Index {
	key := s.hashColors(colorIDs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byHash[key]; ok {
		return id
	}
	id := s.nextID
	s.nextID++
	s.byHash[key] = id
	return id
}

// Count reports how many distinct color sets have been registered.
func (s *Serializer) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byHash)
}

// Name resolves a single color id to its configured name, or "" if the
// id is out of range (colors are optional: most builds run with zero
// configured color names).
func (s *Serializer) Name(colorID uint32) string {
	if int(colorID) >= len(s.names) {
		return ""
	}
	return s.names[colorID]
}
