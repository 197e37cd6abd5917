package piece

import (
	"bytes"
	"sort"
	"sync"

	"github.com/AkitaEngineering/akita-supermodem/hash"
)

// Store is an in-memory, indexed slot store for received pieces. Put is
// idempotent for an equal payload and rejects a differing payload at an
// already-filled index (no duplicate overwrites). Storage does not survive
// a process restart; that is a deliberate simplification (spec.md §4.4).
type Store struct {
	mu     sync.RWMutex
	slots  map[int][]byte
	hashes map[int]string // expected hash per index, if known
}

// NewStore creates an empty piece store. expectedHashes may be nil when the
// transfer carries no per-piece hash list.
func NewStore(expectedHashes []string) *Store {
	s := &Store{
		slots: make(map[int][]byte),
	}
	if len(expectedHashes) > 0 {
		s.hashes = make(map[int]string, len(expectedHashes))
		for i, h := range expectedHashes {
			s.hashes[i] = h
		}
	}
	return s
}

// Put stores data at index. If hashes were provided for this transfer, the
// computed SHA-256 of data must match the expected hash or ErrHashMismatch
// is returned and nothing is stored. If a payload is already stored at
// index, Put succeeds as a no-op when data is byte-identical and returns
// ErrConflict otherwise.
func (s *Store) Put(index int, data []byte) error {
	if s.hashes != nil {
		if want, ok := s.hashes[index]; ok {
			if hash.Piece(data) != want {
				return ErrHashMismatch
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.slots[index]; ok {
		if bytes.Equal(existing, data) {
			return nil
		}
		return ErrConflict
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.slots[index] = cp
	return nil
}

// Get returns the stored bytes at index, if any.
func (s *Store) Get(index int) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.slots[index]
	return b, ok
}

// Has reports whether index is already filled.
func (s *Store) Has(index int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.slots[index]
	return ok
}

// Len returns the number of filled slots.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots)
}

// Indices returns the sorted set of currently filled indices.
func (s *Store) Indices() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int, 0, len(s.slots))
	for i := range s.slots {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// IterOrdered returns the stored pieces in ascending index order.
func (s *Store) IterOrdered() []Piece {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Piece, 0, len(s.slots))
	for i, d := range s.slots {
		out = append(out, Piece{Index: i, Data: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Reset discards all stored pieces (used after a failed Merkle
// verification, which requires re-requesting every piece).
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = make(map[int][]byte)
}

// Delete removes a single stored piece (used when per-piece verification
// finds a mismatch and only that piece needs to be re-requested).
func (s *Store) Delete(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, index)
}

// Piece is a single (index, data) slot as returned by IterOrdered.
type Piece struct {
	Index int
	Data  []byte
}

// Assemble concatenates all stored pieces in ascending index order. The
// caller is responsible for first checking that every index 0..numPieces
// is present.
func Assemble(pieces []Piece) []byte {
	var buf bytes.Buffer
	for _, p := range pieces {
		buf.Write(p.Data)
	}
	return buf.Bytes()
}

// MissingSet computes {0..numPieces} \ present, the complement of the
// store's currently filled indices.
func MissingSet(numPieces int, present []int) []int {
	have := make(map[int]struct{}, len(present))
	for _, i := range present {
		have[i] = struct{}{}
	}
	missing := make([]int, 0, numPieces-len(present))
	for i := 0; i < numPieces; i++ {
		if _, ok := have[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}
