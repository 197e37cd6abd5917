// Package fec implements the optional Reed-Solomon forward-error-correction
// extension described in SPEC_FULL.md §4.7: a sender may emit parity
// shards alongside a group of consecutive pieces so the receiver can
// reconstruct a bounded number of losses within that group without a
// ResumeRequest round trip. It is purely additive — a receiver that
// ignores parity indices degrades to the plain resume-request protocol.
package fec

import (
	"errors"

	"github.com/klauspost/reedsolomon"
)

var (
	ErrInvalidConfig = errors.New("fec: group_size and parity_shards must be > 0")
	ErrTooManyLost   = errors.New("fec: more pieces missing than parity_shards can recover")
)

// Config configures the optional FEC layer for a transfer.
type Config struct {
	Enabled      bool
	GroupSize    int // pieces per FEC group
	ParityShards int // recoverable losses per group
}

// DefaultConfig disables FEC; callers opt in explicitly.
func DefaultConfig() Config {
	return Config{Enabled: false, GroupSize: 16, ParityShards: 2}
}

// Group computes parity shards for one run of consecutive piece payloads.
// Encode zero-pads shorter data shards to the longest one, since parity
// shards operate on fixed-size shards. Reconstruct returns shards at that
// padded length; it does not strip the padding, so a short piece must be
// trimmed to its known original length by the caller.
type Group struct {
	cfg   Config
	enc   reedsolomon.Encoder
	first int // first data piece index covered by this group
}

// NewGroup creates a Reed-Solomon codec for one FEC group.
func NewGroup(cfg Config, firstIndex int) (*Group, error) {
	if cfg.GroupSize <= 0 || cfg.ParityShards <= 0 {
		return nil, ErrInvalidConfig
	}
	enc, err := reedsolomon.New(cfg.GroupSize, cfg.ParityShards)
	if err != nil {
		return nil, err
	}
	return &Group{cfg: cfg, enc: enc, first: firstIndex}, nil
}

// FirstIndex returns the data index this group starts at.
func (g *Group) FirstIndex() int { return g.first }

// ParityIndices returns the wire indices a group's parity shards are sent
// under, given numPieces: parity shards for every group share the single
// index range [numPieces, numPieces+totalParity), ordered group-major.
// groupOrdinal is this group's position (0-based) among all FEC groups in
// the transfer.
func ParityIndices(numPieces, groupOrdinal, parityShards int) []uint32 {
	base := uint32(numPieces) + uint32(groupOrdinal*parityShards)
	out := make([]uint32, parityShards)
	for i := range out {
		out[i] = base + uint32(i)
	}
	return out
}

// Encode pads shards to equal length and computes parity. shards must have
// length cfg.GroupSize+cfg.ParityShards with the first GroupSize entries
// populated with data (short shards are accepted and zero-padded) and the
// remaining ParityShards entries nil; Encode fills them in place.
func (g *Group) Encode(shards [][]byte) error {
	maxLen := 0
	for _, s := range shards[:g.cfg.GroupSize] {
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}
	for i := 0; i < g.cfg.GroupSize; i++ {
		if len(shards[i]) < maxLen {
			padded := make([]byte, maxLen)
			copy(padded, shards[i])
			shards[i] = padded
		}
	}
	for i := g.cfg.GroupSize; i < len(shards); i++ {
		shards[i] = make([]byte, maxLen)
	}
	return g.enc.Encode(shards)
}

// Reconstruct fills in nil entries in shards (missing data or parity
// pieces) given the rest. Returns ErrTooManyLost if recovery isn't
// possible with the configured parity shard count.
func (g *Group) Reconstruct(shards [][]byte) error {
	if err := g.enc.Reconstruct(shards); err != nil {
		if err == reedsolomon.ErrTooFewShards {
			return ErrTooManyLost
		}
		return err
	}
	return nil
}

// CountMissing returns how many entries in shards are nil.
func CountMissing(shards [][]byte) int {
	n := 0
	for _, s := range shards {
		if s == nil {
			n++
		}
	}
	return n
}
