package fec

import (
	"bytes"
	"testing"
)

func TestGroupEncodeReconstruct(t *testing.T) {
	cfg := Config{Enabled: true, GroupSize: 4, ParityShards: 2}
	g, err := NewGroup(cfg, 0)
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}

	data := [][]byte{
		[]byte("piece-zero-"),
		[]byte("piece-one--"),
		[]byte("piece-two--"),
		[]byte("piece-three"),
	}
	shards := make([][]byte, cfg.GroupSize+cfg.ParityShards)
	copy(shards, data)

	if err := g.Encode(shards); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Drop two data shards (at the recoverable limit).
	lost := [][]byte{shards[0], shards[1], shards[2], shards[3], shards[4], shards[5]}
	orig0, orig1 := lost[0], lost[1]
	lost[0] = nil
	lost[1] = nil

	if CountMissing(lost) != 2 {
		t.Fatalf("expected 2 missing shards")
	}

	if err := g.Reconstruct(lost); err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if !bytes.Equal(lost[0], orig0) || !bytes.Equal(lost[1], orig1) {
		t.Fatalf("reconstruction produced wrong data")
	}
}

func TestGroupTooManyLost(t *testing.T) {
	cfg := Config{Enabled: true, GroupSize: 4, ParityShards: 1}
	g, err := NewGroup(cfg, 0)
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	shards := make([][]byte, cfg.GroupSize+cfg.ParityShards)
	for i := 0; i < cfg.GroupSize; i++ {
		shards[i] = []byte("xxxx")
	}
	if err := g.Encode(shards); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	shards[0] = nil
	shards[1] = nil // two losses, only one parity shard available
	if err := g.Reconstruct(shards); err != ErrTooManyLost {
		t.Fatalf("expected ErrTooManyLost, got %v", err)
	}
}

func TestParityIndices(t *testing.T) {
	idx := ParityIndices(100, 2, 3)
	want := []uint32{106, 107, 108}
	for i, w := range want {
		if idx[i] != w {
			t.Fatalf("ParityIndices mismatch: got %v want %v", idx, want)
		}
	}
}

func TestNewGroupInvalidConfig(t *testing.T) {
	if _, err := NewGroup(Config{GroupSize: 0, ParityShards: 1}, 0); err != ErrInvalidConfig {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
