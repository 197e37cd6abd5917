package hash

import "testing"

func TestPieceHashLength(t *testing.T) {
	h := Piece([]byte("hello"))
	if len(h) != 64 {
		t.Fatalf("expected 64 hex chars, got %d (%s)", len(h), h)
	}
}

func TestMerkleRootEmpty(t *testing.T) {
	if _, err := MerkleRoot(nil); err != ErrEmptyHashes {
		t.Fatalf("expected ErrEmptyHashes, got %v", err)
	}
}

func TestMerkleRootSingle(t *testing.T) {
	h := Piece([]byte("a"))
	root, err := MerkleRoot([]string{h})
	if err != nil {
		t.Fatalf("MerkleRoot: %v", err)
	}
	if root != h {
		t.Fatalf("single-leaf root should equal the leaf hash: got %s want %s", root, h)
	}
}

func TestMerkleRootOddDuplication(t *testing.T) {
	h0 := Piece([]byte("a"))
	h1 := Piece([]byte("b"))
	h2 := Piece([]byte("c"))

	root3, err := MerkleRoot([]string{h0, h1, h2})
	if err != nil {
		t.Fatalf("MerkleRoot: %v", err)
	}
	// Duplicating the last leaf should produce the same root as a 4-leaf
	// tree with the third leaf repeated.
	root4, err := MerkleRoot([]string{h0, h1, h2, h2})
	if err != nil {
		t.Fatalf("MerkleRoot: %v", err)
	}
	if root3 != root4 {
		t.Fatalf("odd-node duplication rule violated: %s != %s", root3, root4)
	}
}

func TestMerkleRootChangesWithLeaf(t *testing.T) {
	h0 := Piece([]byte("a"))
	h1 := Piece([]byte("b"))
	h2 := Piece([]byte("c"))

	root, err := MerkleRoot([]string{h0, h1, h2})
	if err != nil {
		t.Fatalf("MerkleRoot: %v", err)
	}

	h2Changed := Piece([]byte("c-tampered"))
	rootChanged, err := MerkleRoot([]string{h0, h1, h2Changed})
	if err != nil {
		t.Fatalf("MerkleRoot: %v", err)
	}
	if root == rootChanged {
		t.Fatalf("changing a leaf must change the root")
	}
}

func TestMerkleRootInvalidHex(t *testing.T) {
	if _, err := MerkleRoot([]string{"not-hex"}); err == nil {
		t.Fatalf("expected error for non-hex leaf")
	}
}
