// Package piece provides the piece layout computation and the in-memory
// indexed piece store used by both the send and receive transfer state
// machines.
package piece

import (
	"bufio"
	"io"
	"os"

	"github.com/AkitaEngineering/akita-supermodem/hash"
)

// Layout describes how a file is split into fixed-size, hashed pieces.
type Layout struct {
	TotalSize   int64
	PieceSize   int
	NumPieces   int
	PieceHashes []string
	MerkleRoot  string
}

// NumPieces returns ceil(totalSize/pieceSize), with the convention that an
// empty file has zero pieces.
func NumPieces(totalSize int64, pieceSize int) int {
	if totalSize <= 0 {
		return 0
	}
	n := totalSize / int64(pieceSize)
	if totalSize%int64(pieceSize) != 0 {
		n++
	}
	return int(n)
}

// PieceLength returns the expected length of the piece at index, given the
// overall layout. The last piece is short when totalSize doesn't divide
// evenly by pieceSize.
func PieceLength(index, numPieces int, pieceSize int, totalSize int64) int {
	if index < numPieces-1 {
		return pieceSize
	}
	last := totalSize - int64(numPieces-1)*int64(pieceSize)
	return int(last)
}

// LayoutFromFile opens path, streams it one piece-sized buffer at a time
// (never loading the whole file into memory), and computes the piece
// hashes and Merkle root. useMerkle controls whether the Merkle root is
// computed in addition to the per-piece hash list.
func LayoutFromFile(path string, pieceSize int, useMerkle bool) (Layout, error) {
	f, err := os.Open(path)
	if err != nil {
		return Layout{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Layout{}, err
	}
	totalSize := info.Size()

	if totalSize > 0 && pieceSize <= 0 {
		return Layout{}, ErrZeroPieceSize
	}

	numPieces := NumPieces(totalSize, pieceSize)
	hashes := make([]string, 0, numPieces)

	if numPieces > 0 {
		br := bufio.NewReaderSize(f, pieceSize)
		buf := make([]byte, pieceSize)
		for i := 0; i < numPieces; i++ {
			want := PieceLength(i, numPieces, pieceSize, totalSize)
			n, err := io.ReadFull(br, buf[:want])
			if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
				return Layout{}, err
			}
			hashes = append(hashes, hash.Piece(buf[:n]))
		}
	}

	layout := Layout{
		TotalSize:   totalSize,
		PieceSize:   pieceSize,
		NumPieces:   numPieces,
		PieceHashes: hashes,
	}

	if useMerkle && numPieces > 0 {
		root, err := hash.MerkleRoot(hashes)
		if err != nil {
			return Layout{}, err
		}
		layout.MerkleRoot = root
	}

	return layout, nil
}

// ReadPiece streams a single piece fresh from disk, never holding more than
// one piece-sized buffer in memory. Used both for the initial send pass and
// for retransmissions, so a send transfer never keeps the whole file
// resident.
func ReadPiece(path string, index int, layout Layout) ([]byte, error) {
	if index < 0 || index >= layout.NumPieces {
		return nil, ErrIndexRange
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	want := PieceLength(index, layout.NumPieces, layout.PieceSize, layout.TotalSize)
	offset := int64(index) * int64(layout.PieceSize)
	buf := make([]byte, want)
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}
