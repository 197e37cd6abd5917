package piece

import "errors"

var (
	// ErrZeroPieceSize is returned when a non-empty file is laid out with a
	// zero piece size.
	ErrZeroPieceSize = errors.New("piece: piece_size must be > 0 for a non-empty file")
	// ErrIndexRange is returned for an out-of-range piece index.
	ErrIndexRange = errors.New("piece: index out of range")
	// ErrHashMismatch is returned when a piece's computed hash doesn't match
	// the expected hash.
	ErrHashMismatch = errors.New("piece: hash mismatch")
	// ErrConflict is returned by Store.Put when a different payload is
	// already stored at that index.
	ErrConflict = errors.New("piece: conflicting payload already stored at index")
)
