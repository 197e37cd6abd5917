// Package receive implements the receiver-side transfer state machine
// (spec.md §4.3): FileStart validation, piece ingestion, Merkle/hash
// verification, assembly, and resume-request scheduling.
package receive

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/AkitaEngineering/akita-supermodem/hash"
	"github.com/AkitaEngineering/akita-supermodem/piece"
	"github.com/AkitaEngineering/akita-supermodem/wire"
)

// State is the receive transfer's lifecycle state (spec.md §4.3).
type State int

const (
	StateReceiving State = iota
	StateVerifying
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceiving:
		return "RECEIVING"
	case StateVerifying:
		return "VERIFYING"
	case StateComplete:
		return "COMPLETE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Status is a snapshot of a receive transfer, safe to read after the
// transfer has been destroyed.
type Status struct {
	PeerID      string
	Filename    string
	NumPieces   int
	Missing     int
	State       State
	IsBroadcast bool
}

// Transfer is one (peer, file) receive-side session.
type Transfer struct {
	peerID   string
	filename string // sanitized

	numPieces      int
	pieceSize      int
	totalSize      int64
	expectedHashes []string
	merkleRoot     string
	isBroadcast    bool

	store *piece.Store

	mu                sync.Mutex
	missing           map[uint32]struct{}
	perPieceRetry     map[uint32]uint16
	lastRequestSent   time.Time
	lastPieceReceived time.Time
	state             State

	// rawFileStart lets HandleFileStart detect an identical re-announcement
	// (a no-op, spec.md §8 idempotent FileStart) versus a parameter change
	// (which resets the transfer).
	rawFileStart wire.FileStart
}

func newTransfer(peerID string, fs wire.FileStart, sanitizedFilename string, numPieces int, isBroadcast bool, now time.Time) *Transfer {
	t := &Transfer{
		peerID:         peerID,
		filename:       sanitizedFilename,
		numPieces:      numPieces,
		pieceSize:      int(fs.PieceSize),
		totalSize:      int64(fs.TotalSize),
		expectedHashes: fs.PieceHashes,
		merkleRoot:     fs.MerkleRoot,
		isBroadcast:    isBroadcast,
		store:          piece.NewStore(fs.PieceHashes),
		missing:        make(map[uint32]struct{}, numPieces),
		perPieceRetry:  make(map[uint32]uint16),
		lastPieceReceived: now,
		state:          StateReceiving,
		rawFileStart:   fs,
	}
	for i := 0; i < numPieces; i++ {
		t.missing[uint32(i)] = struct{}{}
	}
	return t
}

// sameParameters reports whether fs describes the same transfer as the one
// this state was created from (spec.md §8, idempotent FileStart).
func (t *Transfer) sameParameters(fs wire.FileStart) bool {
	if t.rawFileStart.Filename != fs.Filename ||
		t.rawFileStart.TotalSize != fs.TotalSize ||
		t.rawFileStart.PieceSize != fs.PieceSize ||
		t.rawFileStart.MerkleRoot != fs.MerkleRoot ||
		len(t.rawFileStart.PieceHashes) != len(fs.PieceHashes) {
		return false
	}
	for i := range fs.PieceHashes {
		if t.rawFileStart.PieceHashes[i] != fs.PieceHashes[i] {
			return false
		}
	}
	return true
}

// Status returns a point-in-time snapshot.
func (t *Transfer) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{
		PeerID:      t.peerID,
		Filename:    t.filename,
		NumPieces:   t.numPieces,
		Missing:     len(t.missing),
		State:       t.state,
		IsBroadcast: t.isBroadcast,
	}
}

func (t *Transfer) isDone() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StateComplete || t.state == StateFailed
}

// ingestResult tells the caller what, if anything, it needs to do as a side
// effect (send a resume request, call the save sink) outside the lock.
type ingestResult struct {
	verifyOutcome  verifyOutcome
	readyToAssemble bool
}

type verifyOutcome int

const (
	verifyNone verifyOutcome = iota
	verifyPassed
	verifyFailedFull    // merkle mismatch: reset everything
	verifyFailedPartial // per-piece mismatch: re-request specific indices
)

// handlePieceData ingests a single piece. Returns whether the piece was
// accepted, and if accepted, whether the store is now fully populated
// (caller should then call verify()).
func (t *Transfer) handlePieceData(index uint32, data []byte) (accepted bool, fullyReceived bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateComplete || t.state == StateFailed {
		return false, false
	}
	if index >= uint32(t.numPieces) {
		log.Printf("WARN receive: peer=%s piece=%d out of range (num_pieces=%d), dropped", t.peerID, index, t.numPieces)
		return false, false
	}
	if t.store.Has(int(index)) {
		return false, false // duplicate, silently discarded
	}

	if err := t.store.Put(int(index), data); err != nil {
		log.Printf("WARN receive: peer=%s piece=%d rejected: %v", t.peerID, index, err)
		return false, false // hash mismatch: InvalidMessage, dropped
	}

	delete(t.missing, index)
	t.lastPieceReceived = time.Now()

	if len(t.missing) == 0 {
		t.state = StateVerifying
		return true, true
	}
	return true, false
}

// verify runs the §4.3 verification procedure and applies its result to
// internal state. The caller is responsible for performing the resulting
// I/O (assembling + calling the sink, or scheduling a resume request)
// outside of any lock the caller itself may hold.
func (t *Transfer) verify() ingestResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.merkleRoot != "" {
		leaves := t.expectedHashes
		if len(leaves) == 0 {
			leaves = make([]string, t.numPieces)
			for i := 0; i < t.numPieces; i++ {
				data, _ := t.store.Get(i)
				leaves[i] = hash.Piece(data)
			}
		}
		root, err := hash.MerkleRoot(leaves)
		if err != nil || root != t.merkleRoot {
			t.store.Reset()
			t.missing = make(map[uint32]struct{}, t.numPieces)
			for i := 0; i < t.numPieces; i++ {
				t.missing[uint32(i)] = struct{}{}
			}
			t.state = StateReceiving
			return ingestResult{verifyOutcome: verifyFailedFull}
		}
		t.state = StateComplete
		return ingestResult{verifyOutcome: verifyPassed, readyToAssemble: true}
	}

	if len(t.expectedHashes) > 0 {
		var mismatched []uint32
		for i := 0; i < t.numPieces; i++ {
			data, _ := t.store.Get(i)
			if hash.Piece(data) != t.expectedHashes[i] {
				mismatched = append(mismatched, uint32(i))
			}
		}
		if len(mismatched) > 0 {
			for _, idx := range mismatched {
				t.store.Delete(int(idx))
				t.missing[idx] = struct{}{}
			}
			t.state = StateReceiving
			return ingestResult{verifyOutcome: verifyFailedPartial}
		}
		t.state = StateComplete
		return ingestResult{verifyOutcome: verifyPassed, readyToAssemble: true}
	}

	// No hashes at all: passes unverified (spec.md §3).
	t.state = StateComplete
	return ingestResult{verifyOutcome: verifyPassed, readyToAssemble: true}
}

// assemble concatenates the stored pieces in index order. Only valid to
// call after verify() reports readyToAssemble.
func (t *Transfer) assemble() []byte {
	return piece.Assemble(t.store.IterOrdered())
}

// resumeDecision is the outcome of checking whether a resume request should
// be emitted right now, and the request content if so.
type resumeDecision struct {
	emit   bool
	req    wire.ResumeRequest
	failed bool
}

// maybeBuildResumeRequest decides whether to emit a resume request and, if
// so, builds its (possibly truncated) content, bumping per-piece retry
// counters and detecting retry exhaustion (spec.md §4.3). forced is true
// immediately after FileStart and on verification failure, where emission
// doesn't wait for request_interval to elapse.
func (t *Transfer) maybeBuildResumeRequest(now time.Time, requestInterval time.Duration, maxRetries uint16, maxDatagramSize int, forced bool) resumeDecision {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.isBroadcast {
		return resumeDecision{}
	}
	if t.state != StateReceiving {
		return resumeDecision{}
	}
	if len(t.missing) == 0 {
		return resumeDecision{}
	}
	if !forced && now.Sub(t.lastRequestSent) < requestInterval {
		return resumeDecision{}
	}

	missingSorted := make([]uint32, 0, len(t.missing))
	for idx := range t.missing {
		missingSorted = append(missingSorted, idx)
	}
	sort.Slice(missingSorted, func(i, j int) bool { return missingSorted[i] < missingSorted[j] })

	for _, idx := range missingSorted {
		t.perPieceRetry[idx]++
		if t.perPieceRetry[idx] > maxRetries {
			t.state = StateFailed
			return resumeDecision{failed: true}
		}
	}

	ackSorted := toUint32Slice(t.store.Indices())

	fitted := missingSorted
	for {
		req := wire.ResumeRequest{MissingIndices: fitted, AcknowledgedIndices: ackSorted}
		enc, err := wire.EncodeMessage(req)
		if err == nil && (maxDatagramSize <= 0 || len(enc) <= maxDatagramSize) {
			break
		}
		if len(fitted) == 0 {
			break
		}
		fitted = fitted[:len(fitted)-1]
	}

	t.lastRequestSent = now
	return resumeDecision{emit: true, req: wire.ResumeRequest{MissingIndices: fitted, AcknowledgedIndices: ackSorted}}
}

// finalAck builds the completion notice sent once a transfer's store is
// fully populated and verified: ResumeRequest{missing=[], acknowledged=all}
// (spec.md §8 scenario 1). Broadcast transfers have no back-channel and
// never emit it.
func (t *Transfer) finalAck() resumeDecision {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isBroadcast {
		return resumeDecision{}
	}
	ack := toUint32Slice(t.store.Indices())
	return resumeDecision{emit: true, req: wire.ResumeRequest{MissingIndices: []uint32{}, AcknowledgedIndices: ack}}
}

// idleTimedOut reports whether this transfer, broadcast or not, has
// received no piece within timeout, and marks it FAILED if so.
func (t *Transfer) idleTimedOut(now time.Time, timeout time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateComplete || t.state == StateFailed {
		return false
	}
	if now.Sub(t.lastPieceReceived) <= timeout {
		return false
	}
	t.state = StateFailed
	return true
}

func toUint32Slice(in []int) []uint32 {
	out := make([]uint32, len(in))
	for i, v := range in {
		out[i] = uint32(v)
	}
	return out
}
