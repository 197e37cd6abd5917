package receive

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/AkitaEngineering/akita-supermodem/piece"
	"github.com/AkitaEngineering/akita-supermodem/sanitize"
	"github.com/AkitaEngineering/akita-supermodem/transport"
	"github.com/AkitaEngineering/akita-supermodem/wire"
)

// SaveFunc persists a fully-assembled, verified file. It is called exactly
// once per successful transfer (spec.md §6).
type SaveFunc func(filename string, data []byte) error

// Config holds the receive-side configuration knobs from spec.md §6.
type Config struct {
	RequestInterval    time.Duration
	MaxRetries         uint16
	ReceiveIdleTimeout time.Duration
	MaxDatagramSize    int
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		RequestInterval:    10 * time.Second,
		MaxRetries:         10,
		ReceiveIdleTimeout: 5 * time.Minute,
		MaxDatagramSize:    1200,
	}
}

// Engine owns the registry of active receive transfers, one per
// originating peer id (spec.md §4.6).
type Engine struct {
	sender transport.Sender
	sink   SaveFunc
	cfg    Config

	mu        sync.Mutex
	transfers map[string]*Transfer
}

// NewEngine creates a receive engine. sender is used only to emit resume
// requests; sink is invoked once per successfully verified transfer.
func NewEngine(sender transport.Sender, sink SaveFunc, cfg Config) *Engine {
	return &Engine{
		sender:    sender,
		sink:      sink,
		cfg:       cfg,
		transfers: make(map[string]*Transfer),
	}
}

// HandleFileStart validates and installs (or idempotently ignores, or
// resets) receive state for peerID (spec.md §4.3).
func (e *Engine) HandleFileStart(peerID string, fs wire.FileStart, isBroadcast bool) {
	if fs.TotalSize > 0 && fs.PieceSize == 0 {
		log.Printf("WARN receive: peer=%s FileStart with zero piece_size for non-empty file, dropped", peerID)
		return
	}
	numPieces := piece.NumPieces(int64(fs.TotalSize), int(fs.PieceSize))
	if len(fs.PieceHashes) > 0 && len(fs.PieceHashes) != numPieces {
		log.Printf("WARN receive: peer=%s FileStart piece_hashes length %d != num_pieces %d, dropped", peerID, len(fs.PieceHashes), numPieces)
		return
	}
	sanitized, ok := sanitize.Filename(fs.Filename)
	if !ok {
		log.Printf("WARN receive: peer=%s FileStart filename sanitizes to empty, dropped", peerID)
		return
	}

	e.mu.Lock()
	if existing, ok := e.transfers[peerID]; ok {
		if existing.sameParameters(fs) {
			e.mu.Unlock()
			return // idempotent no-op (spec.md §8)
		}
	}
	t := newTransfer(peerID, fs, sanitized, numPieces, isBroadcast, time.Now())
	e.transfers[peerID] = t
	e.mu.Unlock()

	if numPieces == 0 {
		e.completeEmpty(peerID, t)
		return
	}

	e.emitIfNeeded(peerID, t.maybeBuildResumeRequest(time.Now(), e.cfg.RequestInterval, e.cfg.MaxRetries, e.cfg.MaxDatagramSize, true))
}

// completeEmpty handles the degenerate zero-piece (empty file) transfer:
// there is nothing to receive, so it completes immediately.
func (e *Engine) completeEmpty(peerID string, t *Transfer) {
	if err := e.sink(t.filename, nil); err != nil {
		log.Printf("ERROR receive: peer=%s save failed for empty file: %v", peerID, err)
	}
	e.mu.Lock()
	delete(e.transfers, peerID)
	e.mu.Unlock()
}

// HandlePieceData ingests one piece and drives verification/assembly when
// the store becomes fully populated (spec.md §4.3).
func (e *Engine) HandlePieceData(peerID string, pd wire.PieceData, isBroadcast bool) {
	e.mu.Lock()
	t, ok := e.transfers[peerID]
	e.mu.Unlock()
	if !ok {
		log.Printf("WARN receive: piece data from peer %s with no active transfer, dropped", peerID)
		return
	}

	accepted, fullyReceived := t.handlePieceData(pd.Index, pd.Data)
	if !accepted || !fullyReceived {
		return
	}

	result := t.verify()
	switch result.verifyOutcome {
	case verifyPassed:
		// Emit one final ResumeRequest{missing=[], acknowledged=all} so the
		// sender's handle_resume_request completion check (spec.md §4.2
		// step 2) observes the transfer as done and releases its own
		// resources, before this side destroys its state.
		e.emitIfNeeded(peerID, t.finalAck())
		e.finishTransfer(peerID, t)
	case verifyFailedFull, verifyFailedPartial:
		log.Printf("WARN receive: peer=%s verification failed, re-requesting pieces", peerID)
		e.emitIfNeeded(peerID, t.maybeBuildResumeRequest(time.Now(), e.cfg.RequestInterval, e.cfg.MaxRetries, e.cfg.MaxDatagramSize, true))
	}
}

func (e *Engine) finishTransfer(peerID string, t *Transfer) {
	data := t.assemble()
	if err := e.sink(t.filename, data); err != nil {
		log.Printf("ERROR receive: peer=%s save failed: %v", peerID, err)
	}
	e.mu.Lock()
	delete(e.transfers, peerID)
	e.mu.Unlock()
}

func (e *Engine) emitIfNeeded(peerID string, decision resumeDecision) {
	if decision.failed {
		log.Printf("ERROR receive: peer=%s retry limit exceeded, transfer failed", peerID)
		e.mu.Lock()
		delete(e.transfers, peerID)
		e.mu.Unlock()
		return
	}
	if !decision.emit {
		return
	}
	payload, err := wire.EncodeMessage(decision.req)
	if err != nil {
		log.Printf("ERROR receive: peer=%s failed to encode resume request: %v", peerID, err)
		return
	}
	if err := e.sender.Send(context.Background(), peerID, payload, transport.ContentPort); err != nil {
		log.Printf("WARN receive: peer=%s resume request send failed: %v", peerID, err)
	}
}

// Tick drives periodic resume-request emission and idle-timeout detection
// across all active transfers (spec.md §4.3, §5). Idempotent under
// repeated invocation.
func (e *Engine) Tick(now time.Time) {
	e.mu.Lock()
	snapshot := make([]*Transfer, 0, len(e.transfers))
	for _, t := range e.transfers {
		snapshot = append(snapshot, t)
	}
	e.mu.Unlock()

	for _, t := range snapshot {
		if t.idleTimedOut(now, e.cfg.ReceiveIdleTimeout) {
			log.Printf("WARN receive: peer=%s idle timeout, transfer failed", t.peerID)
			e.mu.Lock()
			if cur, ok := e.transfers[t.peerID]; ok && cur == t {
				delete(e.transfers, t.peerID)
			}
			e.mu.Unlock()
			continue
		}
		decision := t.maybeBuildResumeRequest(now, e.cfg.RequestInterval, e.cfg.MaxRetries, e.cfg.MaxDatagramSize, false)
		e.emitIfNeeded(t.peerID, decision)
		if t.isDone() {
			e.mu.Lock()
			if cur, ok := e.transfers[t.peerID]; ok && cur == t {
				delete(e.transfers, t.peerID)
			}
			e.mu.Unlock()
		}
	}
}

// Status returns the current status for peer's transfer, if any.
func (e *Engine) Status(peerID string) (Status, bool) {
	e.mu.Lock()
	t, ok := e.transfers[peerID]
	e.mu.Unlock()
	if !ok {
		return Status{}, false
	}
	return t.Status(), true
}

// Cancel marks peer's transfer FAILED and releases it.
func (e *Engine) Cancel(peerID string) {
	e.mu.Lock()
	t, ok := e.transfers[peerID]
	delete(e.transfers, peerID)
	e.mu.Unlock()
	if ok {
		t.mu.Lock()
		t.state = StateFailed
		t.mu.Unlock()
	}
}
