package send

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/AkitaEngineering/akita-supermodem/pacing"
	"github.com/AkitaEngineering/akita-supermodem/piece"
	"github.com/AkitaEngineering/akita-supermodem/transport"
	"github.com/AkitaEngineering/akita-supermodem/wire"
)

// Config holds the send-side configuration knobs from spec.md §6.
type Config struct {
	PieceSize       int
	UseMerkle       bool
	Pacing          pacing.Config
	MaxSendErrors   int
	SendIdleTimeout time.Duration
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		PieceSize:       200,
		UseMerkle:       true,
		Pacing:          pacing.DefaultConfig(),
		MaxSendErrors:   5,
		SendIdleTimeout: 5 * time.Minute,
	}
}

// Engine owns the registry of active send transfers, one per destination
// peer id. A single coarse-grained lock guards the registry; handlers
// compute outbound messages under the lock and perform transport I/O only
// after releasing it (spec.md §5).
type Engine struct {
	sender transport.Sender
	cfg    Config

	mu        sync.Mutex
	transfers map[string]*Transfer
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewEngine creates a send engine bound to sender, which is the mesh
// transport's best-effort datagram primitive.
func NewEngine(sender transport.Sender, cfg Config) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		sender:    sender,
		cfg:       cfg,
		transfers: make(map[string]*Transfer),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// StartTransfer opens path, computes its piece layout and hashes, emits a
// FileStart to peer, and begins paced initial transmission on a dedicated
// worker goroutine. It returns false (with no side effects beyond logging)
// when the file can't be opened or has a zero piece size with non-empty
// content (spec.md §4.2).
func (e *Engine) StartTransfer(ctx context.Context, peerID, path string) bool {
	pieceSize := e.cfg.PieceSize

	layout, err := piece.LayoutFromFile(path, pieceSize, e.cfg.UseMerkle)
	if err != nil {
		log.Printf("ERROR send: peer=%s path=%s cannot start transfer: %v", peerID, path, err)
		return false
	}

	fs := wire.FileStart{
		Filename:    path,
		TotalSize:   uint32(layout.TotalSize),
		PieceSize:   uint32(layout.PieceSize),
		MerkleRoot:  layout.MerkleRoot,
		PieceHashes: layout.PieceHashes,
	}
	payload, err := wire.EncodeMessage(fs)
	if err != nil {
		log.Printf("ERROR send: peer=%s encode FileStart failed: %v", peerID, err)
		return false
	}

	t := newTransfer(peerID, path, layout, e.cfg, e.sender)

	e.mu.Lock()
	if old, ok := e.transfers[peerID]; ok {
		old.cancel()
	}
	e.transfers[peerID] = t
	e.mu.Unlock()

	if err := e.sender.Send(ctx, peerID, payload, transport.ContentPort); err != nil {
		log.Printf("WARN send: peer=%s FileStart send failed: %v", peerID, err)
	}

	go t.run(e.ctx)
	return true
}

// HandleResumeRequest routes an inbound ResumeRequest to the matching
// transfer. Unknown peers are dropped with a warning (spec.md §4.6).
func (e *Engine) HandleResumeRequest(peerID string, req wire.ResumeRequest) {
	e.mu.Lock()
	t, ok := e.transfers[peerID]
	e.mu.Unlock()
	if !ok {
		log.Printf("WARN send: resume request from unknown peer %s dropped", peerID)
		return
	}
	t.handleResumeRequest(req)
	if t.isDone() {
		e.mu.Lock()
		delete(e.transfers, peerID)
		e.mu.Unlock()
	}
}

// Tick drives idle-timeout detection across all active transfers. It is
// idempotent under repeated invocation (spec.md §5).
func (e *Engine) Tick(now time.Time) {
	e.mu.Lock()
	snapshot := make([]*Transfer, 0, len(e.transfers))
	for _, t := range e.transfers {
		snapshot = append(snapshot, t)
	}
	e.mu.Unlock()

	for _, t := range snapshot {
		t.tick(now)
		if t.isDone() {
			e.mu.Lock()
			if cur, ok := e.transfers[t.peerID]; ok && cur == t {
				delete(e.transfers, t.peerID)
			}
			e.mu.Unlock()
		}
	}
}

// Cancel marks peer's transfer FAILED and releases it cooperatively.
func (e *Engine) Cancel(peerID string) {
	e.mu.Lock()
	t, ok := e.transfers[peerID]
	e.mu.Unlock()
	if !ok {
		return
	}
	t.cancel()
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

// Close cancels every active transfer and stops the engine.
func (e *Engine) Close() {
	e.mu.Lock()
	transfers := make([]*Transfer, 0, len(e.transfers))
	for _, t := range e.transfers {
		transfers = append(transfers, t)
	}
	e.mu.Unlock()
	for _, t := range transfers {
		t.cancel()
	}
	e.cancel()
}
