// Package send implements the sender-side transfer state machine
// (spec.md §4.2): file layout + hashing, paced initial transmission,
// resume-driven retransmission, and failure detection.
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

// Status is a snapshot of a send transfer's state, safe to read after the
// transfer has been destroyed.
type Status struct {
	PeerID      string
	Filename    string
	NumPieces   int
	Acknowledged int
	Complete    bool
	Failed      bool
}

// Transfer is one (peer, file) send-side session. All mutable fields are
// guarded by mu; handlers compute any outbound messages while holding the
// lock and perform transport I/O only after releasing it (spec.md §5).
type Transfer struct {
	peerID string
	path   string
	layout piece.Layout
	cfg    Config

	sender transport.Sender
	pace   *pacing.Controller

	mu             sync.Mutex
	acknowledged   map[uint32]struct{}
	queue          []uint32
	queued         map[uint32]struct{}
	sendErrors     map[uint32]int
	complete       bool
	failed         bool
	lastActivity   time.Time

	wake   chan struct{}
	stopCh chan struct{}
	stopOnce sync.Once
	done   chan struct{}
}

func newTransfer(peerID, path string, layout piece.Layout, cfg Config, sender transport.Sender) *Transfer {
	t := &Transfer{
		peerID:       peerID,
		path:         path,
		layout:       layout,
		cfg:          cfg,
		sender:       sender,
		pace:         pacing.New(cfg.Pacing),
		acknowledged: make(map[uint32]struct{}),
		queued:       make(map[uint32]struct{}),
		sendErrors:   make(map[uint32]int),
		lastActivity: time.Now(),
		wake:         make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
	for i := 0; i < layout.NumPieces; i++ {
		t.queue = append(t.queue, uint32(i))
		t.queued[uint32(i)] = struct{}{}
	}
	return t
}

func (t *Transfer) signalWake() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Status returns a point-in-time snapshot.
func (t *Transfer) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{
		PeerID:       t.peerID,
		Filename:     t.path,
		NumPieces:    t.layout.NumPieces,
		Acknowledged: len(t.acknowledged),
		Complete:     t.complete,
		Failed:       t.failed,
	}
}

func (t *Transfer) isDone() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.complete || t.failed
}

// cancel marks the transfer FAILED and stops its worker; resources are
// released on the worker's next iteration (cooperative cancellation,
// spec.md §5).
func (t *Transfer) cancel() {
	t.mu.Lock()
	if !t.complete && !t.failed {
		t.failed = true
	}
	t.mu.Unlock()
	t.stopOnce.Do(func() { close(t.stopCh) })
}

// handleResumeRequest applies §4.2's resume handling steps. Callers learn
// whether the transfer reached a terminal state through isDone.
func (t *Transfer) handleResumeRequest(req wire.ResumeRequest) {
	t.mu.Lock()
	if t.complete || t.failed {
		t.mu.Unlock()
		return
	}

	for _, a := range req.AcknowledgedIndices {
		t.acknowledged[a] = struct{}{}
	}
	t.lastActivity = time.Now()

	if len(req.MissingIndices) == 0 {
		if len(t.acknowledged) == t.layout.NumPieces {
			t.complete = true
			t.mu.Unlock()
			t.pace.OnResumeRequest(false)
			t.stopOnce.Do(func() { close(t.stopCh) })
			return
		}
	} else {
		for _, idx := range req.MissingIndices {
			if idx >= uint32(t.layout.NumPieces) {
				// Open question (b): silently ignore out-of-range indices.
				continue
			}
			if _, already := t.queued[idx]; !already {
				t.queue = append(t.queue, idx)
				t.queued[idx] = struct{}{}
			}
		}
	}
	t.mu.Unlock()

	t.pace.OnResumeRequest(len(req.MissingIndices) > 0)
	t.signalWake()
}

// nextToSend pops the next queued index that isn't already acknowledged,
// skipping (and dropping) any that were acknowledged while queued.
func (t *Transfer) nextToSend() (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for len(t.queue) > 0 {
		idx := t.queue[0]
		t.queue = t.queue[1:]
		delete(t.queued, idx)
		if _, acked := t.acknowledged[idx]; acked {
			continue
		}
		return idx, true
	}
	return 0, false
}

func (t *Transfer) recordSendSuccess(idx uint32) {
	t.mu.Lock()
	delete(t.sendErrors, idx)
	t.lastActivity = time.Now()
	t.mu.Unlock()
}

// recordSendFailure increments the per-index consecutive send-error
// counter and fails the transfer once max_send_errors is exceeded.
// Otherwise the piece stays in the pending set: it is re-queued here so it
// is retried on the next iteration rather than waiting for the receiver to
// notice it missing via its own ResumeRequest (spec.md §7,
// TransientTransportError).
func (t *Transfer) recordSendFailure(idx uint32) {
	t.mu.Lock()
	t.sendErrors[idx]++
	exceeded := t.sendErrors[idx] > t.cfg.MaxSendErrors
	if exceeded {
		t.failed = true
	} else if _, acked := t.acknowledged[idx]; !acked {
		if _, already := t.queued[idx]; !already {
			t.queue = append(t.queue, idx)
			t.queued[idx] = struct{}{}
		}
	}
	t.mu.Unlock()
	if exceeded {
		log.Printf("ERROR send: peer=%s piece=%d exceeded max_send_errors=%d, transfer failed", t.peerID, idx, t.cfg.MaxSendErrors)
		t.stopOnce.Do(func() { close(t.stopCh) })
	}
}

// tick drives idle-timeout detection (spec.md §4.2, §5).
func (t *Transfer) tick(now time.Time) {
	t.mu.Lock()
	if t.complete || t.failed {
		t.mu.Unlock()
		return
	}
	idle := now.Sub(t.lastActivity) > t.cfg.SendIdleTimeout
	incomplete := len(t.acknowledged) != t.layout.NumPieces
	if idle && incomplete {
		t.failed = true
	}
	t.mu.Unlock()
	if idle && incomplete {
		log.Printf("WARN send: peer=%s timed out waiting for resume requests, transfer failed", t.peerID)
		t.stopOnce.Do(func() { close(t.stopCh) })
	}
}

// run is the dedicated worker goroutine for this transfer (spec.md §5): it
// streams queued pieces fresh from disk, paced by the controller, until the
// transfer completes, fails, or is cancelled.
func (t *Transfer) run(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		default:
		}
		if t.isDone() {
			return
		}

		idx, ok := t.nextToSend()
		if !ok {
			select {
			case <-t.wake:
			case <-time.After(200 * time.Millisecond):
			case <-t.stopCh:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		data, err := piece.ReadPiece(t.path, int(idx), t.layout)
		if err != nil {
			log.Printf("ERROR send: peer=%s piece=%d read failed: %v", t.peerID, idx, err)
			t.mu.Lock()
			t.failed = true
			t.mu.Unlock()
			return
		}

		payload, err := wire.EncodeMessage(wire.PieceData{Index: idx, Data: data})
		if err != nil {
			log.Printf("ERROR send: peer=%s piece=%d encode failed: %v", t.peerID, idx, err)
			continue
		}

		if err := t.sender.Send(ctx, t.peerID, payload, transport.ContentPort); err != nil {
			log.Printf("WARN send: peer=%s piece=%d transport error: %v", t.peerID, idx, err)
			t.recordSendFailure(idx)
		} else {
			t.recordSendSuccess(idx)
		}

		delay := time.Duration(t.pace.CurrentDelay() * float64(time.Second))
		select {
		case <-time.After(delay):
		case <-t.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}
