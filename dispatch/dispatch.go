// Package dispatch routes inbound AkitaMessage frames to the matching send
// or receive engine by message variant and peer id (spec.md §4.6).
package dispatch

import (
	"log"

	"github.com/AkitaEngineering/akita-supermodem/receive"
	"github.com/AkitaEngineering/akita-supermodem/send"
	"github.com/AkitaEngineering/akita-supermodem/transport"
	"github.com/AkitaEngineering/akita-supermodem/wire"
)

// Router implements transport.Dispatcher. It owns no transfer state itself
// — sends and receives hold their own registries — it only knows which
// engine a given message variant belongs to.
type Router struct {
	Send    *send.Engine
	Receive *receive.Engine
}

// New creates a Router wired to the given engines.
func New(sendEngine *send.Engine, receiveEngine *receive.Engine) *Router {
	return &Router{Send: sendEngine, Receive: receiveEngine}
}

// Handle decodes in.Payload and routes it to the correct engine. Unknown
// peers or malformed frames are dropped with a warning (spec.md §4.6, §7).
func (r *Router) Handle(in transport.Inbound) {
	if in.Port != transport.ContentPort {
		return
	}

	msg, err := wire.DecodeMessage(in.Payload)
	if err != nil {
		log.Printf("WARN dispatch: peer=%s malformed frame dropped: %v", in.PeerID, err)
		return
	}

	switch m := msg.(type) {
	case wire.FileStart:
		r.Receive.HandleFileStart(in.PeerID, m, in.IsBroadcast)
	case wire.PieceData:
		r.Receive.HandlePieceData(in.PeerID, m, in.IsBroadcast)
	case wire.ResumeRequest:
		r.Send.HandleResumeRequest(in.PeerID, m)
	case wire.Acknowledgement:
		// Reserved and currently unused; accepted and ignored for forward
		// compatibility (spec.md §9, open question a).
	default:
		log.Printf("WARN dispatch: peer=%s unrecognized message type dropped", in.PeerID)
	}
}
