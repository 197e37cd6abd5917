// Package transport defines the contracts the core depends on but never
// implements (spec.md §6). The mesh transport, inbound dispatch, and
// broadcast sentinel are external collaborators; this package is the seam.
package transport

import "context"

// ContentPort is the well-known port the core's messages are filtered by
// on the inbound dispatcher (spec.md §6, AKITA_CONTENT_TYPE).
const ContentPort uint16 = 6427

// BroadcastPeerID is the sentinel peer id recognized by the receiver to
// flag a transfer as broadcast (no back-channel, no resume requests).
const BroadcastPeerID = "*"

// Sender is the best-effort, no-delivery-guarantee datagram send
// primitive the mesh transport exposes to the core.
type Sender interface {
	Send(ctx context.Context, peerID string, payload []byte, port uint16) error
}

// Inbound is a single decoded inbound frame as delivered by the transport's
// dispatcher.
type Inbound struct {
	PeerID      string
	Payload     []byte
	Port        uint16
	IsBroadcast bool
}

// Dispatcher is implemented by whatever drives inbound delivery (a socket
// read loop, a test harness, ...). Handle is called once per inbound
// datagram, on every port; implementations are responsible for filtering to
// ContentPort themselves (see dispatch.Router).
type Dispatcher interface {
	Handle(in Inbound)
}
