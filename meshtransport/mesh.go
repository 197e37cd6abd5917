package meshtransport

import (
	"context"
	"errors"
	"log"
	"net"
	"net/netip"
	"sync"

	"github.com/AkitaEngineering/akita-supermodem/discovery"
	"github.com/AkitaEngineering/akita-supermodem/transport"
)

// ErrPeerUnresolved is returned by DialPeer when no discovery.Resolver was
// configured.
var ErrPeerUnresolved = errors.New("meshtransport: peer id not resolvable via discovery")

// Mesh is a reference transport.Sender, and feeds a transport.Dispatcher,
// over a single UDP socket. It carries no session handshake and no payload
// encryption or authentication of its own: peer ids given to DialPeer are
// opaque strings the operator assigns, and an address is learned either by
// an explicit DialPeer (via discovery) or simply by observing a datagram's
// source address on receipt. An inbound datagram carries no sender id, so
// it is reported, and its address learned, under the peer id formed by its
// source address string ("host:port"), not under any id given to DialPeer.
type Mesh struct {
	localPeerID string
	resolver    discovery.Resolver
	dispatcher  transport.Dispatcher

	conn *net.UDPConn

	mu    sync.RWMutex
	peers map[string]netip.AddrPort

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a mesh node identified by localPeerID. resolver turns a
// remote peer id into a dialable address; it may be nil if this node only
// ever learns peer addresses from inbound traffic.
func New(localPeerID string, resolver discovery.Resolver, dispatcher transport.Dispatcher) *Mesh {
	ctx, cancel := context.WithCancel(context.Background())
	return &Mesh{
		localPeerID: localPeerID,
		resolver:    resolver,
		dispatcher:  dispatcher,
		peers:       make(map[string]netip.AddrPort),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// LocalPeerID returns this node's own peer id.
func (m *Mesh) LocalPeerID() string { return m.localPeerID }

// LocalAddr returns the bound UDP address, or "" if Listen hasn't run yet.
func (m *Mesh) LocalAddr() string {
	if m.conn == nil {
		return ""
	}
	return m.conn.LocalAddr().String()
}

// Listen binds addr, announces it via the resolver (if configured), and
// starts the receive loop.
func (m *Mesh) Listen(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	m.conn = conn

	if m.resolver != nil {
		if ap, err := netip.ParseAddrPort(conn.LocalAddr().String()); err == nil {
			_ = m.resolver.Announce(discovery.AddrInfo{PeerID: m.localPeerID, Addr: ap})
		}
	}

	go m.recvLoop()
	return nil
}

// Close stops the receive loop and releases the socket.
func (m *Mesh) Close() error {
	m.cancel()
	if m.conn == nil {
		return nil
	}
	return m.conn.Close()
}

func (m *Mesh) recvLoop() {
	buf := make([]byte, 65535)
	for {
		n, src, err := m.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if m.ctx.Err() != nil {
				return
			}
			log.Printf("WARN meshtransport: read failed: %v", err)
			continue
		}

		isBroadcast, port, payload, err := decodeEnvelope(buf[:n])
		if err != nil {
			log.Printf("WARN meshtransport: peer=%s dropped malformed datagram: %v", src, err)
			continue
		}
		cp := make([]byte, len(payload))
		copy(cp, payload)

		peerID := src.String()
		m.learn(peerID, src)

		m.dispatcher.Handle(transport.Inbound{
			PeerID:      peerID,
			Payload:     cp,
			Port:        port,
			IsBroadcast: isBroadcast,
		})
	}
}

func (m *Mesh) learn(peerID string, addr netip.AddrPort) {
	m.mu.Lock()
	m.peers[peerID] = addr
	m.mu.Unlock()
}

// DialPeer resolves peerID to an address via the configured
// discovery.Resolver and caches it for future Send calls. UDP is
// connectionless: there is no handshake to perform here, only an address
// to learn.
func (m *Mesh) DialPeer(peerID string) error {
	if m.resolver == nil {
		return ErrPeerUnresolved
	}
	info, err := m.resolver.Lookup(peerID)
	if err != nil {
		return err
	}
	m.learn(peerID, info.Addr)
	return nil
}

// Send implements transport.Sender. peerID == transport.BroadcastPeerID
// fans the datagram out to every peer address currently known (resolved
// via DialPeer or learned from an inbound datagram) — this reference
// transport has no link-layer broadcast primitive to rely on, but fan-out
// is enough to exercise the receiver's IsBroadcast handling end-to-end.
func (m *Mesh) Send(ctx context.Context, peerID string, payload []byte, port uint16) error {
	if peerID == transport.BroadcastPeerID {
		return m.sendBroadcast(payload, port)
	}

	m.mu.RLock()
	addr, ok := m.peers[peerID]
	m.mu.RUnlock()
	if !ok {
		return errPeerNotConnected(peerID)
	}
	dg := encodeEnvelope(false, port, payload)
	_, err := m.conn.WriteToUDPAddrPort(dg, addr)
	return err
}

func (m *Mesh) sendBroadcast(payload []byte, port uint16) error {
	dg := encodeEnvelope(true, port, payload)

	m.mu.RLock()
	targets := make([]netip.AddrPort, 0, len(m.peers))
	for _, addr := range m.peers {
		targets = append(targets, addr)
	}
	m.mu.RUnlock()

	var firstErr error
	for _, addr := range targets {
		if _, err := m.conn.WriteToUDPAddrPort(dg, addr); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type errPeerNotConnected string

func (e errPeerNotConnected) Error() string {
	return "meshtransport: no known address for peer " + string(e)
}
