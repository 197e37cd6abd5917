// Package discovery is a minimal peer-address directory: it turns an
// opaque peer id into a dialable UDP address. This is a generalized,
// cryptography-free version of the same need the teacher's own discovery
// layer served — no peer identity needs to be bound to a handshake here,
// since the mesh transport this package serves carries neither.
package discovery

import (
	"errors"
	"net/netip"
	"sync"
)

// ErrNotFound is returned by Lookup when no address has been announced for
// the requested peer id.
var ErrNotFound = errors.New("discovery: peer not found")

// AddrInfo is the address a peer id currently resolves to.
type AddrInfo struct {
	PeerID string
	Addr   netip.AddrPort
}

// Resolver maps a peer id to an address. Implementations can be backed by
// a bootstrap list, mDNS, a rendezvous server, or (as here) a local cache.
type Resolver interface {
	Announce(info AddrInfo) error
	Lookup(peerID string) (AddrInfo, error)
}

// Memory is an in-memory, mutex-guarded Resolver. It is the default used by
// cmd/akita-supermodemd and by the meshtransport tests.
type Memory struct {
	mu    sync.RWMutex
	peers map[string]AddrInfo
}

// NewMemory creates an empty in-memory resolver.
func NewMemory() *Memory {
	return &Memory{peers: make(map[string]AddrInfo)}
}

func (m *Memory) Announce(info AddrInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers[info.PeerID] = info
	return nil
}

func (m *Memory) Lookup(peerID string) (AddrInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.peers[peerID]
	if !ok {
		return AddrInfo{}, ErrNotFound
	}
	return info, nil
}
