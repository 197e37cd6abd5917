package discovery

import (
	"net/netip"
	"testing"
)

func TestMemoryAnnounceLookup(t *testing.T) {
	m := NewMemory()
	addr := netip.MustParseAddrPort("127.0.0.1:6427")
	if err := m.Announce(AddrInfo{PeerID: "alice", Addr: addr}); err != nil {
		t.Fatalf("announce: %v", err)
	}

	got, err := m.Lookup("alice")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.Addr != addr {
		t.Fatalf("addr mismatch: got %v want %v", got.Addr, addr)
	}
}

func TestMemoryLookupNotFound(t *testing.T) {
	m := NewMemory()
	if _, err := m.Lookup("nobody"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
