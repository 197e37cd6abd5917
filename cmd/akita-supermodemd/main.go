// Command akita-supermodemd runs a single mesh node: it listens for
// inbound transfers, and, if -send-file and -send-to are given, pushes one
// file out to a peer resolved through the in-memory discovery registry.
//
// This binary is a reference wiring of the engines in this module over a
// thin UDP datagram transport; a real deployment would swap the discovery
// resolver for something durable and the transport for the actual mesh
// radio link.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/AkitaEngineering/akita-supermodem/discovery"
	"github.com/AkitaEngineering/akita-supermodem/dispatch"
	"github.com/AkitaEngineering/akita-supermodem/meshtransport"
	"github.com/AkitaEngineering/akita-supermodem/receive"
	"github.com/AkitaEngineering/akita-supermodem/sanitize"
	"github.com/AkitaEngineering/akita-supermodem/send"
	"github.com/AkitaEngineering/akita-supermodem/transport"
)

func main() {
	var (
		listenAddr = flag.String("listen", "[::1]:0", "address to listen on for mesh datagrams")
		peerID     = flag.String("peer-id", "", "this node's peer id, an opaque string announced to discovery; a random one is generated if empty")
		recvDir    = flag.String("recv-dir", ".", "directory to write completed incoming transfers into")
		sendTo     = flag.String("send-to", "", "peer id to push -send-file to")
		sendFile   = flag.String("send-file", "", "local file path to push to -send-to on startup")
		peerAddr   = flag.String("peer-addr", "", "address of -send-to, registered directly instead of via discovery")
		tickEvery  = flag.Duration("tick", time.Second, "interval between engine housekeeping ticks")
	)
	flag.Parse()

	localID := *peerID
	if localID == "" {
		localID = randomPeerID()
	}
	log.Printf("local peer id: %s", localID)

	registry := discovery.NewMemory()

	box := &dispatcherBox{}
	mesh := meshtransport.New(localID, registry, box)

	sink := func(filename string, data []byte) error {
		clean, ok := sanitize.Filename(filename)
		if !ok {
			return fmt.Errorf("refusing to save unsafe filename %q", filename)
		}
		return os.WriteFile(filepath.Join(*recvDir, clean), data, 0o644)
	}
	receiveEngine := receive.NewEngine(mesh, sink, receive.DefaultConfig())
	sendEngine := send.NewEngine(mesh, send.DefaultConfig())
	box.set(dispatch.New(sendEngine, receiveEngine))

	if err := mesh.Listen(*listenAddr); err != nil {
		log.Fatalf("listen: %v", err)
	}
	log.Printf("listening on %s", mesh.LocalAddr())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go tickLoop(ctx, *tickEvery, sendEngine, receiveEngine)

	if *sendTo != "" && *sendFile != "" {
		go startOutboundTransfer(ctx, mesh, registry, sendEngine, *sendTo, *peerAddr, *sendFile)
	}

	<-ctx.Done()
	log.Printf("shutting down")
	sendEngine.Close()
	_ = mesh.Close()
}

// dispatcherBox lets main wire the mesh transport's dispatcher after the
// send/receive engines (which the real dispatch.Router needs) have been
// constructed with the mesh itself as their sender, breaking the
// construction cycle between Mesh and Router.
type dispatcherBox struct {
	mu sync.Mutex
	d  transport.Dispatcher
}

func (b *dispatcherBox) set(d transport.Dispatcher) {
	b.mu.Lock()
	b.d = d
	b.mu.Unlock()
}

func (b *dispatcherBox) Handle(in transport.Inbound) {
	b.mu.Lock()
	d := b.d
	b.mu.Unlock()
	if d == nil {
		log.Printf("WARN dropping inbound datagram from %s: dispatcher not ready", in.PeerID)
		return
	}
	d.Handle(in)
}

func tickLoop(ctx context.Context, every time.Duration, sendEngine *send.Engine, receiveEngine *receive.Engine) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sendEngine.Tick(now)
			receiveEngine.Tick(now)
		}
	}
}

func startOutboundTransfer(ctx context.Context, mesh *meshtransport.Mesh, registry *discovery.Memory, sendEngine *send.Engine, peerID, peerAddr, path string) {
	if peerAddr != "" {
		if ap, err := netip.ParseAddrPort(peerAddr); err == nil {
			_ = registry.Announce(discovery.AddrInfo{PeerID: peerID, Addr: ap})
		} else {
			log.Printf("ERROR -peer-addr %q is not a valid host:port: %v", peerAddr, err)
			return
		}
	}
	if err := mesh.DialPeer(peerID); err != nil {
		log.Printf("ERROR resolving %s: %v", peerID, err)
		return
	}
	if ok := sendEngine.StartTransfer(ctx, peerID, path); !ok {
		log.Printf("ERROR could not start transfer of %s", path)
	}
}

// randomPeerID generates a default node label when none is given. It is
// just a unique label, not a cryptographic identity.
func randomPeerID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "node-" + fmt.Sprint(time.Now().UnixNano())
	}
	return "node-" + hex.EncodeToString(buf)
}
