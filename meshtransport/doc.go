// Package meshtransport is a thin, unauthenticated UDP datagram transport
// satisfying transport.Sender and feeding transport.Dispatcher. It is
// reference plumbing only (SPEC_FULL.md §4.8), not part of the core: the
// core only depends on the transport.Sender / transport.Dispatcher
// interfaces. A real mesh radio link already drops datagrams under
// congestion or range loss, so a thin UDP socket is enough to exercise the
// core's loss-tolerant behavior end-to-end without inventing a session or
// security layer the core's semantics never touch.
package meshtransport
