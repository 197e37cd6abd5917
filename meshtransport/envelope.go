package meshtransport

import (
	"encoding/binary"
	"errors"
)

// envelopeHeaderLen is the fixed prefix every datagram carries: a raw UDP
// packet has neither a port nor a broadcast flag of its own, both of which
// transport.Inbound needs.
const envelopeHeaderLen = 3

var errEnvelopeTooShort = errors.New("meshtransport: datagram shorter than envelope header")

// encodeEnvelope prefixes payload with a 1-byte broadcast flag and a
// 2-byte big-endian port.
func encodeEnvelope(isBroadcast bool, port uint16, payload []byte) []byte {
	out := make([]byte, envelopeHeaderLen+len(payload))
	if isBroadcast {
		out[0] = 1
	}
	binary.BigEndian.PutUint16(out[1:3], port)
	copy(out[envelopeHeaderLen:], payload)
	return out
}

// decodeEnvelope is encodeEnvelope's inverse. payload aliases datagram.
func decodeEnvelope(datagram []byte) (isBroadcast bool, port uint16, payload []byte, err error) {
	if len(datagram) < envelopeHeaderLen {
		return false, 0, nil, errEnvelopeTooShort
	}
	isBroadcast = datagram[0] != 0
	port = binary.BigEndian.Uint16(datagram[1:3])
	payload = datagram[envelopeHeaderLen:]
	return isBroadcast, port, payload, nil
}
