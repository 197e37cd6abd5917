package wire

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxFramePayload bounds the payload WriteFrame writes and ReadFrame
	// accepts. It is a sanity limit far above the mesh transport's MTU;
	// EncodeMessage does not apply it.
	MaxFramePayload = 1 << 20 // 1 MiB; individual PieceData payloads are
	// expected to be far smaller (piece_size, default 200 bytes).
)

var (
	ErrFrameTooLarge = errors.New("wire: frame payload too large")
	ErrInvalidType   = errors.New("wire: invalid message type")
)

// Frame is the wire container: 1 byte type tag, 4-byte big-endian payload
// length, then the JSON-encoded payload.
type Frame struct {
	Type    MessageType
	Payload []byte
}

// WriteFrame serializes a Frame onto w.
func WriteFrame(w io.Writer, f Frame) error {
	if f.Type == 0 {
		return ErrInvalidType
	}
	if len(f.Payload) > MaxFramePayload {
		return ErrFrameTooLarge
	}

	bw := bufio.NewWriter(w)
	if err := bw.WriteByte(byte(f.Type)); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(f.Payload)))
	if _, err := bw.Write(lenBuf[:]); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		if _, err := bw.Write(f.Payload); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadFrame deserializes a single Frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var typeBuf [1]byte
	if _, err := io.ReadFull(r, typeBuf[:]); err != nil {
		return Frame{}, err
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	payloadLen := binary.BigEndian.Uint32(lenBuf[:])
	if payloadLen > MaxFramePayload {
		return Frame{}, fmt.Errorf("%w: %d", ErrFrameTooLarge, payloadLen)
	}
	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	mt := MessageType(typeBuf[0])
	if mt == 0 {
		return Frame{}, ErrInvalidType
	}
	return Frame{Type: mt, Payload: payload}, nil
}

// EncodeFileStart encodes a FileStart into a ready-to-send frame payload.
func EncodeFileStart(m FileStart) ([]byte, error) { return json.Marshal(m) }

// DecodeFileStart decodes a FileStart frame payload.
func DecodeFileStart(b []byte) (FileStart, error) {
	var m FileStart
	err := json.Unmarshal(b, &m)
	return m, err
}

// EncodePieceData encodes a PieceData into a ready-to-send frame payload.
func EncodePieceData(m PieceData) ([]byte, error) { return json.Marshal(m) }

// DecodePieceData decodes a PieceData frame payload.
func DecodePieceData(b []byte) (PieceData, error) {
	var m PieceData
	err := json.Unmarshal(b, &m)
	return m, err
}

// EncodeResumeRequest encodes a ResumeRequest into a ready-to-send frame
// payload.
func EncodeResumeRequest(m ResumeRequest) ([]byte, error) { return json.Marshal(m) }

// DecodeResumeRequest decodes a ResumeRequest frame payload.
func DecodeResumeRequest(b []byte) (ResumeRequest, error) {
	var m ResumeRequest
	err := json.Unmarshal(b, &m)
	return m, err
}

// EncodeAck encodes an Acknowledgement into a ready-to-send frame payload.
func EncodeAck(m Acknowledgement) ([]byte, error) { return json.Marshal(m) }

// DecodeAck decodes an Acknowledgement frame payload. Implementations
// accept and ignore this variant; it is provided for forward compatibility
// with the schema only.
func DecodeAck(b []byte) (Acknowledgement, error) {
	var m Acknowledgement
	err := json.Unmarshal(b, &m)
	return m, err
}

// EncodeMessage is a convenience wrapper that type-switches on the concrete
// message and produces the framed bytes ready for transport.Send.
func EncodeMessage(msg any) ([]byte, error) {
	var f Frame
	var err error
	switch m := msg.(type) {
	case FileStart:
		f.Type = MessageTypeFileStart
		f.Payload, err = EncodeFileStart(m)
	case PieceData:
		f.Type = MessageTypePieceData
		f.Payload, err = EncodePieceData(m)
	case ResumeRequest:
		f.Type = MessageTypeResume
		f.Payload, err = EncodeResumeRequest(m)
	case Acknowledgement:
		f.Type = MessageTypeAck
		f.Payload, err = EncodeAck(m)
	default:
		return nil, fmt.Errorf("wire: unsupported message type %T", msg)
	}
	if err != nil {
		return nil, err
	}

	var buf []byte
	buf = append(buf, byte(f.Type))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(f.Payload)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, f.Payload...)
	return buf, nil
}

// DecodeMessage parses a single complete datagram produced by EncodeMessage
// and returns the decoded variant as one of FileStart, PieceData,
// ResumeRequest, or Acknowledgement.
func DecodeMessage(b []byte) (any, error) {
	if len(b) < 5 {
		return nil, fmt.Errorf("wire: frame too short (%d bytes)", len(b))
	}
	mt := MessageType(b[0])
	payloadLen := binary.BigEndian.Uint32(b[1:5])
	if int(payloadLen) != len(b)-5 {
		return nil, fmt.Errorf("wire: length mismatch: header says %d, have %d", payloadLen, len(b)-5)
	}
	payload := b[5:]

	switch mt {
	case MessageTypeFileStart:
		return DecodeFileStart(payload)
	case MessageTypePieceData:
		return DecodePieceData(payload)
	case MessageTypeResume:
		return DecodeResumeRequest(payload)
	case MessageTypeAck:
		return DecodeAck(payload)
	default:
		return nil, ErrInvalidType
	}
}
