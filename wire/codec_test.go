package wire

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := Frame{Type: MessageTypePieceData, Payload: []byte(`{"piece_index":3,"data":"aGk="}`)}
	if err := WriteFrame(&buf, in); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	out, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if out.Type != in.Type || string(out.Payload) != string(in.Payload) {
		t.Fatalf("round-trip mismatch: %+v != %+v", out, in)
	}
}

func TestEncodeDecodeMessageRoundTrip(t *testing.T) {
	cases := []any{
		FileStart{Filename: "a.bin", TotalSize: 1000, PieceSize: 200, PieceHashes: []string{"h0", "h1"}},
		PieceData{Index: 2, Data: []byte("hello")},
		ResumeRequest{MissingIndices: []uint32{2}, AcknowledgedIndices: []uint32{0, 1, 3, 4}},
		Acknowledgement{Index: 0},
	}
	for _, c := range cases {
		enc, err := EncodeMessage(c)
		if err != nil {
			t.Fatalf("EncodeMessage(%#v): %v", c, err)
		}
		dec, err := DecodeMessage(enc)
		if err != nil {
			t.Fatalf("DecodeMessage: %v", err)
		}
		switch want := c.(type) {
		case PieceData:
			got := dec.(PieceData)
			if got.Index != want.Index || string(got.Data) != string(want.Data) {
				t.Fatalf("PieceData mismatch: %+v != %+v", got, want)
			}
		case FileStart:
			got := dec.(FileStart)
			if got.Filename != want.Filename || got.TotalSize != want.TotalSize {
				t.Fatalf("FileStart mismatch: %+v != %+v", got, want)
			}
		case ResumeRequest:
			got := dec.(ResumeRequest)
			if len(got.MissingIndices) != len(want.MissingIndices) {
				t.Fatalf("ResumeRequest mismatch: %+v != %+v", got, want)
			}
		case Acknowledgement:
			got := dec.(Acknowledgement)
			if got.Index != want.Index {
				t.Fatalf("Acknowledgement mismatch: %+v != %+v", got, want)
			}
		}
	}
}

func TestDecodeMessageTooShort(t *testing.T) {
	if _, err := DecodeMessage([]byte{1, 2}); err == nil {
		t.Fatalf("expected error for truncated frame")
	}
}

func TestMessageTypeString(t *testing.T) {
	if MessageTypeFileStart.String() != "FILE_START" {
		t.Fatalf("unexpected String(): %s", MessageTypeFileStart.String())
	}
	if MessageType(99).String() != "UNKNOWN" {
		t.Fatalf("expected UNKNOWN for unrecognized type")
	}
}
