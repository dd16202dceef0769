package source

import (
	"bytes"
	"testing"
)

func TestPacketRoundTrip(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}

	data, err := EncodePacket(0xDEADBEEFCAFEF00D, 42, pcm)
	if err != nil {
		t.Fatalf("EncodePacket failed: %v", err)
	}
	if len(data) != HeaderSize+len(pcm) {
		t.Fatalf("Encoded length = %d, want %d", len(data), HeaderSize+len(pcm))
	}

	pkt, err := ParsePacket(data)
	if err != nil {
		t.Fatalf("ParsePacket failed: %v", err)
	}

	if pkt.StreamKey != 0xDEADBEEFCAFEF00D {
		t.Errorf("StreamKey = %#x, want 0xDEADBEEFCAFEF00D", pkt.StreamKey)
	}
	if pkt.Sequence != 42 {
		t.Errorf("Sequence = %d, want 42", pkt.Sequence)
	}
	if !bytes.Equal(pkt.PCM, pcm) {
		t.Errorf("PCM = %v, want %v", pkt.PCM, pcm)
	}
}

func TestPacketWireFormat(t *testing.T) {
	data, err := EncodePacket(1, 2, []byte{0xAA, 0xBB})
	if err != nil {
		t.Fatalf("EncodePacket failed: %v", err)
	}

	want := []byte{
		0, 0, 0, 0, 0, 0, 0, 1, // stream key, big endian
		0, 0, 0, 2, // sequence, big endian
		0xAA, 0xBB, // pcm as-is
	}
	if !bytes.Equal(data, want) {
		t.Errorf("Wire bytes = %v, want %v", data, want)
	}
}

func TestParsePacketEmptyPayload(t *testing.T) {
	// A header-only packet is valid: a keepalive with no audio.
	data, err := EncodePacket(7, 0, nil)
	if err != nil {
		t.Fatalf("EncodePacket failed: %v", err)
	}

	pkt, err := ParsePacket(data)
	if err != nil {
		t.Fatalf("ParsePacket failed: %v", err)
	}
	if len(pkt.PCM) != 0 {
		t.Errorf("PCM length = %d, want 0", len(pkt.PCM))
	}
}

func TestParsePacketErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated header", make([]byte, HeaderSize-1)},
		{"unaligned payload", make([]byte, HeaderSize+3)},
		{"oversized payload", make([]byte, HeaderSize+MaxPayloadSize+2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePacket(tt.data); err == nil {
				t.Error("Expected parse error")
			}
		})
	}
}

func TestEncodePacketErrors(t *testing.T) {
	if _, err := EncodePacket(1, 1, make([]byte, MaxPayloadSize+2)); err == nil {
		t.Error("Expected error for oversized payload")
	}
	if _, err := EncodePacket(1, 1, make([]byte, 3)); err == nil {
		t.Error("Expected error for unaligned payload")
	}
}
