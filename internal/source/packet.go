package source

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed audio datagram header size in bytes.
const HeaderSize = 12

// MaxPayloadSize bounds the PCM payload of one datagram.
const MaxPayloadSize = 4096

// Packet is one parsed audio datagram: an 8-byte stream key, a 4-byte
// sequence number, then raw little-endian PCM samples. The key and sequence
// are big-endian on the wire.
type Packet struct {
	StreamKey uint64
	Sequence  uint32
	PCM       []byte
}

// ParsePacket parses an audio datagram. The PCM slice aliases data.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: %d bytes, need at least %d", len(data), HeaderSize)
	}

	payload := data[HeaderSize:]
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload too large: %d bytes, max %d", len(payload), MaxPayloadSize)
	}
	if len(payload)%2 != 0 {
		return nil, fmt.Errorf("payload length %d is not sample aligned", len(payload))
	}

	return &Packet{
		StreamKey: binary.BigEndian.Uint64(data[0:8]),
		Sequence:  binary.BigEndian.Uint32(data[8:12]),
		PCM:       payload,
	}, nil
}

// EncodePacket builds the wire form of a packet.
func EncodePacket(streamKey uint64, sequence uint32, pcm []byte) ([]byte, error) {
	if len(pcm) > MaxPayloadSize {
		return nil, fmt.Errorf("payload too large: %d bytes, max %d", len(pcm), MaxPayloadSize)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("payload length %d is not sample aligned", len(pcm))
	}

	buf := make([]byte, HeaderSize+len(pcm))
	binary.BigEndian.PutUint64(buf[0:8], streamKey)
	binary.BigEndian.PutUint32(buf[8:12], sequence)
	copy(buf[HeaderSize:], pcm)
	return buf, nil
}
