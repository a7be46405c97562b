package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// BuildPacket assembles a packet from a header and payload, filling PacketLen
func BuildPacket(ptype uint8, streamID uint32, purpose uint8, payload []byte) ([]byte, error) {
	size := HeaderSize + len(payload)
	if size > MaxPacketSize {
		return nil, fmt.Errorf("packet too large: %d bytes (maximum %d)", size, MaxPacketSize)
	}
	buf := make([]byte, size)
	buf[0] = ptype
	binary.BigEndian.PutUint16(buf[1:3], uint16(size))
	binary.BigEndian.PutUint32(buf[3:7], streamID)
	buf[7] = purpose
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// BuildOpen builds an open packet
func BuildOpen(streamID uint32, purpose uint8, p OpenPayload) ([]byte, error) {
	payload := make([]byte, OpenPayloadSize)
	binary.BigEndian.PutUint16(payload[0:2], p.Channels)
	binary.BigEndian.PutUint16(payload[2:4], p.BitsPerSample)
	binary.BigEndian.PutUint32(payload[4:8], p.SampleRate)
	return BuildPacket(PacketTypeOpen, streamID, purpose, payload)
}

// BuildAudio builds an audio packet
func BuildAudio(streamID, sequence uint32, pcm []byte) ([]byte, error) {
	payload := make([]byte, AudioPayloadHeaderSize+len(pcm))
	binary.BigEndian.PutUint32(payload[0:4], sequence)
	copy(payload[AudioPayloadHeaderSize:], pcm)
	return BuildPacket(PacketTypeAudio, streamID, PurposeNone, payload)
}

// BuildControl builds a payload-less sync, stop or close packet
func BuildControl(ptype uint8, streamID uint32) ([]byte, error) {
	return BuildPacket(ptype, streamID, PurposeNone, nil)
}

// BuildSpeech builds a speech notification packet
func BuildSpeech(msg SpeechMessage) ([]byte, error) {
	payload, err := msgpack.Marshal(&msg)
	if err != nil {
		return nil, err
	}
	return BuildPacket(PacketTypeSpeech, 0, PurposeNone, payload)
}

// BuildGesture builds a gesture notification packet
func BuildGesture(msg GestureMessage) ([]byte, error) {
	payload, err := msgpack.Marshal(&msg)
	if err != nil {
		return nil, err
	}
	return BuildPacket(PacketTypeGesture, 0, PurposeNone, payload)
}

// MustBuild panics if err is non-nil and returns packet otherwise. It wraps
// the Build helpers where the input is known to be valid
func MustBuild(packet []byte, err error) []byte {
	if err != nil {
		panic(err)
	}
	return packet
}
