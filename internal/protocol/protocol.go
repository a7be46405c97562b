package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/skypro1111/audiologger/internal/audio"
	"github.com/skypro1111/audiologger/internal/event"
)

const (
	// Packet types
	PacketTypeOpen    = 0x01
	PacketTypeAudio   = 0x02
	PacketTypeSync    = 0x03
	PacketTypeStop    = 0x04
	PacketTypeClose   = 0x05
	PacketTypeSpeech  = 0x06
	PacketTypeGesture = 0x07

	// Stream purposes
	PurposeNone   = 0x00
	PurposeSpeech = 0x01
	PurposeSounds = 0x02

	// Packet structure sizes
	HeaderSize             = 8 // 1 + 2 + 4 + 1 bytes
	OpenPayloadSize        = 8 // 2 + 2 + 4 bytes
	AudioPayloadHeaderSize = 4 // Sequence number

	// MaxPacketSize is the largest packet the 16-bit length field can describe
	MaxPacketSize = 0xFFFF
)

// Header represents the 8-byte packet header
// Layout: [PacketType:1][PacketLen:2][StreamID:4][Purpose:1]
type Header struct {
	PacketType uint8
	PacketLen  uint16 // Total packet size (header + payload)
	StreamID   uint32
	Purpose    uint8
}

// OpenPayload announces a new output stream
// Layout: [Channels:2][BitsPerSample:2][SampleRate:4]
type OpenPayload struct {
	Channels      uint16
	BitsPerSample uint16
	SampleRate    uint32
}

// Format converts the payload to a storage format
func (o *OpenPayload) Format() audio.Format {
	return audio.Format{
		Channels:    int(o.Channels),
		SampleWidth: int(o.BitsPerSample) / 8,
		SampleRate:  int(o.SampleRate),
	}
}

// AudioPayload represents the audio packet payload
// Layout: [Sequence:4][AudioData:N]
type AudioPayload struct {
	Sequence  uint32
	AudioData []byte
}

// SpeechMessage is the msgpack body of a speech packet
type SpeechMessage struct {
	Items []SpeechItem `msgpack:"items"`
}

// SpeechItem is one element of a speech sequence
type SpeechItem struct {
	Text    string `msgpack:"text,omitempty"`
	Command string `msgpack:"command,omitempty"`
}

// GestureMessage is the msgpack body of a gesture packet
type GestureMessage struct {
	Identifiers []string `msgpack:"identifiers"`
	IsModifier  bool     `msgpack:"is_modifier"`
}

// ParsedPacket represents a fully parsed packet
type ParsedPacket struct {
	Header  *Header
	Open    *OpenPayload    // Only set for open packets
	Audio   *AudioPayload   // Only set for audio packets
	Speech  *SpeechMessage  // Only set for speech packets
	Gesture *GestureMessage // Only set for gesture packets
}

// ParseHeader parses the 8-byte packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	header := &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		StreamID:   binary.BigEndian.Uint32(data[3:7]),
		Purpose:    data[7],
	}

	return header, nil
}

// ParseOpenPayload parses the 8-byte stream format payload
func ParseOpenPayload(data []byte) (*OpenPayload, error) {
	if len(data) < OpenPayloadSize {
		return nil, fmt.Errorf("open payload too short: expected %d bytes, got %d",
			OpenPayloadSize, len(data))
	}

	payload := &OpenPayload{
		Channels:      binary.BigEndian.Uint16(data[0:2]),
		BitsPerSample: binary.BigEndian.Uint16(data[2:4]),
		SampleRate:    binary.BigEndian.Uint32(data[4:8]),
	}
	if err := payload.Format().Validate(); err != nil {
		return nil, err
	}
	if payload.BitsPerSample%8 != 0 {
		return nil, fmt.Errorf("unsupported bits per sample: %d", payload.BitsPerSample)
	}

	return payload, nil
}

// ParseAudioPayload parses the audio packet payload (4-byte sequence + audio data)
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			AudioPayloadHeaderSize, len(data))
	}

	payload := &AudioPayload{
		Sequence: binary.BigEndian.Uint32(data[0:4]),
	}

	if len(data) > AudioPayloadHeaderSize {
		payload.AudioData = make([]byte, len(data)-AudioPayloadHeaderSize)
		copy(payload.AudioData, data[AudioPayloadHeaderSize:])
	}

	return payload, nil
}

// ParsePacket parses a complete packet (header + payload)
func ParsePacket(data []byte) (*ParsedPacket, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: expected at least %d bytes, got %d", HeaderSize, len(data))
	}

	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	payloadData := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeOpen:
		payload, err := ParseOpenPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse open payload: %w", err)
		}
		packet.Open = payload

	case PacketTypeAudio:
		payload, err := ParseAudioPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		packet.Audio = payload

	case PacketTypeSpeech:
		var msg SpeechMessage
		if err := msgpack.Unmarshal(payloadData, &msg); err != nil {
			return nil, fmt.Errorf("failed to decode speech payload: %w", err)
		}
		packet.Speech = &msg

	case PacketTypeGesture:
		var msg GestureMessage
		if err := msgpack.Unmarshal(payloadData, &msg); err != nil {
			return nil, fmt.Errorf("failed to decode gesture payload: %w", err)
		}
		packet.Gesture = &msg
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	payloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeOpen:
		if !IsValidPurpose(header.Purpose) || header.Purpose == PurposeNone {
			return fmt.Errorf("invalid purpose: 0x%02x", header.Purpose)
		}
		if payloadSize != OpenPayloadSize {
			return fmt.Errorf("open packet payload size mismatch: expected %d, got %d",
				OpenPayloadSize, payloadSize)
		}
	case PacketTypeAudio:
		if payloadSize < AudioPayloadHeaderSize {
			return fmt.Errorf("audio packet payload too small: expected at least %d, got %d",
				AudioPayloadHeaderSize, payloadSize)
		}
	case PacketTypeSync, PacketTypeStop, PacketTypeClose:
		if payloadSize != 0 {
			return fmt.Errorf("%s packet must not carry a payload, got %d bytes",
				packetTypeName(header.PacketType), payloadSize)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype >= PacketTypeOpen && ptype <= PacketTypeGesture
}

// IsValidPurpose checks if the purpose is valid
func IsValidPurpose(p uint8) bool {
	return p == PurposeNone || p == PurposeSpeech || p == PurposeSounds
}

// PurposeName maps a wire purpose to its tracker name
func PurposeName(p uint8) string {
	switch p {
	case PurposeSpeech:
		return "speech"
	case PurposeSounds:
		return "sounds"
	default:
		return ""
	}
}

// SpeechItems converts the message to bus items
func (m *SpeechMessage) SpeechItems() []event.SpeechItem {
	items := make([]event.SpeechItem, len(m.Items))
	for i, it := range m.Items {
		items[i] = event.SpeechItem{Text: it.Text, Command: it.Command}
	}
	return items
}

// Event converts the message to a bus gesture
func (m *GestureMessage) Event() event.Gesture {
	return event.Gesture{Identifiers: m.Identifiers, IsModifier: m.IsModifier}
}

func packetTypeName(t uint8) string {
	switch t {
	case PacketTypeOpen:
		return "Open"
	case PacketTypeAudio:
		return "Audio"
	case PacketTypeSync:
		return "Sync"
	case PacketTypeStop:
		return "Stop"
	case PacketTypeClose:
		return "Close"
	case PacketTypeSpeech:
		return "Speech"
	case PacketTypeGesture:
		return "Gesture"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", t)
	}
}

// TypeName returns the packet type name used in logs and metrics
func (h *Header) TypeName() string {
	return packetTypeName(h.PacketType)
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	purpose := PurposeName(h.Purpose)
	if purpose == "" {
		purpose = fmt.Sprintf("0x%02x", h.Purpose)
	}
	return fmt.Sprintf("Header{Type:%s, Len:%d, StreamID:%d, Purpose:%s}",
		h.TypeName(), h.PacketLen, h.StreamID, purpose)
}

// String returns a human-readable representation of the open payload
func (o *OpenPayload) String() string {
	return fmt.Sprintf("OpenPayload{Channels:%d, BitsPerSample:%d, SampleRate:%d}",
		o.Channels, o.BitsPerSample, o.SampleRate)
}

// String returns a human-readable representation of the audio payload
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Sequence:%d, AudioDataLen:%d}", a.Sequence, len(a.AudioData))
}
