package protocol

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/skypro1111/audiologger/internal/audio"
	"github.com/skypro1111/audiologger/internal/event"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    *Header
		expectError bool
	}{
		{
			name: "valid open header",
			data: []byte{
				0x01,       // PacketType: Open
				0x00, 0x10, // PacketLen: 16 (8 + 8)
				0x00, 0x00, 0x30, 0x39, // StreamID: 12345
				0x01, // Purpose: speech
			},
			expected: &Header{PacketType: PacketTypeOpen, PacketLen: 16, StreamID: 12345, Purpose: PurposeSpeech},
		},
		{
			name: "valid audio header",
			data: []byte{
				0x02,       // PacketType: Audio
				0x01, 0x00, // PacketLen: 256
				0x12, 0x34, 0x56, 0x78, // StreamID: 305419896
				0x00,
			},
			expected: &Header{PacketType: PacketTypeAudio, PacketLen: 256, StreamID: 305419896},
		},
		{
			name:        "header too short",
			data:        []byte{0x01, 0x00},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseHeader(tt.data)
			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if *result != *tt.expected {
				t.Errorf("Expected header %+v, got %+v", tt.expected, result)
			}
		})
	}
}

func TestParseOpenPayload(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected audio.Format
		errorMsg string
	}{
		{
			name:     "mono 16-bit 22050 Hz",
			data:     []byte{0x00, 0x01, 0x00, 0x10, 0x00, 0x00, 0x56, 0x22},
			expected: audio.Format{Channels: 1, SampleWidth: 2, SampleRate: 22050},
		},
		{
			name:     "payload too short",
			data:     []byte{0x00, 0x01},
			errorMsg: "open payload too short",
		},
		{
			name:     "zero channels",
			data:     []byte{0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x56, 0x22},
			errorMsg: "channels",
		},
		{
			name:     "12-bit samples",
			data:     []byte{0x00, 0x01, 0x00, 0x0C, 0x00, 0x00, 0x56, 0x22},
			errorMsg: "bits per sample",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseOpenPayload(tt.data)
			if tt.errorMsg != "" {
				if err == nil {
					t.Fatal("Expected error but got none")
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if result.Format() != tt.expected {
				t.Errorf("Expected format %+v, got %+v", tt.expected, result.Format())
			}
		})
	}
}

func TestParseAudioPayload(t *testing.T) {
	audioData := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	data := make([]byte, 4+len(audioData))
	binary.BigEndian.PutUint32(data[0:], 12345)
	copy(data[4:], audioData)

	p, err := ParseAudioPayload(data)
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}
	if p.Sequence != 12345 || !bytes.Equal(p.AudioData, audioData) {
		t.Errorf("Unexpected payload: %s", p)
	}

	// The payload owns its data
	data[4] = 0xFF
	if p.AudioData[0] != 0x01 {
		t.Error("Audio data aliases the packet buffer")
	}

	p, err = ParseAudioPayload([]byte{0x00, 0x00, 0x00, 0x01})
	if err != nil || p.Sequence != 1 || len(p.AudioData) != 0 {
		t.Errorf("Sequence-only payload: %v, %v", p, err)
	}

	if _, err := ParseAudioPayload([]byte{0x00, 0x00}); err == nil {
		t.Error("Expected error for short payload")
	}
}

func TestParsePacket(t *testing.T) {
	open := MustBuild(BuildOpen(7, PurposeSpeech, OpenPayload{Channels: 1, BitsPerSample: 16, SampleRate: 22050}))
	audioPkt := MustBuild(BuildAudio(7, 3, []byte{1, 2, 3, 4}))
	syncPkt := MustBuild(BuildControl(PacketTypeSync, 7))
	speech := MustBuild(BuildSpeech(SpeechMessage{Items: []SpeechItem{{Text: "Hello"}, {Command: "break"}}}))
	gesture := MustBuild(BuildGesture(GestureMessage{Identifiers: []string{"kb:NVDA+t", "kb:insert+t"}}))

	tests := []struct {
		name     string
		data     []byte
		errorMsg string
		validate func(*ParsedPacket) bool
	}{
		{
			name: "open",
			data: open,
			validate: func(p *ParsedPacket) bool {
				return p.Open != nil && p.Open.SampleRate == 22050 && p.Header.StreamID == 7
			},
		},
		{
			name: "audio",
			data: audioPkt,
			validate: func(p *ParsedPacket) bool {
				return p.Audio != nil && p.Audio.Sequence == 3 && bytes.Equal(p.Audio.AudioData, []byte{1, 2, 3, 4})
			},
		},
		{
			name: "sync",
			data: syncPkt,
			validate: func(p *ParsedPacket) bool {
				return p.Header.PacketType == PacketTypeSync && p.Open == nil && p.Audio == nil
			},
		},
		{
			name: "speech",
			data: speech,
			validate: func(p *ParsedPacket) bool {
				got := event.Speech{Sequence: 4, Items: p.Speech.SpeechItems()}
				return got.Label() == "#4: Hello"
			},
		},
		{
			name: "gesture",
			data: gesture,
			validate: func(p *ParsedPacket) bool {
				return p.Gesture.Event().Identifier() == "kb:NVDA+t"
			},
		},
		{
			name:     "packet too short",
			data:     []byte{0x01, 0x00, 0x08},
			errorMsg: "packet too short",
		},
		{
			name:     "length mismatch",
			data:     append(append([]byte{}, audioPkt...), 0x00),
			errorMsg: "packet length mismatch",
		},
		{
			name:     "unknown packet type",
			data:     rawPacket(0x99, 0, nil),
			errorMsg: "invalid packet type",
		},
		{
			name:     "open without purpose",
			data:     rawPacket(PacketTypeOpen, PurposeNone, open[HeaderSize:]),
			errorMsg: "invalid purpose",
		},
		{
			name:     "stop with payload",
			data:     rawPacket(PacketTypeStop, PurposeNone, []byte{0x00}),
			errorMsg: "must not carry a payload",
		},
		{
			name:     "corrupt speech",
			data:     rawPacket(PacketTypeSpeech, PurposeNone, []byte{0xc1}),
			errorMsg: "failed to decode speech payload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParsePacket(tt.data)
			if tt.errorMsg != "" {
				if err == nil {
					t.Fatal("Expected error but got none")
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if !tt.validate(result) {
				t.Errorf("Validation failed for result: %+v", result)
			}
		})
	}
}

func TestBuildPacketTooLarge(t *testing.T) {
	if _, err := BuildAudio(1, 1, make([]byte, MaxPacketSize)); err == nil {
		t.Error("Expected error for oversized packet")
	}
}

func TestGestureMessageFieldNames(t *testing.T) {
	payload, err := msgpack.Marshal(map[string]any{
		"identifiers": []string{"kb:shift"},
		"is_modifier": true,
	})
	if err != nil {
		t.Fatal(err)
	}
	p, err := ParsePacket(rawPacket(PacketTypeGesture, PurposeNone, payload))
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}
	if !p.Gesture.IsModifier || p.Gesture.Event().Identifier() != "kb:shift" {
		t.Errorf("Unexpected gesture: %+v", p.Gesture)
	}
}

func TestSpeechMessageSpeechItems(t *testing.T) {
	msg := SpeechMessage{Items: []SpeechItem{{Text: "Hello "}, {Command: "pitch"}, {Text: "world"}}}
	p, err := ParsePacket(MustBuild(BuildSpeech(msg)))
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}

	items := p.Speech.SpeechItems()
	if len(items) != 3 {
		t.Fatalf("Expected 3 items, got %d", len(items))
	}
	if items[1].IsText() || items[1].Command != "pitch" {
		t.Errorf("Expected a pitch command, got %+v", items[1])
	}
	if got := (event.Speech{Sequence: 2, Items: items}).Label(); got != "#2: Hello world" {
		t.Errorf("Unexpected label: %q", got)
	}

	empty := (&SpeechMessage{}).SpeechItems()
	if empty == nil || len(empty) != 0 {
		t.Errorf("Expected an empty non-nil slice, got %#v", empty)
	}
}

func TestStringMethods(t *testing.T) {
	h := &Header{PacketType: PacketTypeOpen, PacketLen: 16, StreamID: 9, Purpose: PurposeSounds}
	if got := h.String(); got != "Header{Type:Open, Len:16, StreamID:9, Purpose:sounds}" {
		t.Errorf("Unexpected header string: %s", got)
	}
	h = &Header{PacketType: 0x42, Purpose: 0x07}
	if got := h.String(); !strings.Contains(got, "Unknown(0x42)") || !strings.Contains(got, "Purpose:0x07") {
		t.Errorf("Unexpected header string: %s", got)
	}
}

func rawPacket(ptype, purpose uint8, payload []byte) []byte {
	data := make([]byte, HeaderSize+len(payload))
	data[0] = ptype
	binary.BigEndian.PutUint16(data[1:], uint16(len(data)))
	binary.BigEndian.PutUint32(data[3:], 12345)
	data[7] = purpose
	copy(data[HeaderSize:], payload)
	return data
}
