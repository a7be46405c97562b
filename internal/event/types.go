package event

import (
	"fmt"
	"strings"
)

// SpeechItem is one element of a speech sequence. Items with an empty Command
// are spoken text; the rest are non-text commands (pitch, break, index...)
type SpeechItem struct {
	Text    string `json:"text,omitempty" msgpack:"text,omitempty"`
	Command string `json:"command,omitempty" msgpack:"command,omitempty"`
}

// IsText reports whether the item carries spoken text
func (i SpeechItem) IsText() bool {
	return i.Command == ""
}

// Text builds a text item
func Text(s string) SpeechItem {
	return SpeechItem{Text: s}
}

// Speech announces that a numbered speech sequence is about to be spoken
type Speech struct {
	Sequence int
	Items    []SpeechItem
}

// Label renders the marker text for the sequence: "#<n>: " followed by the
// concatenated text items
func (s Speech) Label() string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d: ", s.Sequence)
	for _, item := range s.Items {
		if item.IsText() {
			b.WriteString(item.Text)
		}
	}
	return b.String()
}

// Gesture announces that an input gesture is about to execute
type Gesture struct {
	// Identifiers lists the gesture identifiers, the canonical one first
	Identifiers []string `json:"identifiers"`
	IsModifier  bool     `json:"is_modifier"`
}

// Identifier returns the canonical identifier, or "" if there is none
func (g Gesture) Identifier() string {
	if len(g.Identifiers) == 0 {
		return ""
	}
	return g.Identifiers[0]
}
