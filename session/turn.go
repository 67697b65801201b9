package session

import (
	"strings"
	"time"
)

// Role tags who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Image is inline binary content. It is only ever attached to the turn being
// sent; history keeps text.
type Image struct {
	MIMEType string
	Data     []byte
}

// Part is one piece of a turn: text, an image, or both.
type Part struct {
	Text  string
	Image *Image
}

// Turn is one role-tagged unit of conversation.
type Turn struct {
	Role  Role
	Parts []Part
	At    time.Time
}

// TextTurn builds a single-part text turn.
func TextTurn(role Role, text string) Turn {
	return Turn{Role: role, Parts: []Part{{Text: text}}}
}

// Text joins the text of every part.
func (t Turn) Text() string {
	var b strings.Builder
	for i, p := range t.Parts {
		if p.Text == "" {
			continue
		}
		if i > 0 && b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(p.Text)
	}
	return b.String()
}
