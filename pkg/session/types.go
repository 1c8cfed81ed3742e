// Package session holds conversation state: sessions, their ordered
// messages, and the attachments carried by individual messages.
//
// A [Store] exclusively owns every Session and Message. Callers get deep
// copies from [Store.Get], [Store.List] and [Store.Snapshot]; the only way
// to change state is through the Store's mutation methods. Sessions are
// prepended as they are created and messages are appended, so the order
// observed by readers is always insertion order.
//
// [Archive] persists snapshots of a Store into a kv.Store and restores them
// on startup.
package session

import (
	"fmt"
	"slices"
	"time"
)

const (
	// PlaceholderTitle is the title of a session created without a prompt.
	// The first appended message replaces it.
	PlaceholderTitle = "New Session"

	// UntitledTitle is used when a rename would leave the title empty.
	UntitledTitle = "Untitled"

	// TitleLength is the number of characters of the first message that
	// become the session title.
	TitleLength = 30
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) String() string { return string(r) }

// Mode is the UI interaction mode a session was created in.
type Mode string

const (
	ModeGeneral  Mode = "general"
	ModeCoding   Mode = "coding"
	ModeCreative Mode = "creative"
	ModeSearch   Mode = "search"
)

// Modes lists every valid Mode in display order.
var Modes = []Mode{ModeGeneral, ModeCoding, ModeCreative, ModeSearch}

func (m Mode) String() string { return string(m) }

// ParseMode validates s as a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !slices.Contains(Modes, m) {
		return "", fmt.Errorf("session: unknown mode %q", s)
	}
	return m, nil
}

// KindImage is the only attachment kind.
const KindImage = "image"

// Attachment is an embeddable payload carried by one message.
type Attachment struct {
	Kind string `msgpack:"kind" json:"kind"`

	// URL is a displayable representation, usually a data: URL.
	URL string `msgpack:"url" json:"url"`

	// Data is the base64 encoding of the raw bytes. Empty for attachments
	// that only carry a display URL.
	Data string `msgpack:"data,omitempty" json:"data,omitempty"`

	MIMEType string `msgpack:"mime_type" json:"mime_type"`
}

// Message is one turn of a conversation.
type Message struct {
	ID          string       `msgpack:"id" json:"id"`
	Role        Role         `msgpack:"role" json:"role"`
	Content     string       `msgpack:"content" json:"content"`
	Attachments []Attachment `msgpack:"attachments,omitempty" json:"attachments,omitempty"`
	Timestamp   time.Time    `msgpack:"timestamp" json:"timestamp"`

	// CitationURLs are grounding sources in first-seen order, without
	// duplicates.
	CitationURLs []string `msgpack:"citation_urls,omitempty" json:"citation_urls,omitempty"`

	IsCodeDetected bool `msgpack:"is_code,omitempty" json:"is_code,omitempty"`

	// IsStreaming is true while the orchestrator is still writing Content.
	// Once false the message never changes again.
	IsStreaming bool `msgpack:"is_streaming,omitempty" json:"is_streaming,omitempty"`
}

func (m Message) clone() Message {
	m.Attachments = slices.Clone(m.Attachments)
	m.CitationURLs = slices.Clone(m.CitationURLs)
	return m
}

// Session is one conversation thread.
type Session struct {
	ID        string    `msgpack:"id" json:"id"`
	Title     string    `msgpack:"title" json:"title"`
	Messages  []Message `msgpack:"messages" json:"messages"`
	CreatedAt time.Time `msgpack:"created_at" json:"created_at"`
	Mode      Mode      `msgpack:"mode" json:"mode"`
}

func (s *Session) clone() Session {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		out.Messages[i] = m.clone()
	}
	return out
}

// Streaming returns the message currently being streamed, if any.
func (s *Session) Streaming() (Message, bool) {
	for _, m := range s.Messages {
		if m.IsStreaming {
			return m, true
		}
	}
	return Message{}, false
}

// Message returns the message with the given id.
func (s *Session) Message(id string) (Message, bool) {
	for _, m := range s.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// Update is a partial change to a message. Nil fields are left untouched.
type Update struct {
	Content        *string
	CitationURLs   []string
	IsStreaming    *bool
	IsCodeDetected *bool
}

// Ptr is a helper for building Updates.
func Ptr[T any](v T) *T { return &v }

// TitleFrom returns the first TitleLength characters of text.
func TitleFrom(text string) string {
	r := []rune(text)
	if len(r) > TitleLength {
		r = r[:TitleLength]
	}
	return string(r)
}
