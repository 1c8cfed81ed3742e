package cli

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/qqhmm2-web/NexusAI/pkg/session"
)

// StreamingIndicator marks a message that is still being written.
const StreamingIndicator = "▍"

// Transcript renders sessions and messages for the terminal.
type Transcript struct {
	Styles Styles

	// UserName labels user messages. Defaults to "You".
	UserName string

	// AssistantName labels assistant messages. Defaults to "Nexus".
	AssistantName string
}

// NewTranscript returns a Transcript using the named theme.
func NewTranscript(theme, userName string) *Transcript {
	return &Transcript{
		Styles:   NewStyles(ThemeNamed(theme)),
		UserName: userName,
	}
}

func (t *Transcript) label(role session.Role) string {
	switch role {
	case session.RoleUser:
		name := t.UserName
		if name == "" {
			name = "You"
		}
		return t.Styles.User.Render(name)
	case session.RoleAssistant:
		name := t.AssistantName
		if name == "" {
			name = "Nexus"
		}
		return t.Styles.Assistant.Render(name)
	}
	return t.Styles.Help.Render(string(role))
}

// Header renders the label line of a message.
func (t *Transcript) Header(m session.Message) string {
	var b strings.Builder
	b.WriteString(t.label(m.Role))
	if !m.Timestamp.IsZero() {
		b.WriteString(t.Styles.Help.Render(" · " + m.Timestamp.Local().Format("15:04")))
	}
	if m.IsCodeDetected {
		b.WriteString(" ")
		b.WriteString(t.Styles.Badge.Render("code"))
	}
	return b.String()
}

// Footer renders attachments and sources that follow the content.
func (t *Transcript) Footer(m session.Message) string {
	var lines []string
	for _, a := range m.Attachments {
		desc := fmt.Sprintf("[%s %s", a.Kind, a.MIMEType)
		if a.Data != "" {
			desc += " " + FormatBytes(int64(base64.StdEncoding.DecodedLen(len(a.Data))))
		}
		lines = append(lines, t.Styles.Help.Render(desc+"]"))
	}
	if len(m.CitationURLs) > 0 {
		lines = append(lines, t.Styles.Label.Render("Sources:"))
		for i, u := range m.CitationURLs {
			lines = append(lines, t.Styles.Help.Render(fmt.Sprintf("  %d. %s", i+1, u)))
		}
	}
	return strings.Join(lines, "\n")
}

// Message renders one message. A streaming message ends with the
// StreamingIndicator.
func (t *Transcript) Message(m session.Message) string {
	var b strings.Builder
	b.WriteString(t.Header(m))
	b.WriteString("\n")
	b.WriteString(t.Styles.Body.Render(m.Content))
	if m.IsStreaming {
		b.WriteString(t.Styles.Label.Render(StreamingIndicator))
	}
	if f := t.Footer(m); f != "" {
		b.WriteString("\n")
		b.WriteString(f)
	}
	b.WriteString("\n")
	return b.String()
}

// Session renders the title line and every message of sess.
func (t *Transcript) Session(sess session.Session) string {
	var b strings.Builder
	b.WriteString(t.Styles.Title.Render(sess.Title))
	b.WriteString(t.Styles.Help.Render(fmt.Sprintf("  [%s] %s", sess.Mode, sess.ID)))
	b.WriteString("\n\n")
	for i, m := range sess.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(t.Message(m))
	}
	return b.String()
}

// SessionList renders one line per session, newest first as stored. The
// active session is marked with "*". Titles longer than width runes are
// cut with an ellipsis.
func (t *Transcript) SessionList(sessions []session.Session, active string, width int, now time.Time) string {
	if len(sessions) == 0 {
		return t.Styles.Help.Render("No sessions") + "\n"
	}
	var b strings.Builder
	for _, s := range sessions {
		mark := " "
		if s.ID == active {
			mark = t.Styles.Label.Render("*")
		}
		title := s.Title
		if width > 1 && len([]rune(title)) > width {
			title = truncateString(title, width-1) + "…"
		}
		fmt.Fprintf(&b, "%s %s  %s  %s\n",
			mark,
			t.Styles.Help.Render(s.ID),
			t.Styles.Body.Render(title),
			t.Styles.Help.Render(fmt.Sprintf("%s · %d messages · %s", s.Mode, len(s.Messages), FormatAge(s.CreatedAt, now))),
		)
	}
	return b.String()
}
