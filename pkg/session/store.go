package session

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("session: not found")

	// ErrAlreadyStreaming is returned when a streaming message is appended
	// to a session that already has one.
	ErrAlreadyStreaming = errors.New("session: a message is already streaming")
)

// ChangeKind classifies a Store mutation.
type ChangeKind int

const (
	ChangeCreate ChangeKind = iota + 1
	ChangeDelete
	ChangeRename
	ChangeAppend
	ChangeMutate
	ChangeClear
	ChangeActive
	ChangeRestore
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreate:
		return "create"
	case ChangeDelete:
		return "delete"
	case ChangeRename:
		return "rename"
	case ChangeAppend:
		return "append"
	case ChangeMutate:
		return "mutate"
	case ChangeClear:
		return "clear"
	case ChangeActive:
		return "active"
	case ChangeRestore:
		return "restore"
	}
	return fmt.Sprintf("ChangeKind(%d)", int(k))
}

// Change describes one applied mutation. MessageID is set for append and
// mutate changes only.
type Change struct {
	Kind      ChangeKind
	SessionID string
	MessageID string
}

// Store owns the collection of sessions. It is safe for concurrent use.
// Listeners registered with Watch run on the mutating goroutine after the
// store lock is released, so they may read the store freely.
type Store struct {
	mu       sync.RWMutex
	sessions []*Session // newest first
	active   string

	lmu       sync.Mutex
	listeners map[int]func(Change)
	nextL     int

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		listeners: make(map[int]func(Change)),
		now:       time.Now,
	}
}

// NewID returns a fresh identifier for sessions and messages.
func NewID() string {
	return uuid.NewString()
}

// Watch registers fn to be called after every mutation and returns a
// function that removes it.
func (s *Store) Watch(fn func(Change)) (cancel func()) {
	s.lmu.Lock()
	id := s.nextL
	s.nextL++
	s.listeners[id] = fn
	s.lmu.Unlock()
	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

func (s *Store) notify(c Change) {
	s.lmu.Lock()
	fns := make([]func(Change), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.lmu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

func (s *Store) find(id string) (int, *Session) {
	for i, sess := range s.sessions {
		if sess.ID == id {
			return i, sess
		}
	}
	return -1, nil
}

// CreateSession inserts an empty session at the front of the collection
// and makes it the active session.
func (s *Store) CreateSession(mode Mode) Session {
	return s.CreateSessionTitled(mode, PlaceholderTitle)
}

// CreateSessionTitled is CreateSession with an explicit initial title.
func (s *Store) CreateSessionTitled(mode Mode, title string) Session {
	sess := &Session{
		ID:        NewID(),
		Title:     title,
		Messages:  []Message{},
		CreatedAt: s.now(),
		Mode:      mode,
	}
	s.mu.Lock()
	s.sessions = slices.Insert(s.sessions, 0, sess)
	s.active = sess.ID
	out := sess.clone()
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeCreate, SessionID: sess.ID})
	return out
}

// DeleteSession removes a session. If it was active, no session is active
// afterwards. Reports whether the session existed.
func (s *Store) DeleteSession(id string) bool {
	s.mu.Lock()
	i, _ := s.find(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.sessions = slices.Delete(s.sessions, i, i+1)
	if s.active == id {
		s.active = ""
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeDelete, SessionID: id})
	return true
}

// RenameSession sets the title. A title that is empty after trimming
// becomes UntitledTitle.
func (s *Store) RenameSession(id, title string) bool {
	title = strings.TrimSpace(title)
	if title == "" {
		title = UntitledTitle
	}
	s.mu.Lock()
	_, sess := s.find(id)
	if sess == nil {
		s.mu.Unlock()
		return false
	}
	sess.Title = title
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeRename, SessionID: id})
	return true
}

// AppendMessage appends msg to the session and returns the stored copy.
// An empty ID or zero Timestamp is filled in. When msg is the first
// message and the title is still PlaceholderTitle, the title is derived
// from msg.Content.
func (s *Store) AppendMessage(sessionID string, msg Message) (Message, error) {
	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	msg = msg.clone()

	s.mu.Lock()
	_, sess := s.find(sessionID)
	if sess == nil {
		s.mu.Unlock()
		return Message{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if msg.IsStreaming {
		if _, ok := sess.Streaming(); ok {
			s.mu.Unlock()
			return Message{}, ErrAlreadyStreaming
		}
	}
	if len(sess.Messages) == 0 && sess.Title == PlaceholderTitle && msg.Content != "" {
		sess.Title = TitleFrom(msg.Content)
	}
	sess.Messages = append(sess.Messages, msg)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeAppend, SessionID: sessionID, MessageID: msg.ID})
	return msg.clone(), nil
}

// MutateMessage applies u to exactly one message. It is a no-op returning
// false when the session or message does not exist, or when the message is
// no longer streaming: finalized messages are immutable.
//
// A single update may write the final content and close the message; an
// update can never reopen one.
func (s *Store) MutateMessage(sessionID, messageID string, u Update) bool {
	s.mu.Lock()
	_, sess := s.find(sessionID)
	if sess == nil {
		s.mu.Unlock()
		return false
	}
	idx := slices.IndexFunc(sess.Messages, func(m Message) bool { return m.ID == messageID })
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	m := &sess.Messages[idx]
	if !m.IsStreaming {
		s.mu.Unlock()
		return false
	}
	if u.Content != nil {
		m.Content = *u.Content
	}
	if u.CitationURLs != nil {
		m.CitationURLs = slices.Clone(u.CitationURLs)
	}
	if u.IsCodeDetected != nil {
		m.IsCodeDetected = *u.IsCodeDetected
	}
	if u.IsStreaming != nil {
		m.IsStreaming = *u.IsStreaming
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeMutate, SessionID: sessionID, MessageID: messageID})
	return true
}

// ClearAll removes every session.
func (s *Store) ClearAll() {
	s.mu.Lock()
	s.sessions = nil
	s.active = ""
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeClear})
}

// SetActive selects the session shown by the UI. An empty id clears the
// selection.
func (s *Store) SetActive(id string) error {
	s.mu.Lock()
	if id != "" {
		if _, sess := s.find(id); sess == nil {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
	}
	s.active = id
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeActive, SessionID: id})
	return nil
}

// Active returns the active session id, or "" if none is active.
func (s *Store) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Get returns a copy of the session.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, sess := s.find(id)
	if sess == nil {
		return Session{}, false
	}
	return sess.clone(), true
}

// Message returns a copy of one message.
func (s *Store) Message(sessionID, messageID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, sess := s.find(sessionID)
	if sess == nil {
		return Message{}, false
	}
	m, ok := sess.Message(messageID)
	if !ok {
		return Message{}, false
	}
	return m.clone(), true
}

// List returns copies of all sessions, newest first.
func (s *Store) List() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Session, len(s.sessions))
	for i, sess := range s.sessions {
		out[i] = sess.clone()
	}
	return out
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Snapshot is a point-in-time copy of the whole store.
type Snapshot struct {
	Sessions []Session
	Active   string
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Sessions: make([]Session, len(s.sessions)),
		Active:   s.active,
	}
	for i, sess := range s.sessions {
		snap.Sessions[i] = sess.clone()
	}
	return snap
}

// Restore replaces the store contents with snap. Messages left streaming
// by an interrupted run are closed, since no generation can be writing
// them any more.
func (s *Store) Restore(snap Snapshot) {
	sessions := make([]*Session, len(snap.Sessions))
	for i := range snap.Sessions {
		c := snap.Sessions[i].clone()
		for j := range c.Messages {
			c.Messages[j].IsStreaming = false
		}
		sessions[i] = &c
	}

	s.mu.Lock()
	s.sessions = sessions
	s.active = ""
	if _, sess := s.find(snap.Active); sess != nil {
		s.active = snap.Active
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeRestore})
}
