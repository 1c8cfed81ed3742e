package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/qqhmm2-web/NexusAI/pkg/kv"
	"github.com/vmihailenco/msgpack/v5"
)

// KV key layout:
//
//	nexus:chats:v2:index          → msgpack archiveIndex (order + active)
//	nexus:chats:v2:session:{id}   → msgpack Session
//
// There is no migration between layouts; a save always overwrites with the
// latest state.
var archivePrefix = kv.Key{"nexus", "chats", "v2"}

func indexKey() kv.Key            { return archivePrefix.Append("index") }
func sessionPrefix() kv.Key       { return archivePrefix.Append("session") }
func sessionKey(id string) kv.Key { return sessionPrefix().Append(id) }

func sortNewestFirst(sessions []Session) {
	slices.SortFunc(sessions, func(a, b Session) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}

type archiveIndex struct {
	Order  []string `msgpack:"order"`
	Active string   `msgpack:"active,omitempty"`
}

// Archive persists Store snapshots into a kv.Store. Saves are best-effort
// and synchronous; concurrent saves are serialized.
type Archive struct {
	kv kv.Store
	mu sync.Mutex
}

func NewArchive(store kv.Store) *Archive {
	return &Archive{kv: store}
}

// Load reads the last saved snapshot. An empty archive yields an empty
// snapshot. Sessions that fail to decode are skipped with a warning.
func (a *Archive) Load(ctx context.Context) (Snapshot, error) {
	var idx archiveIndex
	data, err := a.kv.Get(ctx, indexKey())
	switch {
	case errors.Is(err, kv.ErrNotFound):
	case err != nil:
		return Snapshot{}, fmt.Errorf("session: load index: %w", err)
	default:
		if err := msgpack.Unmarshal(data, &idx); err != nil {
			return Snapshot{}, fmt.Errorf("session: decode index: %w", err)
		}
	}

	byID := make(map[string]Session)
	for entry, err := range a.kv.List(ctx, sessionPrefix()) {
		if err != nil {
			return Snapshot{}, fmt.Errorf("session: list sessions: %w", err)
		}
		var sess Session
		if err := msgpack.Unmarshal(entry.Value, &sess); err != nil {
			slog.Warn("session/archive: skip undecodable session", "key", entry.Key.String(), "err", err)
			continue
		}
		byID[sess.ID] = sess
	}

	snap := Snapshot{Active: idx.Active}
	for _, id := range idx.Order {
		if sess, ok := byID[id]; ok {
			snap.Sessions = append(snap.Sessions, sess)
			delete(byID, id)
		}
	}
	// Sessions missing from the index (a save interrupted between the
	// session write and the index write) go first, newest first.
	var orphans []Session
	for _, sess := range byID {
		orphans = append(orphans, sess)
	}
	sortNewestFirst(orphans)
	snap.Sessions = append(orphans, snap.Sessions...)
	return snap, nil
}

// Save overwrites the archive with snap, removing sessions that are no
// longer present.
func (a *Archive) Save(ctx context.Context, snap Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.save(ctx, snap)
}

func (a *Archive) save(ctx context.Context, snap Snapshot) error {
	idx := archiveIndex{Active: snap.Active}
	entries := make([]kv.Entry, 0, len(snap.Sessions)+1)
	keep := make(map[string]bool, len(snap.Sessions))
	for _, sess := range snap.Sessions {
		data, err := msgpack.Marshal(sess)
		if err != nil {
			return fmt.Errorf("session: encode %s: %w", sess.ID, err)
		}
		entries = append(entries, kv.Entry{Key: sessionKey(sess.ID), Value: data})
		idx.Order = append(idx.Order, sess.ID)
		keep[sess.ID] = true
	}
	data, err := msgpack.Marshal(idx)
	if err != nil {
		return fmt.Errorf("session: encode index: %w", err)
	}
	entries = append(entries, kv.Entry{Key: indexKey(), Value: data})

	var stale []kv.Key
	for entry, err := range a.kv.List(ctx, sessionPrefix()) {
		if err != nil {
			return fmt.Errorf("session: list sessions: %w", err)
		}
		if !keep[entry.Key.Last()] {
			stale = append(stale, entry.Key)
		}
	}

	if err := a.kv.BatchSet(ctx, entries); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	if len(stale) > 0 {
		if err := a.kv.BatchDelete(ctx, stale); err != nil {
			return fmt.Errorf("session: prune: %w", err)
		}
	}
	return nil
}

// SaveSession writes a single session without touching the index. Used for
// the frequent per-chunk updates of a streaming message.
func (a *Archive) SaveSession(ctx context.Context, sess Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saveSession(ctx, sess)
}

func (a *Archive) saveSession(ctx context.Context, sess Session) error {
	data, err := msgpack.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", sess.ID, err)
	}
	return a.kv.Set(ctx, sessionKey(sess.ID), data)
}

// AutoSave persists store on every change until the returned function is
// called. Message-level changes rewrite only the affected session; all
// other changes rewrite the whole archive. Failures are logged.
//
// The store is read while the archive lock is held, so a write never lands
// after a later save that already pruned or replaced it.
func (a *Archive) AutoSave(ctx context.Context, store *Store) (stop func()) {
	return store.Watch(func(c Change) {
		var err error
		switch c.Kind {
		case ChangeAppend, ChangeMutate, ChangeRename:
			err = a.syncSession(ctx, store, c.SessionID)
		default:
			err = a.sync(ctx, store)
		}
		if err != nil {
			slog.Warn("session/archive: autosave failed", "change", c.Kind.String(), "err", err)
		}
	})
}

func (a *Archive) sync(ctx context.Context, store *Store) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.save(ctx, store.Snapshot())
}

// syncSession writes the current state of one session. A session deleted
// since the change was reported is skipped.
func (a *Archive) syncSession(ctx context.Context, store *Store, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	sess, ok := store.Get(id)
	if !ok {
		return nil
	}
	return a.saveSession(ctx, sess)
}
