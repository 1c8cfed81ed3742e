// Package kv is the durable key-value layer behind the client's local
// state. Keys are hierarchical segment paths (Key{"nexus", "prefs", name})
// joined with ':' on disk, so a prefix scan over Key{"nexus", "prefs"}
// returns every stored preference.
//
// Badger backs the on-disk store; Memory is a map-backed store for tests
// and for running without a data directory.
package kv

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"strings"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("kv: not found")

// Separator joins key segments in the encoded form.
const Separator = ':'

// Key is a hierarchical path. Segments must not contain Separator.
type Key []string

func (k Key) String() string {
	return strings.Join(k, string(Separator))
}

// Append returns a new key with segs appended. k is not modified.
func (k Key) Append(segs ...string) Key {
	out := make(Key, 0, len(k)+len(segs))
	out = append(out, k...)
	return append(out, segs...)
}

// Last returns the final segment, or "" for an empty key.
func (k Key) Last() string {
	if len(k) == 0 {
		return ""
	}
	return k[len(k)-1]
}

func (k Key) bytes() []byte {
	return []byte(k.String())
}

// scanPrefix is the encoded prefix used by List. A trailing separator keeps
// Key{"a","b"} from matching "a:bc". An empty key scans everything.
func (k Key) scanPrefix() []byte {
	if len(k) == 0 {
		return nil
	}
	return append(k.bytes(), Separator)
}

func parseKey(b []byte) Key {
	parts := bytes.Split(b, []byte{Separator})
	k := make(Key, len(parts))
	for i, p := range parts {
		k[i] = string(p)
	}
	return k
}

// Entry is one key-value pair.
type Entry struct {
	Key   Key
	Value []byte
}

// Store is implemented by Memory and Badger.
type Store interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key Key) ([]byte, error)
	Set(ctx context.Context, key Key, value []byte) error
	// Delete of a missing key is not an error.
	Delete(ctx context.Context, key Key) error
	// List yields entries under prefix in lexicographic key order.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]
	// BatchSet and BatchDelete apply all changes or none.
	BatchSet(ctx context.Context, entries []Entry) error
	BatchDelete(ctx context.Context, keys []Key) error
	Close() error
}
