package prefs

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Subscription identifies a Watch registration.
type Subscription struct {
	id     uint64
	prefix string
}

// Prefix returns the watched key prefix.
func (s Subscription) Prefix() string { return s.prefix }

type watcher struct {
	prefix string
	fn     func(key string)
}

// Store is the preference tree shared by all scripts.
type Store struct {
	backend Backend
	logger  *zap.Logger

	mu       sync.RWMutex
	nextID   uint64
	watchers map[uint64]watcher
}

// NewStore creates a Store over backend.
func NewStore(backend Backend, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		backend:  backend,
		logger:   logger,
		watchers: make(map[uint64]watcher),
	}
}

// Branch returns a view of the keys under prefix.
func (s *Store) Branch(prefix string) *Branch {
	return &Branch{store: s, prefix: prefix}
}

// Watch calls fn with the full key whenever a key under prefix changes.
func (s *Store) Watch(prefix string, fn func(key string)) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.watchers[s.nextID] = watcher{prefix: prefix, fn: fn}
	return Subscription{id: s.nextID, prefix: prefix}
}

// Unwatch cancels sub. Cancelling twice reports ErrUnknownSubscription.
func (s *Store) Unwatch(sub Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watchers[sub.id]; !ok {
		return ErrUnknownSubscription
	}
	delete(s.watchers, sub.id)
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) notify(key string) {
	s.mu.RLock()
	var fns []func(string)
	for _, w := range s.watchers {
		if strings.HasPrefix(key, w.prefix) {
			fns = append(fns, w.fn)
		}
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(key)
	}
}

// Branch is a prefix-scoped view of a Store.
type Branch struct {
	store  *Store
	prefix string
}

// Prefix returns the branch prefix.
func (b *Branch) Prefix() string { return b.prefix }

// Get returns the value for key, or def when unset.
func (b *Branch) Get(key string, def any) any {
	v, ok, err := b.store.backend.Get(b.prefix + key)
	if err != nil {
		b.store.logger.Warn("pref read failed", zap.String("key", b.prefix+key), zap.Error(err))
		return def
	}
	if !ok {
		return def
	}
	return v
}

// Set stores value under key.
func (b *Branch) Set(key string, value any) error {
	v, err := Normalize(value)
	if err != nil {
		return err
	}
	if err := b.store.backend.Set(b.prefix+key, v); err != nil {
		return err
	}
	b.store.notify(b.prefix + key)
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (b *Branch) Delete(key string) error {
	if err := b.store.backend.Delete(b.prefix + key); err != nil {
		return err
	}
	b.store.notify(b.prefix + key)
	return nil
}

// List returns the branch-relative keys in sorted order.
func (b *Branch) List() ([]string, error) {
	keys, err := b.store.backend.Keys(b.prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, b.prefix))
	}
	sort.Strings(out)
	return out, nil
}

// Purge removes every key in the branch.
func (b *Branch) Purge() error {
	keys, err := b.store.backend.Keys(b.prefix)
	if err != nil {
		return err
	}
	if err := b.store.backend.DeletePrefix(b.prefix); err != nil {
		return err
	}
	for _, k := range keys {
		b.store.notify(k)
	}
	return nil
}

// PurgeExcept removes the branch's keys except those under any of the
// nested prefixes, which belong to other branches sharing this key space.
func (b *Branch) PurgeExcept(nested ...string) error {
	if len(nested) == 0 {
		return b.Purge()
	}
	keys, err := b.store.backend.Keys(b.prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if hasAnyPrefix(k, nested) {
			continue
		}
		if err := b.store.backend.Delete(k); err != nil {
			return err
		}
		b.store.notify(k)
	}
	return nil
}

func hasAnyPrefix(key string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}
