package hotstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and local development
// (HOTSTORE_DRIVER=memory). Pub/sub messages are delivered in publish
// order by a single dispatcher goroutine, matching the driver contract.
type MemoryStore struct {
	mu      sync.RWMutex
	strings map[string]memEntry
	lists   map[string][]string
	sets    map[string]map[string]struct{}
	hashes  map[string]map[string][]byte

	subMu  sync.Mutex
	subs   map[string]map[int]func([]byte)
	nextID int

	queue  chan memMessage
	done   chan struct{}
	once   sync.Once
	closed bool
}

type memEntry struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

func (e memEntry) expired() bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

type memMessage struct {
	channel string
	payload []byte
}

// NewMemoryStore creates an empty store and starts its dispatcher.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		strings: make(map[string]memEntry),
		lists:   make(map[string][]string),
		sets:    make(map[string]map[string]struct{}),
		hashes:  make(map[string]map[string][]byte),
		subs:    make(map[string]map[int]func([]byte)),
		queue:   make(chan memMessage, 256),
		done:    make(chan struct{}),
	}
	go s.dispatch()
	return s
}

func (s *MemoryStore) dispatch() {
	for {
		select {
		case msg := <-s.queue:
			s.subMu.Lock()
			handlers := make([]func([]byte), 0, len(s.subs[msg.channel]))
			for _, h := range s.subs[msg.channel] {
				handlers = append(handlers, h)
			}
			s.subMu.Unlock()
			for _, h := range handlers {
				h(msg.payload)
			}
		case <-s.done:
			return
		}
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error {
	s.once.Do(func() {
		s.subMu.Lock()
		s.closed = true
		s.subMu.Unlock()
		close(s.done)
	})
	return nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := memEntry{data: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.strings[key] = e
	return nil
}

func (s *MemoryStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.strings[key]; ok && !e.expired() {
		return false, nil
	}
	e := memEntry{data: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.strings[key] = e
	return true, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.strings[key]
	if !ok || e.expired() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), e.data...), nil
}

func (s *MemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.strings, k)
		delete(s.lists, k)
		delete(s.sets, k)
		delete(s.hashes, k)
	}
	return nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.strings[key]; ok && !e.expired() {
		return true, nil
	}
	if _, ok := s.lists[key]; ok {
		return true, nil
	}
	if _, ok := s.sets[key]; ok {
		return true, nil
	}
	_, ok := s.hashes[key]
	return ok, nil
}

func (s *MemoryStore) RPush(ctx context.Context, key string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append(s.lists[key], values...)
	return nil
}

func (s *MemoryStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.lists[key]
	n := int64(len(list))
	if start < 0 {
		start = n + start
		if start < 0 {
			start = 0
		}
	}
	if stop < 0 {
		stop = n + stop
	}
	if start >= n || stop < start {
		return nil, nil
	}
	if stop >= n {
		stop = n - 1
	}
	return append([]string(nil), list[start:stop+1]...), nil
}

func (s *MemoryStore) SAdd(ctx context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) SRem(ctx context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sets[key]
	for _, m := range members {
		delete(set, m)
	}
	return nil
}

func (s *MemoryStore) SMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.sets[key]
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	return members, nil
}

func (s *MemoryStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sets[key][member]
	return ok, nil
}

func (s *MemoryStore) SCard(ctx context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.sets[key])), nil
}

func (s *MemoryStore) HSet(ctx context.Context, key, field string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string][]byte)
		s.hashes[key] = h
	}
	h[field] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) HGet(ctx context.Context, key, field string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.hashes[key][field]
	if !ok {
		return nil, fmt.Errorf("%w: %s[%s]", ErrNotFound, key, field)
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	match := func(key string) error {
		ok, err := path.Match(pattern, key)
		if err != nil {
			return fmt.Errorf("hotstore: scan %q: %w", pattern, err)
		}
		if ok {
			keys = append(keys, key)
		}
		return nil
	}
	for k, e := range s.strings {
		if e.expired() {
			continue
		}
		if err := match(k); err != nil {
			return nil, err
		}
	}
	for k := range s.lists {
		if err := match(k); err != nil {
			return nil, err
		}
	}
	for k := range s.sets {
		if err := match(k); err != nil {
			return nil, err
		}
	}
	for k := range s.hashes {
		if err := match(k); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func (s *MemoryStore) FlushAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strings = make(map[string]memEntry)
	s.lists = make(map[string][]string)
	s.sets = make(map[string]map[string]struct{})
	s.hashes = make(map[string]map[string][]byte)
	return nil
}

func (s *MemoryStore) Publish(ctx context.Context, channel string, message []byte) error {
	s.subMu.Lock()
	closed := s.closed
	s.subMu.Unlock()
	if closed {
		return errors.New("hotstore: store closed")
	}
	select {
	case s.queue <- memMessage{channel: channel, payload: append([]byte(nil), message...)}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MemoryStore) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.closed {
		return nil, errors.New("hotstore: store closed")
	}
	id := s.nextID
	s.nextID++
	if s.subs[channel] == nil {
		s.subs[channel] = make(map[int]func([]byte))
	}
	s.subs[channel][id] = handler
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs[channel], id)
	}, nil
}
