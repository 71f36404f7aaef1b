package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
)

type sealed struct {
	session  Session
	password []byte
}

// MemoryStore is a Store living in process memory. Passwords are kept sealed with a key
// that is generated on construction and never leaves the store.
type MemoryStore struct {
	mutex    sync.RWMutex
	sessions map[string]sealed
	key      [32]byte

	locks keyedMutex
}

func NewMemoryStore() (*MemoryStore, error) {
	s := &MemoryStore{
		sessions: make(map[string]sealed),
		locks:    keyedMutex{entries: make(map[string]*keyedEntry)},
	}
	_, err := io.ReadFull(rand.Reader, s.key[:])
	if err != nil {
		return nil, fmt.Errorf("generate sealing key: %w", err)
	}
	return s, nil
}

func (s *MemoryStore) seal(password string) ([]byte, error) {
	var nonce [24]byte
	_, err := io.ReadFull(rand.Reader, nonce[:])
	if err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], []byte(password), &nonce, &s.key), nil
}

func (s *MemoryStore) open(box []byte) (string, error) {
	if len(box) < 24 {
		return "", errors.New("sealed password is truncated")
	}
	var nonce [24]byte
	copy(nonce[:], box[:24])
	password, ok := secretbox.Open(nil, box[24:], &nonce, &s.key)
	if !ok {
		return "", errors.New("sealed password failed authentication")
	}
	return string(password), nil
}

func (s *MemoryStore) Put(ctx context.Context, session Session) error {
	box, err := s.seal(session.Password)
	if err != nil {
		return fmt.Errorf("seal password: %w", err)
	}
	stored := session.clone()
	stored.Password = ""

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.sessions[Key(session.User)] = sealed{session: stored, password: box}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, user string) (Session, error) {
	s.mutex.RLock()
	entry, exists := s.sessions[Key(user)]
	s.mutex.RUnlock()
	if !exists {
		return Session{}, ErrNotFound
	}

	password, err := s.open(entry.password)
	if err != nil {
		return Session{}, err
	}
	out := entry.session.clone()
	out.Password = password
	return out, nil
}

func (s *MemoryStore) Lock(ctx context.Context, user string) (func(), error) {
	return s.locks.lock(ctx, Key(user))
}

func (s *MemoryStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.sessions)
}

type keyedEntry struct {
	// sem has capacity 1, holding the token means holding the lock.
	sem  chan struct{}
	refs int
}

// keyedMutex is a set of mutexes created on demand per key and dropped once nobody
// holds or waits for them.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

func (k *keyedMutex) lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &keyedEntry{sem: make(chan struct{}, 1)}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	release := func() {
		k.mu.Lock()
		defer k.mu.Unlock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, key)
		}
	}

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		release()
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.sem
			release()
		})
	}, nil
}
