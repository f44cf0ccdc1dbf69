// Package storagetest provides an in-memory AssetStore for tests.
package storagetest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrInjected is returned for keys matched by FailPut or FailCopy.
var ErrInjected = errors.New("injected storage failure")

// MemoryStore keeps objects in a map. Signed URLs embed an expiry derived
// from Now, so they change as the clock moves.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string

	// FailPut makes PutObject fail for keys with this suffix.
	FailPut string
	// FailCopy makes CopyObject fail for source keys with this suffix.
	FailCopy string
	Now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: map[string][]byte{},
		types:   map[string]string{},
		Now:     time.Now,
	}
}

func (s *MemoryStore) PutObject(_ context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPut != "" && strings.HasSuffix(key, s.FailPut) {
		return fmt.Errorf("put %q: %w", key, ErrInjected)
	}
	s.objects[key] = append([]byte(nil), data...)
	s.types[key] = contentType
	return nil
}

func (s *MemoryStore) CopyObject(_ context.Context, srcKey, dstKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCopy != "" && strings.HasSuffix(srcKey, s.FailCopy) {
		return fmt.Errorf("copy %q: %w", srcKey, ErrInjected)
	}
	data, ok := s.objects[srcKey]
	if !ok {
		return fmt.Errorf("copy %q: no such key", srcKey)
	}
	s.objects[dstKey] = append([]byte(nil), data...)
	s.types[dstKey] = s.types[srcKey]
	return nil
}

func (s *MemoryStore) DeleteObject(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	delete(s.types, key)
	return nil
}

func (s *MemoryStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			delete(s.objects, key)
			delete(s.types, key)
		}
	}
	return nil
}

func (s *MemoryStore) PresignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	_, ok := s.objects[key]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("presign %q: no such key", key)
	}
	expires := s.Now().Add(ttl).Unix()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", key, expires)))
	return fmt.Sprintf("https://signed.example.test/%s?expires=%d&signature=%s", key, expires, hex.EncodeToString(sum[:8])), nil
}

func (s *MemoryStore) PublicURL(key string) string {
	return "https://assets.example.test/" + key
}

// Object returns a copy of the stored bytes.
func (s *MemoryStore) Object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Keys lists stored keys in order.
func (s *MemoryStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
