// Package archive stores raw enrichment payloads so every processing run of a
// batch can be audited after the fact. It defines the Store interface, an
// in-memory implementation for tests and development, and a MinIO/S3
// implementation.
package archive

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrNotFound   = errors.New("archive object not found")
	ErrTooLarge   = errors.New("archive object exceeds maximum allowed size")
	ErrInvalidKey = errors.New("archive key is invalid")
)

// MaxObjectSize bounds a single archived payload (16 MB).
const MaxObjectSize = 16 * 1024 * 1024

const jsonContentType = "application/json"

// ---------------------------------------------------------------------------
// Domain types
// ---------------------------------------------------------------------------

// Object describes a stored payload.
type Object struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the contract for archive backends. Keys are slash-separated paths.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) (*Object, error)
	Get(ctx context.Context, key string) ([]byte, *Object, error)
	// List returns objects under prefix ordered by key.
	List(ctx context.Context, prefix string) ([]*Object, error)
}

// BatchPrefix is the key prefix holding every run of a batch.
func BatchPrefix(batchID uuid.UUID) string {
	return "batches/" + batchID.String() + "/"
}

// BatchKey names the payload of one processing run. Unix nanoseconds keep
// keys of the same batch in run order.
func BatchKey(batchID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("%s%d.json", BatchPrefix(batchID), at.UnixNano())
}

// PutJSON stores an already encoded JSON payload.
func PutJSON(ctx context.Context, s Store, key string, data []byte) (*Object, error) {
	return s.Put(ctx, key, jsonContentType, data)
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key || strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func hashOf(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedObject struct {
	meta Object
	data []byte
}

// MemoryStore is a thread-safe, in-memory Store for tests and development.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*storedObject
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*storedObject)}
}

func (s *MemoryStore) Put(_ context.Context, key, contentType string, data []byte) (*Object, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if len(data) > MaxObjectSize {
		return nil, ErrTooLarge
	}
	meta := Object{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        hashOf(data),
		CreatedAt:   time.Now().UTC(),
	}
	buf := append([]byte(nil), data...)

	s.mu.Lock()
	s.objects[key] = &storedObject{meta: meta, data: buf}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, *Object, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrNotFound
	}
	meta := obj.meta
	return append([]byte(nil), obj.data...), &meta, nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Object
	for k, obj := range s.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		meta := obj.meta
		out = append(out, &meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
