package archive

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestBatchKey(t *testing.T) {
	id := uuid.MustParse("6f1c1a52-3f7e-4c61-9b1b-0d8a3f5f2a10")
	at := time.Unix(0, 1700000000123456789)

	got := BatchKey(id, at)
	want := "batches/6f1c1a52-3f7e-4c61-9b1b-0d8a3f5f2a10/1700000000123456789.json"
	if got != want {
		t.Errorf("BatchKey() = %q, want %q", got, want)
	}
	if !strings.HasPrefix(got, BatchPrefix(id)) {
		t.Error("expected key to sit under the batch prefix")
	}
}

func TestMemoryStore_PutGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	data := []byte(`[{"brand_name":"Advil"}]`)

	obj, err := PutJSON(ctx, s, "batches/x/1.json", data)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if obj.Size != int64(len(data)) {
		t.Errorf("expected size %d, got %d", len(data), obj.Size)
	}
	if obj.Hash != fmt.Sprintf("%x", sha256.Sum256(data)) {
		t.Error("expected SHA-256 hash of content")
	}
	if obj.ContentType != "application/json" {
		t.Errorf("unexpected content type %s", obj.ContentType)
	}

	got, meta, err := s.Get(ctx, "batches/x/1.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(data) || meta.Key != "batches/x/1.json" {
		t.Errorf("unexpected object %q %+v", got, meta)
	}
}

func TestMemoryStore_PutCopiesData(t *testing.T) {
	s := NewMemoryStore()
	data := []byte("abc")
	s.Put(context.Background(), "k", "text/plain", data)
	data[0] = 'z'

	got, _, _ := s.Get(context.Background(), "k")
	if string(got) != "abc" {
		t.Errorf("expected stored copy to be unaffected, got %q", got)
	}
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	_, _, err := NewMemoryStore().Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_InvalidKey(t *testing.T) {
	s := NewMemoryStore()
	for _, key := range []string{"", "/abs", "a/../b", "a//b"} {
		if _, err := s.Put(context.Background(), key, "", nil); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
}

func TestMemoryStore_TooLarge(t *testing.T) {
	_, err := NewMemoryStore().Put(context.Background(), "big", "", make([]byte, MaxObjectSize+1))
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
}

func TestMemoryStore_ListByPrefix(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()
	now := time.Now()

	s.Put(ctx, BatchKey(a, now.Add(time.Second)), "", []byte("2"))
	s.Put(ctx, BatchKey(a, now), "", []byte("1"))
	s.Put(ctx, BatchKey(b, now), "", []byte("other"))

	objs, err := s.List(ctx, BatchPrefix(a))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(objs) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(objs))
	}
	if objs[0].Key != BatchKey(a, now) {
		t.Error("expected objects in run order")
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("batches/c/%d.json", i)
			s.Put(ctx, key, "", []byte("x"))
			s.Get(ctx, key)
			s.List(ctx, "batches/c/")
		}(i)
	}
	wg.Wait()

	objs, _ := s.List(ctx, "batches/c/")
	if len(objs) != 50 {
		t.Errorf("expected 50 objects, got %d", len(objs))
	}
}
