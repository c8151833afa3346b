package drugrequest

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rxlearn/rxlearn/internal/platform/auth"
)

// -- Mock Repository --

type mockRepo struct {
	items map[uuid.UUID]*DrugRequest
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*DrugRequest)}
}

func (m *mockRepo) Create(_ context.Context, dr *DrugRequest) error {
	dr.ID = uuid.New()
	dr.CreatedAt = time.Now()
	dr.UpdatedAt = dr.CreatedAt
	m.items[dr.ID] = dr
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*DrugRequest, error) {
	dr, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *dr
	return &cp, nil
}

func (m *mockRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*DrugRequest, int, error) {
	return m.Search(ctx, map[string]string{"requested_by": userID}, limit, offset)
}

func (m *mockRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*DrugRequest, int, error) {
	var result []*DrugRequest
	for _, dr := range m.items {
		if v, ok := params["requested_by"]; ok && dr.RequestedBy != v {
			continue
		}
		if v, ok := params["status"]; ok && string(dr.Status) != v {
			continue
		}
		if v, ok := params["drug_name"]; ok && !strings.Contains(strings.ToLower(dr.DrugName), strings.ToLower(v)) {
			continue
		}
		if v := params["batched"]; v == "true" && dr.BatchID == nil || v == "false" && dr.BatchID != nil {
			continue
		}
		result = append(result, dr)
	}
	total := len(result)
	if offset >= len(result) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(result) {
		end = len(result)
	}
	return result[offset:end], total, nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.items[id]; !ok {
		return ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *mockRepo) Reject(_ context.Context, id uuid.UUID) error {
	dr, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	dr.Status = StatusRejected
	dr.BatchID = nil
	return nil
}

func (m *mockRepo) Approve(_ context.Context, id, drugID uuid.UUID) (bool, error) {
	dr, ok := m.items[id]
	if !ok || dr.Status == StatusRejected {
		return false, nil
	}
	dr.Status = StatusApproved
	dr.CreatedDrugID = &drugID
	return true, nil
}

func (m *mockRepo) SetBatch(_ context.Context, id, batchID uuid.UUID) error {
	dr, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	dr.BatchID = &batchID
	return nil
}

func (m *mockRepo) ClearBatch(_ context.Context, id uuid.UUID) error {
	dr, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	dr.BatchID = nil
	return nil
}

func (m *mockRepo) ClearBatchForAll(_ context.Context, batchID uuid.UUID) (int, error) {
	n := 0
	for _, dr := range m.items {
		if dr.BatchID != nil && *dr.BatchID == batchID {
			dr.BatchID = nil
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) ListByBatch(_ context.Context, batchID uuid.UUID) ([]*DrugRequest, error) {
	var result []*DrugRequest
	for _, dr := range m.items {
		if dr.BatchID != nil && *dr.BatchID == batchID {
			result = append(result, dr)
		}
	}
	return result, nil
}

func (m *mockRepo) CountByBatch(ctx context.Context, batchID uuid.UUID) (int, error) {
	items, _ := m.ListByBatch(ctx, batchID)
	return len(items), nil
}

type recordingCache struct {
	invalidations int
	err           error
}

func (c *recordingCache) Get(context.Context, string, string, interface{}) (bool, error) {
	return false, nil
}
func (c *recordingCache) Set(context.Context, string, string, interface{}) error { return nil }
func (c *recordingCache) Invalidate(context.Context, ...string) error {
	c.invalidations++
	return c.err
}

func newTestService() (*Service, *mockRepo, *recordingCache) {
	repo := newMockRepo()
	views := &recordingCache{}
	return NewService(repo, views, zerolog.Nop()), repo, views
}

// -- Tests --

func TestSubmit(t *testing.T) {
	svc, _, _ := newTestService()

	dr, err := svc.Submit(context.Background(), "student-1", "  Metformin \t")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dr.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if dr.DrugName != "Metformin" {
		t.Errorf("expected trimmed name, got %q", dr.DrugName)
	}
	if dr.Status != StatusPending {
		t.Errorf("expected pending, got %s", dr.Status)
	}
	if dr.BatchID != nil {
		t.Error("expected new request to be unbatched")
	}
}

func TestSubmit_Validation(t *testing.T) {
	tests := []struct {
		name     string
		userID   string
		drugName string
		sentinel error
	}{
		{"empty name", "u1", "", ErrInvalidName},
		{"whitespace name", "u1", "   ", ErrInvalidName},
		{"too long", "u1", strings.Repeat("a", MaxNameLength+1), ErrInvalidName},
		{"no user", "", "Advil", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService()
			_, err := svc.Submit(context.Background(), tt.userID, tt.drugName)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.sentinel != nil && !errors.Is(err, tt.sentinel) {
				t.Errorf("expected %v, got %v", tt.sentinel, err)
			}
		})
	}
}

func TestSubmit_MaxLengthCountsCharacters(t *testing.T) {
	svc, _, _ := newTestService()
	name := strings.Repeat("é", MaxNameLength)
	if _, err := svc.Submit(context.Background(), "u1", name); err != nil {
		t.Errorf("expected %d multi-byte characters to be accepted, got %v", MaxNameLength, err)
	}
}

func TestGetForCaller(t *testing.T) {
	svc, _, _ := newTestService()
	dr, _ := svc.Submit(context.Background(), "owner", "Advil")

	tests := []struct {
		name    string
		userID  string
		roles   []string
		wantErr error
	}{
		{"owner", "owner", []string{auth.RoleStudent}, nil},
		{"admin", "someone", []string{auth.RoleAdmin}, nil},
		{"other student", "someone", []string{auth.RoleStudent}, ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := auth.WithUser(context.Background(), tt.userID, tt.roles)
			_, err := svc.GetForCaller(ctx, dr.ID)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestListMine(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	svc.Submit(ctx, "u1", "Advil")
	svc.Submit(ctx, "u1", "Tylenol")
	svc.Submit(ctx, "u2", "Aspirin")

	_, total, err := svc.ListMine(ctx, "u1", 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 {
		t.Errorf("expected 2, got %d", total)
	}
}

func TestSearch_Filters(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	a, _ := svc.Submit(ctx, "u1", "Advil")
	svc.Submit(ctx, "u2", "Tylenol")
	repo.SetBatch(ctx, a.ID, uuid.New())

	_, total, _ := svc.Search(ctx, map[string]string{"batched": "true"}, 20, 0)
	if total != 1 {
		t.Errorf("expected 1 batched, got %d", total)
	}
	_, total, _ = svc.Search(ctx, map[string]string{"batched": "false", "drug_name": "tyl"}, 20, 0)
	if total != 1 {
		t.Errorf("expected 1 unbatched Tylenol, got %d", total)
	}
}

func TestSearch_InvalidFilters(t *testing.T) {
	svc, _, _ := newTestService()
	for _, params := range []map[string]string{
		{"status": "bogus"},
		{"batched": "maybe"},
	} {
		if _, _, err := svc.Search(context.Background(), params, 20, 0); !errors.Is(err, ErrInvalidFilter) {
			t.Errorf("params %v: expected ErrInvalidFilter, got %v", params, err)
		}
	}
}

func TestReject_ClearsBatch(t *testing.T) {
	svc, repo, views := newTestService()
	ctx := context.Background()
	dr, _ := svc.Submit(ctx, "u1", "Advil")
	repo.SetBatch(ctx, dr.ID, uuid.New())

	got, err := svc.Reject(ctx, dr.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusRejected || got.BatchID != nil {
		t.Errorf("expected rejected and unbatched, got %s batch=%v", got.Status, got.BatchID)
	}
	stored := repo.items[dr.ID]
	if stored.Status != StatusRejected || stored.BatchID != nil {
		t.Error("expected stored request to be rejected and unbatched")
	}
	if views.invalidations != 1 {
		t.Errorf("expected batch view invalidation, got %d", views.invalidations)
	}
}

func TestReject_Approved(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	dr, _ := svc.Submit(ctx, "u1", "Advil")
	repo.Approve(ctx, dr.ID, uuid.New())

	if _, err := svc.Reject(ctx, dr.ID); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestReject_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	if _, err := svc.Reject(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	svc, repo, views := newTestService()
	ctx := context.Background()
	dr, _ := svc.Submit(ctx, "u1", "Advil")

	if err := svc.Delete(ctx, dr.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := repo.items[dr.ID]; ok {
		t.Error("expected request to be deleted")
	}
	if views.invalidations != 1 {
		t.Errorf("expected invalidation, got %d", views.invalidations)
	}
	if err := svc.Delete(ctx, dr.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestDelete_CacheFailureLogged(t *testing.T) {
	var buf bytes.Buffer
	views := &recordingCache{err: errors.New("redis down")}
	svc := NewService(newMockRepo(), views, zerolog.New(&buf))

	dr, err := svc.Submit(context.Background(), "student-1", "Advil")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := svc.Delete(context.Background(), dr.ID); err != nil {
		t.Fatalf("expected delete to succeed despite cache failure, got %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, "redis down") {
		t.Errorf("expected a warning with the cache error, got %q", out)
	}
}
