package drugbatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/rxlearn/rxlearn/internal/platform/archive"
	"github.com/rxlearn/rxlearn/internal/platform/auth"
	"github.com/rxlearn/rxlearn/internal/platform/enrichment"
	"github.com/rxlearn/rxlearn/internal/platform/reporting"
)

// newRoutedServer mounts the batch routes the way the server does, so role
// checks are exercised too.
func newRoutedServer(f *fixture) *echo.Echo {
	e := echo.New()
	NewHandler(f.svc).RegisterRoutes(e.Group("/api/v1"))
	return e
}

func serve(e *echo.Echo, method, path string, roles ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req = req.WithContext(auth.WithUser(req.Context(), "admin-1", roles))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) Result {
	t.Helper()
	var res Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v (%s)", err, rec.Body.String())
	}
	return res
}

func TestHandler_Process(t *testing.T) {
	f := newFixture()
	e := newRoutedServer(f)
	id, _ := f.batchOf(t, "Advil")
	f.enrich = returns(enrichment.Record{BrandName: "Advil", GenericName: "Ibuprofen"})

	rec := serve(e, http.MethodPost, "/api/v1/admin/drug-batches/"+id.String()+"/process", auth.RoleAdmin)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if res := decodeResult(t, rec); !res.Success {
		t.Errorf("expected success, got %+v", res)
	}
}

func TestHandler_RoutineFailureIs200(t *testing.T) {
	f := newFixture()
	e := newRoutedServer(f)

	rec := serve(e, http.MethodPost, "/api/v1/admin/drug-batches/"+uuid.NewString()+"/process", auth.RoleAdmin)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if res := decodeResult(t, rec); res.Success || res.Message != MsgBatchEmpty {
		t.Errorf("unexpected result %+v", res)
	}

	rec = serve(e, http.MethodDelete, "/api/v1/admin/drug-batches/"+uuid.NewString(), auth.RoleAdmin)
	if res := decodeResult(t, rec); rec.Code != http.StatusOK || res.Message != MsgBatchNotFound {
		t.Errorf("expected 200 %q, got %d %+v", MsgBatchNotFound, rec.Code, res)
	}
}

func TestHandler_InvalidID(t *testing.T) {
	f := newFixture()
	e := newRoutedServer(f)

	for _, path := range []string{
		"/api/v1/admin/drug-batches/not-a-uuid/process",
		"/api/v1/admin/drug-requests/not-a-uuid/assign",
		"/api/v1/admin/drug-requests/not-a-uuid/unassign",
	} {
		if rec := serve(e, http.MethodPost, path, auth.RoleAdmin); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestHandler_RequiresAdmin(t *testing.T) {
	f := newFixture()
	e := newRoutedServer(f)

	rec := serve(e, http.MethodGet, "/api/v1/admin/drug-batches", auth.RoleInstructor)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for instructor, got %d", rec.Code)
	}
}

func TestHandler_AssignAndUnassign(t *testing.T) {
	f := newFixture()
	e := newRoutedServer(f)
	r := f.requests.add("Advil")

	rec := serve(e, http.MethodPost, "/api/v1/admin/drug-requests/"+r.ID.String()+"/assign", auth.RoleAdmin)
	if res := decodeResult(t, rec); !res.Success || res.Message != MsgAssigned {
		t.Fatalf("assign: %+v", res)
	}
	if f.requests.get(r.ID).BatchID == nil {
		t.Fatal("expected request to be batched")
	}

	rec = serve(e, http.MethodPost, "/api/v1/admin/drug-requests/"+r.ID.String()+"/unassign", auth.RoleAdmin)
	if res := decodeResult(t, rec); !res.Success || res.Message != MsgRemoved {
		t.Fatalf("unassign: %+v", res)
	}
}

func TestHandler_ListAndGet(t *testing.T) {
	f := newFixture()
	e := newRoutedServer(f)
	id, _ := f.batchOf(t, "Advil", "Tylenol")

	rec := serve(e, http.MethodGet, "/api/v1/admin/drug-batches?status=open", auth.RoleAdmin)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var page struct {
		Data  []Batch `json:"data"`
		Total int     `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 1 || page.Data[0].MemberCount != 2 {
		t.Errorf("unexpected list %+v", page)
	}

	rec = serve(e, http.MethodGet, "/api/v1/admin/drug-batches?status=bogus", auth.RoleAdmin)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad status, got %d", rec.Code)
	}

	rec = serve(e, http.MethodGet, "/api/v1/admin/drug-batches/"+id.String(), auth.RoleAdmin)
	var b Batch
	json.Unmarshal(rec.Body.Bytes(), &b)
	if rec.Code != http.StatusOK || len(b.Requests) != 2 {
		t.Errorf("get: expected 2 members, got %d (%d)", len(b.Requests), rec.Code)
	}

	rec = serve(e, http.MethodGet, "/api/v1/admin/drug-batches/"+uuid.NewString(), auth.RoleAdmin)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_Export(t *testing.T) {
	f := newFixture()
	e := newRoutedServer(f)
	id, _ := f.batchOf(t, "Advil")

	rec := serve(e, http.MethodGet, "/api/v1/admin/drug-batches/"+id.String()+"/export", auth.RoleAdmin)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != reporting.XLSXContentType {
		t.Errorf("unexpected content type %q", ct)
	}
	if cd := rec.Header().Get(echo.HeaderContentDisposition); !strings.Contains(cd, id.String()) {
		t.Errorf("unexpected content disposition %q", cd)
	}
}

func TestHandler_Archives(t *testing.T) {
	f := newFixture()
	e := newRoutedServer(f)
	id := uuid.New()
	archive.PutJSON(context.Background(), f.archive, archive.BatchKey(id, time.Unix(0, 7)), []byte(`[{"brand_name":"Advil"}]`))

	rec := serve(e, http.MethodGet, "/api/v1/admin/drug-batches/"+id.String()+"/archives", auth.RoleAdmin)
	var objs []archive.Object
	json.Unmarshal(rec.Body.Bytes(), &objs)
	if rec.Code != http.StatusOK || len(objs) != 1 {
		t.Fatalf("expected one archive, got %d (%d)", len(objs), rec.Code)
	}

	rec = serve(e, http.MethodGet, "/api/v1/admin/drug-batches/"+id.String()+"/archives/7.json", auth.RoleAdmin)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Advil") {
		t.Errorf("unexpected archive response %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(e, http.MethodGet, "/api/v1/admin/drug-batches/"+id.String()+"/archives/8.json", auth.RoleAdmin)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
