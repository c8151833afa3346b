package drug

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _ := newTestService()
	return NewHandler(svc), echo.New()
}

func seedDrug(t *testing.T, h *Handler) *Drug {
	t.Helper()
	ctx := context.Background()
	mf, _, _ := h.svc.ResolveManufacturer(ctx, "Bristol")
	cl, _, _ := h.svc.ResolveClass(ctx, []string{"Biguanide"})
	d := &Drug{BrandName: "Glucophage", GenericName: "Metformin", ManufacturerID: mf.ID, ClassID: cl.ID}
	if _, err := h.svc.UpsertDrug(ctx, d); err != nil {
		t.Fatalf("seed drug: %v", err)
	}
	return d
}

func TestHandler_GetDrug(t *testing.T) {
	h, e := newTestHandler()
	d := seedDrug(t, h)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(d.ID.String())

	if err := h.GetDrug(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var got Drug
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.BrandName != "Glucophage" {
		t.Errorf("expected Glucophage, got %s", got.BrandName)
	}
}

func TestHandler_GetDrug_NotFound(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.GetDrug(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_GetDrug_InvalidID(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	err := h.GetDrug(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_SearchDrugs(t *testing.T) {
	h, e := newTestHandler()
	seedDrug(t, h)

	req := httptest.NewRequest(http.MethodGet, "/?q=metf", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.SearchDrugs(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 1 {
		t.Errorf("expected 1 result, got %d", resp.Total)
	}
}

func TestHandler_SearchDrugs_InvalidFilter(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/?class_id=abc", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.SearchDrugs(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_ListReferenceData(t *testing.T) {
	h, e := newTestHandler()
	seedDrug(t, h)

	for name, fn := range map[string]echo.HandlerFunc{
		"manufacturers": h.ListManufacturers,
		"classes":       h.ListClasses,
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
			if err := fn(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var resp struct {
				Total int `json:"total"`
			}
			json.Unmarshal(rec.Body.Bytes(), &resp)
			if resp.Total != 1 {
				t.Errorf("expected 1, got %d", resp.Total)
			}
		})
	}
}
