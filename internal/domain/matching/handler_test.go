package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/meditatva/connect/internal/platform/auth"
)

// newTestServer wires the handler behind a stub identity middleware so role
// checks run against a fixed caller.
func newTestServer(svc *Service, ident auth.Identity) *echo.Echo {
	e := echo.New()
	api := e.Group("", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithIdentity(c.Request().Context(), ident)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	NewHandler(svc).RegisterRoutes(api)
	return e
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

var (
	patientIdent  = auth.Identity{UserID: "pt-1", Role: auth.RolePatient}
	pharmacyAID   = auth.Identity{UserID: "ph-a", Role: auth.RolePharmacy}
	pharmacyBID   = auth.Identity{UserID: "ph-b", Role: auth.RolePharmacy}
)

const createBody = `{
	"medicines": [{"name": "Paracetamol", "quantity": 2}],
	"urgency": "normal",
	"origin": {"lat": 30.77, "lon": 76.57},
	"address": "Sector 17"
}`

func TestHandler_CreateRequest(t *testing.T) {
	svc, _, _ := newTestService()
	e := newTestServer(svc, patientIdent)

	rec := doJSON(e, http.MethodPost, "/requests", createBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var req Request
	if err := json.Unmarshal(rec.Body.Bytes(), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Status != StatusOpen {
		t.Errorf("expected open, got %s", req.Status)
	}
	if req.PatientID != "pt-1" {
		t.Errorf("expected owner pt-1, got %s", req.PatientID)
	}
}

func TestHandler_CreateRequest_PharmacyForbidden(t *testing.T) {
	svc, _, _ := newTestService()
	e := newTestServer(svc, pharmacyAID)

	rec := doJSON(e, http.MethodPost, "/requests", createBody)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandler_CreateRequest_ValidationError(t *testing.T) {
	svc, _, _ := newTestService()
	e := newTestServer(svc, patientIdent)

	rec := doJSON(e, http.MethodPost, "/requests", `{"medicines": [], "origin": {"lat": 30.77, "lon": 76.57}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_ResponseLifecycle(t *testing.T) {
	svc, _, _ := newTestService()
	req := createOpenRequest(t, svc)

	phA := newTestServer(svc, pharmacyAID)
	phB := newTestServer(svc, pharmacyBID)
	patient := newTestServer(svc, patientIdent)

	respBody := `{"items": [{"medicineName": "Paracetamol", "available": true, "unitPrice": 1200, "stock": 10}], "estimatedTime": "30 min"}`
	base := fmt.Sprintf("/requests/%s", req.ID)

	if rec := doJSON(phA, http.MethodPost, base+"/responses", respBody); rec.Code != http.StatusCreated {
		t.Fatalf("submit: expected 201, got %d: %s", rec.Code, rec.Body)
	}
	if rec := doJSON(phA, http.MethodPost, base+"/responses", respBody); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate submit: expected 409, got %d", rec.Code)
	}

	if rec := doJSON(patient, http.MethodPost, base+"/accept", `{"pharmacyId": "ph-a"}`); rec.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if rec := doJSON(phB, http.MethodPost, base+"/responses", respBody); rec.Code != http.StatusConflict {
		t.Fatalf("submit after accept: expected 409, got %d", rec.Code)
	}

	// ready is not reachable from accepted.
	if rec := doJSON(phA, http.MethodPatch, base+"/status", `{"status": "ready"}`); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid transition: expected 422, got %d", rec.Code)
	}
	if rec := doJSON(phA, http.MethodPatch, base+"/status", `{"status": "preparing"}`); rec.Code != http.StatusOK {
		t.Fatalf("preparing: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if rec := doJSON(phB, http.MethodPatch, base+"/status", `{"status": "ready"}`); rec.Code != http.StatusForbidden {
		t.Fatalf("third party status update: expected 403, got %d", rec.Code)
	}

	if rec := doJSON(patient, http.MethodPost, base+"/messages", `{"content": "thanks"}`); rec.Code != http.StatusCreated {
		t.Fatalf("message: expected 201, got %d: %s", rec.Code, rec.Body)
	}
}

func TestHandler_GetRequest(t *testing.T) {
	svc, _, _ := newTestService()
	req := createOpenRequest(t, svc)
	e := newTestServer(svc, patientIdent)

	rec := doJSON(e, http.MethodGet, fmt.Sprintf("/requests/%s", req.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doJSON(e, http.MethodGet, fmt.Sprintf("/requests/%s", uuid.New()), "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = doJSON(e, http.MethodGet, "/requests/not-a-uuid", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_FindNearby(t *testing.T) {
	svc, _, _ := newTestService()
	createOpenRequest(t, svc)
	e := newTestServer(svc, pharmacyAID)

	rec := doJSON(e, http.MethodGet, "/requests/nearby?lat=30.77&lon=76.57&radius=25", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var page struct {
		Data  []*Request `json:"data"`
		Total int        `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if page.Total != 1 || len(page.Data) != 1 {
		t.Fatalf("expected 1 request, got %d (total %d)", len(page.Data), page.Total)
	}
	if page.Data[0].DistanceKm == nil {
		t.Error("expected distance annotation")
	}
}

func TestHandler_FindNearby_MissingCoordinates(t *testing.T) {
	svc, _, _ := newTestService()
	e := newTestServer(svc, pharmacyAID)

	rec := doJSON(e, http.MethodGet, "/requests/nearby", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without coordinates or token location, got %d", rec.Code)
	}
}

func TestHandler_ListRequests_ByRole(t *testing.T) {
	svc, _, _ := newTestService()
	req := createOpenRequest(t, svc)
	if _, err := svc.SubmitResponse(context.Background(), "ph-a", req.ID, SubmitResponseInput{Items: submitItems(500)}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	for _, tc := range []struct {
		ident auth.Identity
		want  int
	}{
		{patientIdent, 1},
		{pharmacyAID, 1},
		{pharmacyBID, 0},
	} {
		e := newTestServer(svc, tc.ident)
		rec := doJSON(e, http.MethodGet, "/requests", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tc.ident.UserID, rec.Code)
		}
		var page struct {
			Total int `json:"total"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if page.Total != tc.want {
			t.Errorf("%s: expected %d requests, got %d", tc.ident.UserID, tc.want, page.Total)
		}
	}
}

func TestHTTPErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{ErrValidation, http.StatusBadRequest},
		{ErrDuplicateResponse, http.StatusConflict},
		{ErrRequestClosed, http.StatusConflict},
		{ErrNotFound, http.StatusNotFound},
		{ErrResponseNotFound, http.StatusNotFound},
		{ErrUnauthorized, http.StatusForbidden},
		{ErrInvalidTransition, http.StatusUnprocessableEntity},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := httpError(fmt.Errorf("wrapped: %w", tc.err)); got.Code != tc.code {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.code, got.Code)
		}
	}
}
