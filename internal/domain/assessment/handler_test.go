package assessment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo, *testEnv) {
	env := newTestEnv(t, 0)
	return NewHandler(env.svc), echo.New(), env
}

func TestHandler_Start(t *testing.T) {
	h, e, env := newTestHandler(t)
	body := `{"patient_id":"` + uuid.New().String() + `","scale_definition_id":"` + env.def.ID.String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.Start(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}

func TestHandler_Start_BadRequest(t *testing.T) {
	h, e, _ := newTestHandler(t)
	body := `{"patient_id":"` + uuid.New().String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.Start(c); err == nil {
		t.Error("expected error for missing scale reference")
	}
}

func TestHandler_RecordAnswer(t *testing.T) {
	h, e, env := newTestHandler(t)
	a := env.start(t)
	body := `{"item_id":"w1","value":"2","response_time_ms":1200}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.RecordAnswer(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_Complete(t *testing.T) {
	h, e, env := newTestHandler(t)
	a := env.start(t)
	for _, item := range []string{"w1", "w2", "w3", "w4", "w5"} {
		env.answer(t, a.ID, item, "0")
	}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.Complete(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"severity_level":"low"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestHandler_Complete_Conflict(t *testing.T) {
	h, e, env := newTestHandler(t)
	a := env.start(t)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	err := h.Complete(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Errorf("expected 409 for completing an untouched assessment, got %v", err)
	}
}

func TestHandler_Rescore(t *testing.T) {
	h, e, env := newTestHandler(t)
	a := env.start(t)
	for _, item := range []string{"w1", "w2", "w3", "w4", "w5"} {
		env.answer(t, a.ID, item, "2")
	}
	if _, err := env.svc.Complete(context.Background(), a.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.Rescore(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_Alerts(t *testing.T) {
	h, e, env := newTestHandler(t)
	a := env.start(t)
	for _, item := range []string{"w1", "w2", "w3", "w4"} {
		env.answer(t, a.ID, item, "0")
	}
	env.answer(t, a.ID, "w5", "2")
	if _, err := env.svc.Complete(context.Background(), a.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/?patient_id="+a.PatientID.String(), nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.Alerts(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"item_id":"w5"`) {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestHandler_Alerts_MissingPatient(t *testing.T) {
	h, e, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.Alerts(c); err == nil {
		t.Error("expected error for missing patient_id")
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e, _ := newTestHandler(t)
	api := e.Group("/api/v1")
	h.RegisterRoutes(api)
	routePaths := make(map[string]bool)
	for _, r := range e.Routes() {
		routePaths[r.Method+":"+r.Path] = true
	}
	expected := []string{
		"POST:/api/v1/assessments",
		"GET:/api/v1/assessments",
		"GET:/api/v1/assessments/:id",
		"POST:/api/v1/assessments/:id/answers",
		"GET:/api/v1/assessments/:id/answers",
		"POST:/api/v1/assessments/:id/complete",
		"POST:/api/v1/assessments/:id/abandon",
		"POST:/api/v1/assessments/:id/rescore",
		"GET:/api/v1/assessments/:id/results",
		"GET:/api/v1/assessments/:id/results/latest",
		"GET:/api/v1/alerts",
		"POST:/api/v1/alerts/:id/acknowledge",
	}
	for _, path := range expected {
		if !routePaths[path] {
			t.Errorf("missing expected route: %s", path)
		}
	}
}
