package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"deepresearch/internal/engine"
	"deepresearch/internal/state"
	"deepresearch/internal/store"
)

type downCompleter struct{}

func (downCompleter) Complete(context.Context, []state.Message, string) (string, error) {
	return "", errors.New("llm down")
}

type downInvoker struct{}

func (downInvoker) Invoke(_ context.Context, name string, _ map[string]any) (any, error) {
	return nil, fmt.Errorf("%s down", name)
}

func newTestHandler(t *testing.T) *ResearchHandler {
	t.Helper()
	facts, err := store.NewMemoryStore()
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	llm := downCompleter{}
	supervisor := engine.NewSupervisorEngine(llm, downInvoker{}, nil, nil)
	supervisor.MaxIterations = 1
	master := engine.NewMasterPipeline(llm, engine.NewLLMClarifier(llm), supervisor, nil, nil)
	return &ResearchHandler{
		Master:  master,
		Facts:   facts,
		Logger:  log.New(log.Writer(), "[HTTP] ", log.LstdFlags),
		Timeout: 5 * time.Second,
	}
}

func TestResearchRunDegradesToReport(t *testing.T) {
	h := newTestHandler(t)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/research", strings.NewReader(`{"query":"Research the state of battery recycling"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.run(e.NewContext(req, rec)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Final Research Report") {
		t.Fatalf("expected degraded report in body: %s", rec.Body.String())
	}
}

func TestResearchRunRejectsEmptyQuery(t *testing.T) {
	h := newTestHandler(t)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/research", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	err := h.run(e.NewContext(req, rec))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestFactsEndpoint(t *testing.T) {
	h := newTestHandler(t)
	ctx := context.Background()
	if err := h.Facts.SaveFacts(ctx, []state.Fact{
		state.NewFact("stored fact with enough substance", "test", 80),
	}); err != nil {
		t.Fatalf("SaveFacts: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/facts", nil)
	rec := httptest.NewRecorder()
	if err := h.facts(e.NewContext(req, rec)); err != nil {
		t.Fatalf("facts: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "stored fact with enough substance") {
		t.Fatalf("fact missing from response: %s", rec.Body.String())
	}
}

func TestAuthMiddleware(t *testing.T) {
	secret := []byte("test-secret")
	token, err := SignJWT("user-1", secret, time.Hour)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}

	e := echo.New()
	handler := EchoAuthMiddleware(secret)(func(c echo.Context) error {
		return c.String(http.StatusOK, c.Get("user_id").(string))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("middleware: %v", err)
	}
	if rec.Body.String() != "user-1" {
		t.Fatalf("expected subject, got %q", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	err = handler(e.NewContext(req, httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestIsDue(t *testing.T) {
	hourAgo := time.Now().Add(-time.Hour)
	dayAgo := time.Now().Add(-25 * time.Hour)
	justNow := time.Now().Add(-time.Minute)

	cases := []struct {
		name string
		spec string
		last *time.Time
		want bool
	}{
		{"hourly due", "@hourly", &hourAgo, true},
		{"hourly not due", "@hourly", &justNow, false},
		{"daily due", "@daily", &dayAgo, true},
		{"never run", "@daily", nil, true},
		{"cron due", "0 * * * *", &hourAgo, true},
		{"invalid falls back to daily", "nonsense", &justNow, false},
	}
	for _, tc := range cases {
		if got := isDue(tc.spec, tc.last); got != tc.want {
			t.Fatalf("%s: want %v, got %v", tc.name, tc.want, got)
		}
	}
}
