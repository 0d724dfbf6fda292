package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/policy"

	"github.com/prometheus/client_golang/prometheus"
)

func newAdminServer(t *testing.T, engine *application.Engine, load func([]byte) (*policy.Catalog, error)) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "admin_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	return AdminHandler(AdminOptions{
		Admin:      application.NewAdmin(engine),
		LoadPolicy: load,
		Gatherer:   reg,
	})
}

func TestAdminHandler_InspectSubject(t *testing.T) {
	engine := newTestEngine(t, nil)
	h := newAdminServer(t, engine, nil)
	engine.Evaluate(context.Background(), domain.Request{SourceIP: "10.0.0.1"})

	w := serve(h, http.MethodGet, "http://admin/admin/v1/subjects?ip=10.0.0.1", "127.0.0.1:1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var snap application.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snap.Tiers) != 1 || snap.Tiers[0].Count != 1 || snap.Tiers[0].Remaining != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if len(snap.Penalties) != 1 || snap.Penalties[0].Subject != "ip:10.0.0.1" {
		t.Fatalf("unexpected penalties %+v", snap.Penalties)
	}
}

func TestAdminHandler_ClearViolations(t *testing.T) {
	h := newAdminServer(t, newTestEngine(t, nil), nil)

	if w := serve(h, http.MethodDelete, "http://admin/admin/v1/violations/ip/10.0.0.1", "127.0.0.1:1", nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w := serve(h, http.MethodDelete, "http://admin/admin/v1/violations/global/x", "127.0.0.1:1", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for shared scope, got %d", w.Code)
	}
	if w := serve(h, http.MethodGet, "http://admin/admin/v1/violations/ip/10.0.0.1", "127.0.0.1:1", nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", w.Code)
	}
}

func TestAdminHandler_GetPolicy(t *testing.T) {
	h := newAdminServer(t, newTestEngine(t, nil), nil)

	w := serve(h, http.MethodGet, "http://admin/admin/v1/policy", "127.0.0.1:1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var view policyView
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !view.Enabled || view.KeyPrefix != "rl" || len(view.Rules) != 1 {
		t.Fatalf("unexpected policy view %+v", view)
	}
	if view.Rules[0].Name != "ip" || view.Rules[0].WindowSeconds != 60 || view.Rules[0].Fingerprint == "" {
		t.Fatalf("unexpected rule view %+v", view.Rules[0])
	}
}

func TestAdminHandler_PutPolicySwapsCatalog(t *testing.T) {
	engine := newTestEngine(t, nil)
	load := func(body []byte) (*policy.Catalog, error) {
		if strings.TrimSpace(string(body)) == "broken" {
			return nil, &domain.ConfigurationError{Field: "defaults.ip", Reason: "requests must be positive"}
		}
		return policy.New(policy.Tiers{Enabled: false})
	}
	h := newAdminServer(t, engine, load)

	r := httptest.NewRequest(http.MethodPut, "http://admin/admin/v1/policy", strings.NewReader("broken"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on invalid policy, got %d", w.Code)
	}
	if !engine.Policy().Enabled() {
		t.Fatalf("invalid policy must not replace the current one")
	}

	r = httptest.NewRequest(http.MethodPut, "http://admin/admin/v1/policy", strings.NewReader("enabled: false"))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if engine.Policy().Enabled() {
		t.Fatalf("expected new policy to be active")
	}
}

func TestAdminHandler_PutPolicyWithoutLoader(t *testing.T) {
	h := newAdminServer(t, newTestEngine(t, nil), nil)
	r := httptest.NewRequest(http.MethodPut, "http://admin/admin/v1/policy", strings.NewReader("x"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", w.Code)
	}
}

func TestAdminHandler_HealthAndMetrics(t *testing.T) {
	engine := newTestEngine(t, nil)
	h := AdminHandler(AdminOptions{
		Admin:    application.NewAdmin(engine),
		Health:   func(context.Context) error { return errors.New("redis down") },
		Gatherer: prometheus.NewRegistry(),
	})

	w := serve(h, http.MethodGet, "http://admin/healthz", "127.0.0.1:1", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "degraded") {
		t.Fatalf("expected degraded health, got %d %s", w.Code, w.Body.String())
	}

	m := serve(newAdminServer(t, engine, nil), http.MethodGet, "http://admin/metrics", "127.0.0.1:1", nil)
	if m.Code != http.StatusOK || !strings.Contains(m.Body.String(), "admin_test_total 1") {
		t.Fatalf("expected metrics exposition, got %d %s", m.Code, m.Body.String())
	}
}
