package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSetComponent(t *testing.T) {
	h := NewHealthRegistry("dev")
	h.Set("database", true, "sqlite")

	comp, ok := h.Component("database")
	if !ok {
		t.Fatal("expected component to be registered")
	}
	if !comp.Healthy {
		t.Error("component should be healthy")
	}
	if comp.Message != "sqlite" {
		t.Errorf("expected message 'sqlite', got '%s'", comp.Message)
	}
}

func TestHealth_AllHealthy(t *testing.T) {
	h := NewHealthRegistry("1.0.0")
	h.Set("api", true, "")
	h.Set("hub", true, "")

	health := h.Health()
	if health.Status != "healthy" {
		t.Errorf("expected status 'healthy', got '%s'", health.Status)
	}
	if len(health.Components) != 2 {
		t.Errorf("expected 2 components, got %d", len(health.Components))
	}
	if health.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got '%s'", health.Version)
	}
}

func TestHealth_OneUnhealthy(t *testing.T) {
	h := NewHealthRegistry("")
	h.Set("api", true, "")
	h.Set("database", false, "connection refused")

	health := h.Health()
	if health.Status != "unhealthy" {
		t.Errorf("expected status 'unhealthy', got '%s'", health.Status)
	}
	if health.Components["database"] != "unhealthy: connection refused" {
		t.Errorf("unexpected database status: %s", health.Components["database"])
	}
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(h *HealthRegistry)
		status string
	}{
		{"all ready", func(h *HealthRegistry) {
			h.Set("database", true, "")
			h.Set("hub", true, "")
		}, "ready"},
		{"missing critical", func(h *HealthRegistry) {
			h.Set("database", true, "")
		}, "not_ready"},
		{"critical unhealthy", func(h *HealthRegistry) {
			h.Set("database", false, "migrating schema")
			h.Set("hub", true, "")
		}, "not_ready"},
		{"non-critical ignored", func(h *HealthRegistry) {
			h.Set("database", true, "")
			h.Set("hub", true, "")
			h.Set("janitor", false, "last run failed")
		}, "ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthRegistry("", "database", "hub")
			tt.setup(h)

			readiness := h.Readiness()
			if readiness.Status != tt.status {
				t.Errorf("expected status '%s', got '%s'", tt.status, readiness.Status)
			}
			if tt.status == "not_ready" && readiness.Message == "" {
				t.Error("expected message explaining why not ready")
			}
		})
	}
}

func TestHandlers(t *testing.T) {
	h := NewHealthRegistry("", "database")

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    int
	}{
		{"ready before database", h.ReadyHandler(), http.StatusServiceUnavailable},
		{"health with no components", h.HealthHandler(), http.StatusOK},
		{"liveness", h.LivenessHandler(), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.handler(w, httptest.NewRequest(http.MethodGet, "/", nil))

			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected JSON content type, got %s", ct)
			}
			var body map[string]any
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
		})
	}

	h.Set("database", false, "down")
	w := httptest.NewRecorder()
	h.HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 for unhealthy component, got %d", w.Code)
	}
}
