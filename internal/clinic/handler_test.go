package clinic

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

type mockStore struct {
	configs map[string]*Config
}

func newMockStore() *mockStore {
	return &mockStore{configs: make(map[string]*Config)}
}

func (m *mockStore) GetOrDefault(ctx context.Context, tenantID string) (*Config, error) {
	if cfg, ok := m.configs[tenantID]; ok {
		return cfg, nil
	}
	return DefaultConfig(tenantID), nil
}

func (m *mockStore) Set(ctx context.Context, cfg *Config) error {
	m.configs[cfg.TenantID] = cfg
	return nil
}

func newTestRouter(store configStore) http.Handler {
	r := chi.NewRouter()
	r.Mount("/tenants/{tenantID}/clinic", newHandler(store, nil).Routes())
	return r
}

func TestGetConfig_ReturnsDefault(t *testing.T) {
	router := newTestRouter(newMockStore())

	req := httptest.NewRequest(http.MethodGet, "/tenants/h1/clinic/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var cfg Config
	if err := json.NewDecoder(rr.Body).Decode(&cfg); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if cfg.TenantID != "h1" {
		t.Errorf("expected tenant_id h1, got %s", cfg.TenantID)
	}
}

func TestUpdateConfig_Practitioners(t *testing.T) {
	store := newMockStore()
	router := newTestRouter(store)

	inactive := false
	body, _ := json.Marshal(UpdateConfigRequest{
		Name:     "Glow MedSpa",
		Timezone: "Asia/Riyadh",
		Practitioners: []PractitionerInput{
			{ID: "doc1", Name: "Dr. A"},
			{ID: "doc2", Name: "Dr. B", Active: &inactive},
		},
	})
	req := httptest.NewRequest(http.MethodPut, "/tenants/h1/clinic/", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	saved := store.configs["h1"]
	if saved == nil {
		t.Fatal("expected config to be saved")
	}
	if saved.Name != "Glow MedSpa" || saved.Timezone != "Asia/Riyadh" {
		t.Errorf("unexpected saved config %+v", saved)
	}
	if len(saved.Practitioners) != 2 || !saved.Practitioners[0].Active || saved.Practitioners[1].Active {
		t.Errorf("unexpected practitioners %+v", saved.Practitioners)
	}
}

func TestUpdateConfig_Validation(t *testing.T) {
	router := newTestRouter(newMockStore())

	cases := map[string]string{
		"invalid json":         `{`,
		"bad timezone":         `{"timezone":"Mars/Olympus"}`,
		"practitioner no id":   `{"practitioners":[{"name":"Dr. A"}]}`,
		"slot too small":       `{"slot_minutes":1}`,
		"hours reversed":       `{"business_hours":{"monday":{"open":"18:00","close":"09:00"}}}`,
		"hours not clock time": `{"business_hours":{"monday":{"open":"nine","close":"18:00"}}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/tenants/h1/clinic/", bytes.NewReader([]byte(body)))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rr.Code)
			}
		})
	}
}
