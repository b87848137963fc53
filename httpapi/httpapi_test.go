package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"sortctl/config"
	"sortctl/core"
	"sortctl/gpio"
)

func newTestServer(t *testing.T, authEnabled bool) (*Server, *core.Orchestrator) {
	t.Helper()
	dir := t.TempDir()
	cfgStore := config.NewStore(dir)
	if err := cfgStore.Save(config.Document{TimingConfig: config.DefaultTiming(), LanesConfig: config.DefaultLanes()}); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	orch, err := core.NewOrchestrator(cfgStore, gpio.NewMock(), nil, authEnabled)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return NewServer(orch, Config{AuthEnabled: authEnabled, Username: "admin", Password: "secret"}), orch
}

func TestGetConfigReturnsDocument(t *testing.T) {
	s, _ := newTestServer(t, false)
	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var doc config.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(doc.LanesConfig) != 4 {
		t.Fatalf("expected 4 lanes, got %d", len(doc.LanesConfig))
	}
}

func TestAuthRequiredWhenEnabled(t *testing.T) {
	s, _ := newTestServer(t, true)
	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/config", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status with valid credentials = %d, want 200", rec.Code)
	}
}

func TestUpdateConfigFlagsRestartOnGPIOModeChange(t *testing.T) {
	s, _ := newTestServer(t, false)
	body := bytes.NewBufferString(`{"timing_config":{"gpio_mode":"BOARD","cycle_delay":0.3,"settle_delay":0.2,"sensor_debounce":0.1}}`)
	req := httptest.NewRequest(http.MethodPost, "/update_config", body)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		RestartRequired bool `json:"restart_required"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.RestartRequired {
		t.Fatal("expected restart_required=true for a gpio_mode change")
	}
}

func TestQueueResetRejectedDuringMaintenance(t *testing.T) {
	s, orch := newTestServer(t, false)
	orch.Maint.Trigger("forced for test")

	req := httptest.NewRequest(http.MethodPost, "/api/queue/reset", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestMockGPIOAcceptedAgainstMockProvider(t *testing.T) {
	dir := t.TempDir()
	cfgStore := config.NewStore(dir)
	_ = cfgStore.Save(config.Document{TimingConfig: config.DefaultTiming(), LanesConfig: config.DefaultLanes()})

	orch, err := core.NewOrchestrator(cfgStore, gpio.NewMock(), nil, false)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	s := NewServer(orch, Config{})

	body := bytes.NewBufferString(`{"lane_index":0,"state":true}`)
	req := httptest.NewRequest(http.MethodPost, "/api/mock_gpio", body)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected mock provider to accept injection, status=%d body=%s", rec.Code, rec.Body.String())
	}
}

// nonMockProvider keeps the in-memory pin map (so startup pin setup
// succeeds off hardware) but is not a *gpio.Mock and reports IsMock false.
type nonMockProvider struct{ *gpio.Mock }

func (nonMockProvider) IsMock() bool { return false }

func TestMockGPIORejectedWhenNotMockProvider(t *testing.T) {
	dir := t.TempDir()
	cfgStore := config.NewStore(dir)
	_ = cfgStore.Save(config.Document{TimingConfig: config.DefaultTiming(), LanesConfig: config.DefaultLanes()})

	orch, err := core.NewOrchestrator(cfgStore, nonMockProvider{gpio.NewMock()}, nil, false)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	s := NewServer(orch, Config{})

	body := bytes.NewBufferString(`{"lane_index":0,"state":true}`)
	req := httptest.NewRequest(http.MethodPost, "/api/mock_gpio", body)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 against a non-mock provider", rec.Code)
	}
}

func TestMockGPIOAddressesEntryPinAtLaneCount(t *testing.T) {
	s, orch := newTestServer(t, false)
	n := orch.Store.LaneCount()

	body := bytes.NewBufferString(`{"lane_index":` + strconv.Itoa(n) + `,"state":true}`)
	req := httptest.NewRequest(http.MethodPost, "/api/mock_gpio", body)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Pin int `json:"pin"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Pin != config.DefaultEntryPin {
		t.Fatalf("pin = %d, want %d", resp.Pin, config.DefaultEntryPin)
	}
}
