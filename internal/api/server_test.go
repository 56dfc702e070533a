package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gridpulse/gridpulse-core/internal/auth"
	"github.com/gridpulse/gridpulse-core/internal/device"
	"github.com/gridpulse/gridpulse-core/internal/infrastructure/config"
	"github.com/gridpulse/gridpulse-core/internal/infrastructure/database"
	"github.com/gridpulse/gridpulse-core/internal/infrastructure/logging"
	"github.com/gridpulse/gridpulse-core/internal/store"
	"github.com/gridpulse/gridpulse-core/internal/telemetry"
	_ "github.com/gridpulse/gridpulse-core/migrations"
)

var testBase = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

// testServer builds a Server backed by a migrated temp-file SQLite
// registry and a fresh in-memory store. Auth is disabled; tests that
// exercise it use testServerWithAuth.
func testServer(t *testing.T) (*Server, *device.Registry, *store.Store) {
	t.Helper()
	return newTestServer(t, config.AuthConfig{Enabled: false}, nil)
}

// testServerWithAuth enables JWT auth and bootstraps an admin account.
func testServerWithAuth(t *testing.T) (*Server, *device.Registry, *store.Store) {
	t.Helper()

	db := setupTestDB(t)
	users := auth.NewUserRepository(db)
	svc := auth.NewService(users, "test-secret-at-least-32-characters!!", 15*time.Minute)
	if err := svc.Bootstrap(context.Background(), "admin", "bootstrap-password"); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	srv, registry, st := newTestServerOn(t, db, config.AuthConfig{Enabled: true}, svc)
	return srv, registry, st
}

func newTestServer(t *testing.T, authCfg config.AuthConfig, svc *auth.Service) (*Server, *device.Registry, *store.Store) {
	t.Helper()
	return newTestServerOn(t, setupTestDB(t), authCfg, svc)
}

func newTestServerOn(t *testing.T, db *database.DB, authCfg config.AuthConfig, svc *auth.Service) (*Server, *device.Registry, *store.Store) {
	t.Helper()

	repo := device.NewSQLiteRepository(db)
	registry := device.NewRegistry(repo)
	if err := registry.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}

	st := store.New(store.Config{RetentionHorizon: time.Hour})
	t.Cleanup(st.Close)

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		AuthCfg:  authCfg,
		Logger:   log,
		Registry: registry,
		Store:    st,
		Auth:     svc,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	srv.ctx, srv.cancel = context.WithCancel(context.Background())
	srv.startedAt = time.Now()
	t.Cleanup(srv.cancel)

	return srv, registry, st
}

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func registerMeter(t *testing.T, registry *device.Registry, id string) {
	t.Helper()
	err := registry.Register(context.Background(), &device.Device{
		ID:       id,
		Name:     "Meter " + id,
		Protocol: device.ProtocolMQTT,
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", id, err)
	}
}

func appendReading(t *testing.T, st *store.Store, deviceID, metric string, value float64, ts time.Time) {
	t.Helper()
	err := st.Append(telemetry.Reading{
		DeviceID:   deviceID,
		Metric:     metric,
		Value:      value,
		Unit:       "W",
		SourceTime: ts,
		ReceivedAt: ts,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func doRequest(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return resp
}

// ─── Health and middleware ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	w := doRequest(router, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decodeBody(t, w)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

func TestRequestIDGenerated(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	w := doRequest(router, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestIDPreservesClient(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

// ─── Devices ───────────────────────────────────────────────────────

func TestListDevicesEmpty(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	w := doRequest(router, http.MethodGet, "/api/v1/devices", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	resp := decodeBody(t, w)
	if int(resp["count"].(float64)) != 0 {
		t.Errorf("count = %v, want 0", resp["count"])
	}
}

func TestCreateAndGetDevice(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	body := `{"id": "meter-01", "name": "Main Meter", "protocol": "mqtt"}`
	w := doRequest(router, http.MethodPost, "/api/v1/devices", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	w = doRequest(router, http.MethodGet, "/api/v1/devices/meter-01", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decodeBody(t, w)
	if resp["name"] != "Main Meter" {
		t.Errorf("name = %v, want Main Meter", resp["name"])
	}
	if resp["protocol"] != "mqtt" {
		t.Errorf("protocol = %v, want mqtt", resp["protocol"])
	}
}

func TestCreateDeviceDuplicate(t *testing.T) {
	srv, registry, _ := testServer(t)
	router := srv.buildRouter()
	registerMeter(t, registry, "meter-01")

	body := `{"id": "meter-01", "protocol": "mqtt"}`
	w := doRequest(router, http.MethodPost, "/api/v1/devices", body)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestCreateDeviceInvalidProtocol(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	body := `{"id": "meter-01", "protocol": "zigbee"}`
	w := doRequest(router, http.MethodPost, "/api/v1/devices", body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestGetDeviceNotFound(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	w := doRequest(router, http.MethodGet, "/api/v1/devices/ghost", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestUpdateDevice(t *testing.T) {
	srv, registry, _ := testServer(t)
	router := srv.buildRouter()
	registerMeter(t, registry, "meter-01")

	body := `{"name": "Renamed Meter", "manufacturer": "Acme"}`
	w := doRequest(router, http.MethodPatch, "/api/v1/devices/meter-01", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["name"] != "Renamed Meter" {
		t.Errorf("name = %v, want Renamed Meter", resp["name"])
	}
	if resp["manufacturer"] != "Acme" {
		t.Errorf("manufacturer = %v, want Acme", resp["manufacturer"])
	}
}

func TestRetireAndReinstateDevice(t *testing.T) {
	srv, registry, _ := testServer(t)
	router := srv.buildRouter()
	registerMeter(t, registry, "meter-01")

	w := doRequest(router, http.MethodPost, "/api/v1/devices/meter-01/retire", "")
	if w.Code != http.StatusOK {
		t.Fatalf("retire status = %d, want %d", w.Code, http.StatusOK)
	}
	if resp := decodeBody(t, w); resp["retired"] != true {
		t.Errorf("retired = %v, want true", resp["retired"])
	}

	w = doRequest(router, http.MethodPost, "/api/v1/devices/meter-01/reinstate", "")
	if w.Code != http.StatusOK {
		t.Fatalf("reinstate status = %d, want %d", w.Code, http.StatusOK)
	}
	if resp := decodeBody(t, w); resp["retired"] != false {
		t.Errorf("retired = %v, want false", resp["retired"])
	}
}

func TestDeviceStats(t *testing.T) {
	srv, registry, _ := testServer(t)
	router := srv.buildRouter()
	registerMeter(t, registry, "meter-01")
	registerMeter(t, registry, "meter-02")

	w := doRequest(router, http.MethodGet, "/api/v1/devices/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decodeBody(t, w)
	if int(resp["total"].(float64)) != 2 {
		t.Errorf("total = %v, want 2", resp["total"])
	}
}

// ─── Readings ──────────────────────────────────────────────────────

func TestLatestReading(t *testing.T) {
	srv, registry, st := testServer(t)
	router := srv.buildRouter()
	registerMeter(t, registry, "meter-01")
	appendReading(t, st, "meter-01", "power", 1500, testBase)
	appendReading(t, st, "meter-01", "power", 1750, testBase.Add(time.Minute))

	w := doRequest(router, http.MethodGet, "/api/v1/devices/meter-01/latest/power", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["value"].(float64) != 1750 {
		t.Errorf("value = %v, want 1750", resp["value"])
	}
}

func TestLatestUnknownDevice(t *testing.T) {
	srv, _, _ := testServer(t)
	router := srv.buildRouter()

	w := doRequest(router, http.MethodGet, "/api/v1/devices/ghost/latest/power", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestLatestUnknownMetric(t *testing.T) {
	srv, registry, _ := testServer(t)
	router := srv.buildRouter()
	registerMeter(t, registry, "meter-01")

	w := doRequest(router, http.MethodGet, "/api/v1/devices/meter-01/latest/voltage", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHistoryWindow(t *testing.T) {
	srv, registry, st := testServer(t)
	router := srv.buildRouter()
	registerMeter(t, registry, "meter-01")
	for i := 0; i < 5; i++ {
		appendReading(t, st, "meter-01", "power", float64(100*i), testBase.Add(time.Duration(i)*time.Minute))
	}

	path := fmt.Sprintf("/api/v1/devices/meter-01/history/power?from=%s&to=%s",
		testBase.Add(time.Minute).Format(time.RFC3339),
		testBase.Add(3*time.Minute).Format(time.RFC3339))
	w := doRequest(router, http.MethodGet, path, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	resp := decodeBody(t, w)
	if int(resp["count"].(float64)) != 3 {
		t.Errorf("count = %v, want 3", resp["count"])
	}
}

func TestHistoryEmptyWindowIsNoContent(t *testing.T) {
	srv, registry, st := testServer(t)
	router := srv.buildRouter()
	registerMeter(t, registry, "meter-01")
	appendReading(t, st, "meter-01", "power", 1500, testBase)

	path := fmt.Sprintf("/api/v1/devices/meter-01/history/power?from=%s&to=%s",
		testBase.Add(time.Hour).Format(time.RFC3339),
		testBase.Add(2*time.Hour).Format(time.RFC3339))
	w := doRequest(router, http.MethodGet, path, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

func TestHistoryInvalidRange(t *testing.T) {
	srv, registry, st := testServer(t)
	router := srv.buildRouter()
	registerMeter(t, registry, "meter-01")
	appendReading(t, st, "meter-01", "power", 1500, testBase)

	path := fmt.Sprintf("/api/v1/devices/meter-01/history/power?from=%s&to=%s",
		testBase.Add(time.Hour).Format(time.RFC3339),
		testBase.Format(time.RFC3339))
	w := doRequest(router, http.MethodGet, path, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHistoryMalformedTimestamp(t *testing.T) {
	srv, registry, _ := testServer(t)
	router := srv.buildRouter()
	registerMeter(t, registry, "meter-01")

	w := doRequest(router, http.MethodGet, "/api/v1/devices/meter-01/history/power?from=yesterday", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHistoryStoreClosedIsUnavailable(t *testing.T) {
	srv, registry, st := testServer(t)
	router := srv.buildRouter()
	registerMeter(t, registry, "meter-01")
	appendReading(t, st, "meter-01", "power", 1500, testBase)
	st.Close()

	w := doRequest(router, http.MethodGet, "/api/v1/devices/meter-01/history/power", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestSummary(t *testing.T) {
	srv, registry, st := testServer(t)
	router := srv.buildRouter()
	registerMeter(t, registry, "meter-01")
	appendReading(t, st, "meter-01", "power", 100, testBase)
	appendReading(t, st, "meter-01", "power", 200, testBase.Add(time.Minute))
	appendReading(t, st, "meter-01", "power", 300, testBase.Add(2*time.Minute))

	path := fmt.Sprintf("/api/v1/devices/meter-01/summary/power?from=%s&to=%s",
		testBase.Format(time.RFC3339),
		testBase.Add(time.Hour).Format(time.RFC3339))
	w := doRequest(router, http.MethodGet, path, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["min"].(float64) != 100 {
		t.Errorf("min = %v, want 100", resp["min"])
	}
	if resp["max"].(float64) != 300 {
		t.Errorf("max = %v, want 300", resp["max"])
	}
	if resp["mean"].(float64) != 200 {
		t.Errorf("mean = %v, want 200", resp["mean"])
	}
}

func TestSummaryEmptyWindowIsNoContent(t *testing.T) {
	srv, registry, st := testServer(t)
	router := srv.buildRouter()
	registerMeter(t, registry, "meter-01")
	appendReading(t, st, "meter-01", "power", 100, testBase)

	path := fmt.Sprintf("/api/v1/devices/meter-01/summary/power?from=%s&to=%s",
		testBase.Add(time.Hour).Format(time.RFC3339),
		testBase.Add(2*time.Hour).Format(time.RFC3339))
	w := doRequest(router, http.MethodGet, path, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

// ─── Metrics ───────────────────────────────────────────────────────

func TestMetricsEndpoint(t *testing.T) {
	srv, registry, st := testServer(t)
	router := srv.buildRouter()
	registerMeter(t, registry, "meter-01")
	appendReading(t, st, "meter-01", "power", 100, testBase)

	w := doRequest(router, http.MethodGet, "/api/v1/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decodeBody(t, w)
	storeStats, ok := resp["store"].(map[string]any)
	if !ok {
		t.Fatalf("expected store stats in response, got %v", resp)
	}
	if int(storeStats["readings"].(float64)) != 1 {
		t.Errorf("readings = %v, want 1", storeStats["readings"])
	}
}

// ─── Auth ──────────────────────────────────────────────────────────

func TestAuthRequiredWhenEnabled(t *testing.T) {
	srv, _, _ := testServerWithAuth(t)
	router := srv.buildRouter()

	w := doRequest(router, http.MethodGet, "/api/v1/devices", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestLoginAndAuthenticatedRequest(t *testing.T) {
	srv, _, _ := testServerWithAuth(t)
	router := srv.buildRouter()

	w := doRequest(router, http.MethodPost, "/api/v1/auth/login",
		`{"username": "admin", "password": "bootstrap-password"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	token, _ := decodeBody(t, w)["token"].(string)
	if token == "" {
		t.Fatal("expected a token in the login response")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestLoginWrongPassword(t *testing.T) {
	srv, _, _ := testServerWithAuth(t)
	router := srv.buildRouter()

	w := doRequest(router, http.MethodPost, "/api/v1/auth/login",
		`{"username": "admin", "password": "wrong"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	srv, _, _ := testServerWithAuth(t)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestViewerCannotMutate(t *testing.T) {
	srv, _, _ := testServerWithAuth(t)
	router := srv.buildRouter()

	user := &auth.User{ID: "usr-viewer", Username: "viewer", Role: auth.RoleViewer}
	token, err := auth.GenerateAccessToken(user, "test-secret-at-least-32-characters!!", 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices",
		strings.NewReader(`{"id": "meter-01", "protocol": "mqtt"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestHealthIsPublicWithAuthEnabled(t *testing.T) {
	srv, _, _ := testServerWithAuth(t)
	router := srv.buildRouter()

	w := doRequest(router, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}
