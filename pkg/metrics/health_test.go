package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// resetHealth gives each test a clean checker; the package-level one is
// shared process state.
func resetHealth(version string) {
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
		version:    version,
	}
}

// registerAllSubsystems marks the three boot subsystems healthy, the state
// cmd/zeta-server reaches after a clean startup.
func registerAllSubsystems() {
	RegisterComponent("engine", true, "")
	RegisterComponent("store", true, "")
	RegisterComponent("network", true, "")
}

func TestRegisterComponent(t *testing.T) {
	resetHealth("")

	RegisterComponent("engine", true, "connected")

	comp, ok := healthChecker.components["engine"]
	if !ok {
		t.Fatal("engine component not registered")
	}
	if !comp.Healthy {
		t.Error("component should be healthy")
	}
	if comp.Message != "connected" {
		t.Errorf("expected message 'connected', got '%s'", comp.Message)
	}
}

func TestGetHealthAllHealthy(t *testing.T) {
	resetHealth("1.0.0")
	registerAllSubsystems()

	health := GetHealth()

	if health.Status != "healthy" {
		t.Errorf("expected status 'healthy', got '%s'", health.Status)
	}
	if len(health.Components) != 3 {
		t.Errorf("expected 3 components, got %d", len(health.Components))
	}
	if health.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got '%s'", health.Version)
	}
}

func TestGetHealthOneUnhealthy(t *testing.T) {
	resetHealth("")
	RegisterComponent("store", true, "")
	RegisterComponent("engine", false, "daemon not reachable")

	health := GetHealth()

	if health.Status != "unhealthy" {
		t.Errorf("expected status 'unhealthy', got '%s'", health.Status)
	}
	if health.Components["engine"] != "unhealthy: daemon not reachable" {
		t.Errorf("unexpected engine status: %s", health.Components["engine"])
	}
}

func TestGetHealthReportsGaugeSnapshot(t *testing.T) {
	resetHealth("")
	registerAllSubsystems()

	FunctionsTotal.Set(2)
	RunningContainersTotal.Set(1)
	defer func() {
		FunctionsTotal.Set(0)
		RunningContainersTotal.Set(0)
	}()

	health := GetHealth()

	if health.Functions != 2 {
		t.Errorf("Functions = %d, want 2", health.Functions)
	}
	if health.RunningContainers != 1 {
		t.Errorf("RunningContainers = %d, want 1", health.RunningContainers)
	}
}

func TestGetReadinessAllSubsystemsUp(t *testing.T) {
	resetHealth("")
	registerAllSubsystems()

	readiness := GetReadiness()

	if readiness.Status != "ready" {
		t.Errorf("expected status 'ready', got '%s'", readiness.Status)
	}
}

func TestGetReadinessMissingSubsystem(t *testing.T) {
	resetHealth("")
	RegisterComponent("engine", true, "")
	RegisterComponent("store", true, "")
	// network never registered: startup has not finished

	readiness := GetReadiness()

	if readiness.Status != "not_ready" {
		t.Errorf("expected status 'not_ready', got '%s'", readiness.Status)
	}
	if readiness.Message == "" {
		t.Error("expected message explaining why not ready")
	}
}

func TestGetReadinessUnhealthySubsystem(t *testing.T) {
	resetHealth("")
	RegisterComponent("engine", false, "connection refused")
	RegisterComponent("store", true, "")
	RegisterComponent("network", true, "")

	readiness := GetReadiness()

	if readiness.Status != "not_ready" {
		t.Errorf("expected status 'not_ready', got '%s'", readiness.Status)
	}
}

func TestHealthHandler(t *testing.T) {
	resetHealth("test")
	registerAllSubsystems()

	w := httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var health HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if health.Status != "healthy" {
		t.Errorf("expected healthy status, got %s", health.Status)
	}
	if health.Version != "test" {
		t.Errorf("expected version 'test', got %s", health.Version)
	}
}

func TestHealthHandlerUnhealthy(t *testing.T) {
	resetHealth("")
	RegisterComponent("store", false, "schema version mismatch")

	w := httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
}

func TestReadyHandler(t *testing.T) {
	resetHealth("")
	registerAllSubsystems()

	w := httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest("GET", "/ready", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func TestReadyHandlerNotReady(t *testing.T) {
	resetHealth("")
	RegisterComponent("engine", true, "")
	// store and network not registered

	w := httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest("GET", "/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var readiness HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&readiness); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if readiness.Status != "not_ready" {
		t.Errorf("expected not_ready status, got %s", readiness.Status)
	}
}

func TestLivenessHandler(t *testing.T) {
	resetHealth("")

	w := httptest.NewRecorder()
	LivenessHandler()(w, httptest.NewRequest("GET", "/live", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["status"] != "alive" {
		t.Errorf("expected status 'alive', got '%s'", response["status"])
	}
	if response["uptime"] == "" {
		t.Error("uptime should not be empty")
	}
}

func TestUpdateComponent(t *testing.T) {
	resetHealth("")

	RegisterComponent("engine", true, "ok")
	UpdateComponent("engine", false, "lost connection")

	comp := healthChecker.components["engine"]
	if comp.Healthy {
		t.Error("component should be unhealthy after update")
	}
	if comp.Message != "lost connection" {
		t.Errorf("expected message 'lost connection', got '%s'", comp.Message)
	}
}
