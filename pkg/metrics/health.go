package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// HealthStatus reports the control plane's boot-time component state
// (engine/store/network, per cmd/zeta-server's startup sequence) alongside
// a live snapshot of what it is currently managing, so GET /health reflects
// Zeta's actual fleet rather than only whether subsystems once came up.
type HealthStatus struct {
	Status            string            `json:"status"` // "healthy"/"unhealthy" (GetHealth), "ready"/"not_ready" (GetReadiness)
	Timestamp         time.Time         `json:"timestamp"`
	Components        map[string]string `json:"components,omitempty"`
	Message           string            `json:"message,omitempty"`
	Version           string            `json:"version,omitempty"`
	Uptime            string            `json:"uptime,omitempty"`
	Functions         int               `json:"functions"`
	RunningContainers int               `json:"runningContainers"`
	StartTime         time.Time         `json:"-"`
}

// gaugeValue reads a prometheus.Gauge's current value without going
// through the /metrics text exposition format, used to fold
// FunctionsTotal/RunningContainersTotal into the JSON health payload.
func gaugeValue(g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

var (
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}
)

// ComponentHealth tracks the health of a single component
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
}

// HealthChecker manages health checks for various components
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	startTime  time.Time
	version    string
}

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.version = version
}

// RegisterComponent registers a component for health checking
func RegisterComponent(name string, healthy bool, message string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()

	healthChecker.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// UpdateComponent updates the health status of a component
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message) // Same implementation
}

// GetHealth returns the overall health status: whether engine/store/network
// came up cleanly at boot, plus how many functions and live runner
// containers the control plane is tracking right now (pkg/zeta's
// FunctionsTotal/RunningContainersTotal gauges).
func GetHealth() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	status := "healthy"
	components := make(map[string]string)

	for name, comp := range healthChecker.components {
		if !comp.Healthy {
			status = "unhealthy"
			components[name] = "unhealthy: " + comp.Message
		} else {
			components[name] = "healthy"
		}
	}

	uptime := time.Since(healthChecker.startTime)

	return HealthStatus{
		Status:            status,
		Timestamp:         time.Now(),
		Components:        components,
		Version:           healthChecker.version,
		Uptime:            uptime.String(),
		Functions:         int(gaugeValue(FunctionsTotal)),
		RunningContainers: int(gaugeValue(RunningContainersTotal)),
		StartTime:         healthChecker.startTime,
	}
}

// GetReadiness reports whether the three subsystems cmd/zeta-server brings
// up before accepting requests (the container engine connection, the
// metadata store, and the shared runner network) are all registered
// healthy.
func GetReadiness() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	status := "ready"
	message := ""
	components := make(map[string]string)

	// engine/store/network: the subsystems cmd/zeta-server registers via
	// metrics.RegisterComponent during boot, in that order.
	criticalComponents := []string{"engine", "store", "network"}

	for _, name := range criticalComponents {
		if comp, exists := healthChecker.components[name]; exists {
			if !comp.Healthy {
				status = "not_ready"
				message = "waiting for " + name
				components[name] = "not ready: " + comp.Message
			} else {
				components[name] = "ready"
			}
		} else {
			// Component not registered yet
			status = "not_ready"
			message = "waiting for " + name + " initialization"
			components[name] = "not registered"
		}
	}

	uptime := time.Since(healthChecker.startTime)

	return HealthStatus{
		Status:            status,
		Timestamp:         time.Now(),
		Components:        components,
		Message:           message,
		Version:           healthChecker.version,
		Uptime:            uptime.String(),
		Functions:         int(gaugeValue(FunctionsTotal)),
		RunningContainers: int(gaugeValue(RunningContainersTotal)),
		StartTime:         healthChecker.startTime,
	}
}

// HealthHandler returns an HTTP handler for the /health endpoint
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()

		w.Header().Set("Content-Type", "application/json")

		// Set appropriate status code
		statusCode := http.StatusOK
		if health.Status == "unhealthy" {
			statusCode = http.StatusServiceUnavailable
		}
		w.WriteHeader(statusCode)

		_ = json.NewEncoder(w).Encode(health)
	}
}

// ReadyHandler returns an HTTP handler for the /ready endpoint
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()

		w.Header().Set("Content-Type", "application/json")

		// Set appropriate status code
		statusCode := http.StatusOK
		if readiness.Status != "ready" {
			statusCode = http.StatusServiceUnavailable
		}
		w.WriteHeader(statusCode)

		_ = json.NewEncoder(w).Encode(readiness)
	}
}

// LivenessHandler returns a simple liveness check (always returns 200 if process is running)
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": time.Since(healthChecker.startTime).String(),
		})
	}
}
