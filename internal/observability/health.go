package observability

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthChecker tracks liveness and the named conditions that gate
// readiness (e.g. "postgres", "nats", "replay"). The service is ready once
// every registered condition has been marked satisfied.
type HealthChecker struct {
	mu         sync.RWMutex
	conditions map[string]bool
	startTime  time.Time
}

// NewHealthChecker creates a checker waiting on the given conditions.
func NewHealthChecker(conditions ...string) *HealthChecker {
	h := &HealthChecker{
		conditions: make(map[string]bool, len(conditions)),
		startTime:  time.Now(),
	}
	for _, c := range conditions {
		h.conditions[c] = false
	}
	return h
}

// Mark records whether a readiness condition currently holds.
func (h *HealthChecker) Mark(condition string, ok bool) {
	h.mu.Lock()
	h.conditions[condition] = ok
	h.mu.Unlock()
}

// IsReady reports whether all conditions hold.
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ok := range h.conditions {
		if !ok {
			return false
		}
	}
	return true
}

// Pending lists the conditions that do not hold yet, sorted.
func (h *HealthChecker) Pending() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []string
	for c, ok := range h.conditions {
		if !ok {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// LivenessHandler returns HTTP 200 while the process is running.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns HTTP 200 once ready, 503 with the pending
// conditions otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if pending := h.Pending(); len(pending) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "not_ready",
			"pending": pending,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
