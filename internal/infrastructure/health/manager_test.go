package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthManager_Aggregation(t *testing.T) {
	hm := NewHealthManager(nil)

	// Initial state: Healthy (no checks)
	if !hm.IsHealthy() {
		t.Error("Empty health manager should be healthy")
	}

	// Add healthy check
	hm.Register("venue", func() error { return nil })
	if !hm.IsHealthy() {
		t.Error("Healthy component should not fail manager")
	}

	// Add unhealthy check
	hm.Register("engine", func() error { return fmt.Errorf("failed") })
	if hm.IsHealthy() {
		t.Error("Unhealthy component should fail manager")
	}

	status := hm.GetStatus()
	if status["venue"] != "Healthy" {
		t.Errorf("Expected Healthy, got %s", status["venue"])
	}
	if status["engine"] != "Unhealthy: failed" {
		t.Errorf("Expected Unhealthy, got %s", status["engine"])
	}
}

func TestHealthManager_ServeHTTP(t *testing.T) {
	hm := NewHealthManager(nil)
	hm.Register("venue", func() error { return nil })

	rec := httptest.NewRecorder()
	hm.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	hm.Register("engine", func() error { return fmt.Errorf("stalled") })
	rec = httptest.NewRecorder()
	hm.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Unhealthy: stalled", body["engine"])
}

func TestHeartbeat(t *testing.T) {
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	hb := NewHeartbeat(time.Minute)
	hb.now = func() time.Time { return clock }

	assert.Error(t, hb.Check())
	hb.Beat()
	assert.NoError(t, hb.Check())

	clock = clock.Add(2 * time.Minute)
	assert.ErrorContains(t, hb.Check(), "2m0s ago")
}
