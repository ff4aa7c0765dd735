package server

import (
	"encoding/json"
	"net/http"
	"time"
)

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

type health struct {
	env     string
	started time.Time
	now     func() time.Time
}

type healthReport struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	UptimeSeconds float64   `json:"uptime"`
	Version       string    `json:"version"`
	Environment   string    `json:"environment"`
}

func newHealth(env string, started time.Time) *health {
	return &health{env: env, started: started, now: time.Now}
}

func (h *health) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	now := h.now()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthReport{
		Status:        "ok",
		Timestamp:     now.UTC(),
		UptimeSeconds: now.Sub(h.started).Seconds(),
		Version:       Version,
		Environment:   h.env,
	})
}
