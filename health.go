package pgcrud

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthCheck pings the database on a pooled connection.
func (p *PostgresCrud) HealthCheck(ctx context.Context) *HealthOutput {
	startTime := time.Now()
	err := p.gw.Ping(ctx)
	out := &HealthOutput{
		Success:   err == nil,
		Status:    "healthy",
		Database:  p.config.Connection.DBName,
		LatencyMS: time.Since(startTime).Milliseconds(),
		Pool:      poolInfo(p.gw.Stats()),
	}
	if err != nil {
		out.Status = "unhealthy"
		out.Error = p.handleError("health_check", err)
	}
	return out
}

// HealthHandler serves HealthCheck as JSON: 200 when healthy, 503 otherwise.
func (p *PostgresCrud) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := p.HealthCheck(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !out.Success {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(out)
	})
}
