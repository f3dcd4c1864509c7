package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthStatus represents database health and connection pool statistics.
type HealthStatus struct {
	Status          string        `json:"status"`
	ResponseTime    time.Duration `json:"response_time_ms"`
	TotalConns      int32         `json:"total_conns"`
	AcquiredConns   int32         `json:"acquired_conns"`
	IdleConns       int32         `json:"idle_conns"`
	MaxConns        int32         `json:"max_conns"`
}

// Health checks database connectivity and returns connection pool statistics.
// Used by the /health endpoint's trivial DB probe and never by request-path
// queries, so a short-lived ping here cannot starve the shared pool.
func Health(ctx context.Context, pool *pgxpool.Pool) (*HealthStatus, error) {
	start := time.Now()

	if err := pool.Ping(ctx); err != nil {
		return &HealthStatus{
			Status:       "unhealthy",
			ResponseTime: time.Since(start),
		}, err
	}

	stats := pool.Stat()

	return &HealthStatus{
		Status:        "healthy",
		ResponseTime:  time.Since(start),
		TotalConns:    stats.TotalConns(),
		AcquiredConns: stats.AcquiredConns(),
		IdleConns:     stats.IdleConns(),
		MaxConns:      stats.MaxConns(),
	}, nil
}
