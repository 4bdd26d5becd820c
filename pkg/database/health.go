package database

import (
	"context"
	stdsql "database/sql"
	"fmt"
)

// HealthStatus describes the database connection state.
type HealthStatus struct {
	Status          string `json:"status"`
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
}

// Health pings the database and returns connection pool statistics.
func Health(ctx context.Context, db *stdsql.DB) (HealthStatus, error) {
	if err := db.PingContext(ctx); err != nil {
		return HealthStatus{Status: "unreachable"}, fmt.Errorf("database ping failed: %w", err)
	}
	stats := db.Stats()
	return HealthStatus{
		Status:          "connected",
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
	}, nil
}
