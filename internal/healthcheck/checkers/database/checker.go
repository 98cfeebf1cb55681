// Package databasechecker probes the Postgres pool that backs all sync
// state.
package databasechecker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazelchat/hazelsync/internal/healthcheck"
)

const (
	checkID     = "database.connection"
	pingTimeout = 2 * time.Second
)

// Pinger reaches the database; *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker evaluates database reachability.
type Checker struct {
	logger *slog.Logger
	pool   Pinger
}

// NewChecker creates a database health checker.
func NewChecker(log *slog.Logger, pool Pinger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger: log.With(slog.String("checker", "healthcheck_database")),
		pool:   pool,
	}
}

// Check pings the pool with a short deadline.
func (c *Checker) Check(ctx context.Context) healthcheck.CheckResult {
	if c.pool == nil {
		c.logger.Warn("database healthcheck dependency is unavailable")
		return healthcheck.CheckResult{
			ID:      checkID,
			Status:  healthcheck.StatusError,
			Summary: "Database pool is not configured.",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.pool.Ping(ctx); err != nil {
		return healthcheck.CheckResult{
			ID:      checkID,
			Status:  healthcheck.StatusError,
			Summary: "Database is unreachable.",
			Detail:  err.Error(),
		}
	}
	return healthcheck.CheckResult{
		ID:      checkID,
		Status:  healthcheck.StatusOK,
		Summary: "Database is reachable.",
	}
}
