// Package gatewaychecker reports on the Discord gateway session.
package gatewaychecker

import (
	"context"
	"log/slog"

	"github.com/hazelchat/hazelsync/internal/healthcheck"
)

const checkID = "gateway.discord"

// Session exposes live connection state; the gateway consumer satisfies it.
type Session interface {
	Connected() bool
}

// Checker evaluates gateway session health.
type Checker struct {
	logger  *slog.Logger
	session Session
}

// NewChecker creates a gateway health checker.
func NewChecker(log *slog.Logger, session Session) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:  log.With(slog.String("checker", "healthcheck_gateway")),
		session: session,
	}
}

// Check reports the session state. A down session is a warning, not an
// error: the consumer reconnects on its own and REST sync keeps working.
func (c *Checker) Check(ctx context.Context) healthcheck.CheckResult {
	if err := ctx.Err(); err != nil {
		return healthcheck.CheckResult{
			ID:      checkID,
			Status:  healthcheck.StatusUnknown,
			Summary: "Gateway check was cancelled.",
			Detail:  err.Error(),
		}
	}
	if c.session == nil {
		c.logger.Warn("gateway healthcheck dependency is unavailable")
		return healthcheck.CheckResult{
			ID:      checkID,
			Status:  healthcheck.StatusWarn,
			Summary: "Gateway checker service is not available.",
			Detail:  "gateway session is nil",
		}
	}
	if !c.session.Connected() {
		return healthcheck.CheckResult{
			ID:      checkID,
			Status:  healthcheck.StatusWarn,
			Summary: "Discord gateway session is down.",
			Detail:  "reconnect is in progress; ingress events are delayed",
		}
	}
	return healthcheck.CheckResult{
		ID:      checkID,
		Status:  healthcheck.StatusOK,
		Summary: "Discord gateway session is established.",
	}
}
