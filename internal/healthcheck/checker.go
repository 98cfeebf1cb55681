// Package healthcheck aggregates the runtime checks behind the readiness
// probe.
package healthcheck

import (
	"context"
	"log/slog"
)

const (
	// StatusOK indicates check passed.
	StatusOK = "ok"
	// StatusWarn indicates check completed with warning.
	StatusWarn = "warn"
	// StatusError indicates check failed.
	StatusError = "error"
	// StatusUnknown indicates check result is not yet known.
	StatusUnknown = "unknown"
)

// severity orders statuses from healthiest to worst.
var severity = map[string]int{
	StatusOK:      0,
	StatusUnknown: 1,
	StatusWarn:    2,
	StatusError:   3,
}

// CheckResult is one runtime check item produced by a checker.
type CheckResult struct {
	ID       string         `json:"id"`
	Status   string         `json:"status"`
	Summary  string         `json:"summary"`
	Detail   string         `json:"detail,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Checker evaluates one runtime check.
type Checker interface {
	Check(ctx context.Context) CheckResult
}

// Report folds every check into one readiness verdict. Status carries the
// worst individual outcome.
type Report struct {
	Status string        `json:"status"`
	Checks []CheckResult `json:"checks"`
}

// Registry holds the registered checkers and runs them in order.
type Registry struct {
	logger   *slog.Logger
	checkers []Checker
}

// NewRegistry creates a check registry.
func NewRegistry(log *slog.Logger, checkers ...Checker) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		logger:   log.With(slog.String("component", "healthcheck")),
		checkers: checkers,
	}
}

// RunChecks evaluates every registered check.
func (r *Registry) RunChecks(ctx context.Context) Report {
	report := Report{Status: StatusOK, Checks: make([]CheckResult, 0, len(r.checkers))}
	for _, checker := range r.checkers {
		result := checker.Check(ctx)
		if result.Status == "" {
			result.Status = StatusUnknown
		}
		if severity[result.Status] > severity[report.Status] {
			report.Status = result.Status
		}
		if result.Status != StatusOK {
			r.logger.Warn("health check degraded",
				slog.String("check", result.ID),
				slog.String("status", result.Status),
				slog.String("summary", result.Summary),
			)
		}
		report.Checks = append(report.Checks, result)
	}
	return report
}
