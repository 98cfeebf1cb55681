package healthcheck

import (
	"context"
	"testing"
)

type staticChecker struct {
	result CheckResult
}

func (c *staticChecker) Check(ctx context.Context) CheckResult {
	return c.result
}

func TestRunChecksWorstStatusWins(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(nil,
		&staticChecker{result: CheckResult{ID: "a", Status: StatusOK}},
		&staticChecker{result: CheckResult{ID: "b", Status: StatusError, Summary: "broken"}},
		&staticChecker{result: CheckResult{ID: "c", Status: StatusWarn}},
	)

	report := registry.RunChecks(context.Background())
	if report.Status != StatusError {
		t.Fatalf("expected aggregate status %q, got %q", StatusError, report.Status)
	}
	if len(report.Checks) != 3 {
		t.Fatalf("expected 3 checks, got %d", len(report.Checks))
	}
	if report.Checks[1].ID != "b" {
		t.Fatalf("checks must keep registration order, got %q second", report.Checks[1].ID)
	}
}

func TestRunChecksDefaultsMissingStatus(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(nil, &staticChecker{result: CheckResult{ID: "quiet"}})

	report := registry.RunChecks(context.Background())
	if report.Checks[0].Status != StatusUnknown {
		t.Fatalf("expected status %q, got %q", StatusUnknown, report.Checks[0].Status)
	}
	if report.Status != StatusUnknown {
		t.Fatalf("expected aggregate status %q, got %q", StatusUnknown, report.Status)
	}
}

func TestRunChecksEmptyRegistry(t *testing.T) {
	t.Parallel()

	report := NewRegistry(nil).RunChecks(context.Background())
	if report.Status != StatusOK {
		t.Fatalf("expected status %q, got %q", StatusOK, report.Status)
	}
	if len(report.Checks) != 0 {
		t.Fatalf("expected no checks, got %d", len(report.Checks))
	}
}
