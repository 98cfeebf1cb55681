// Package schedule fires the periodic backfill sweeps that reconcile
// unsynced Hazel messages after gateway gaps or downtime.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hazelchat/hazelsync/internal/chatsync"
	"github.com/hazelchat/hazelsync/internal/models"
)

// sweepTimeout bounds a single sweep so a wedged one cannot starve every
// later run through SkipIfStillRunning.
const sweepTimeout = 10 * time.Minute

// Sweeper runs one backfill pass across the active connections of a provider.
type Sweeper interface {
	SyncAllActiveConnections(ctx context.Context, provider models.Provider, maxPerChannel int) ([]chatsync.ConnectionSummary, error)
}

// Config selects when sweeps fire and what they cover.
type Config struct {
	Spec          string
	Providers     []string
	MaxPerChannel int
}

// Service owns the cron runner. One job is registered per provider; jobs
// recover from panics and skip a tick while the previous run is still going.
type Service struct {
	log     *slog.Logger
	cron    *cron.Cron
	sweeper Sweeper
	cfg     Config
}

func NewService(log *slog.Logger, sweeper Sweeper, cfg Config) (*Service, error) {
	log = log.With(slog.String("component", "schedule"))
	if _, err := cron.ParseStandard(cfg.Spec); err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", cfg.Spec, err)
	}

	cronLog := cronLogger{log: log}
	runner := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	s := &Service{log: log, cron: runner, sweeper: sweeper, cfg: cfg}
	for _, name := range cfg.Providers {
		provider := models.Provider(name)
		if _, err := runner.AddFunc(cfg.Spec, func() { s.sweep(provider) }); err != nil {
			return nil, fmt.Errorf("register sweep for %s: %w", provider, err)
		}
	}
	return s, nil
}

// Start begins firing sweeps on the configured schedule.
func (s *Service) Start() {
	s.cron.Start()
	s.log.Info("sweep schedule started",
		slog.String("spec", s.cfg.Spec),
		slog.Any("providers", s.cfg.Providers))
}

// Stop halts scheduling and waits for in-flight sweeps, up to the context
// deadline.
func (s *Service) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) sweep(provider models.Provider) {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	start := time.Now()
	summaries, err := s.sweeper.SyncAllActiveConnections(ctx, provider, s.cfg.MaxPerChannel)
	if err != nil {
		s.log.Error("sweep failed",
			slog.String("provider", string(provider)),
			slog.Any("error", err))
		return
	}

	var sent, skipped, failed int
	for _, summary := range summaries {
		sent += summary.Sent
		skipped += summary.Skipped
		failed += summary.Failed
	}
	s.log.Info("sweep finished",
		slog.String("provider", string(provider)),
		slog.Int("connections", len(summaries)),
		slog.Int("sent", sent),
		slog.Int("skipped", skipped),
		slog.Int("failed", failed),
		slog.Duration("elapsed", time.Since(start)))
}

// cronLogger adapts slog to the cron logger interface. Scheduler chatter
// lands at debug; job errors keep their severity.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{slog.Any("error", err)}, keysAndValues...)
	l.log.Error(msg, args...)
}
