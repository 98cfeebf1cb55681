package chatsync

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hazelchat/hazelsync/internal/models"
)

// defaultSweepWorkers bounds how many connections one sweep backfills at a
// time.
const defaultSweepWorkers = 5

// ConnectionSyncer is the backfill half of the worker, as the sweeper
// drives it.
type ConnectionSyncer interface {
	SyncConnection(ctx context.Context, syncConnectionID string, maxPerChannel int) (ConnectionSummary, error)
}

// Sweeper backfills every active connection of a provider. Connections run
// concurrently under a worker bound; one connection failing is recorded in
// its summary, never fatal to the sweep.
type Sweeper struct {
	log         *slog.Logger
	connections ConnectionRepo
	syncer      ConnectionSyncer
	workers     int
}

func NewSweeper(log *slog.Logger, connections ConnectionRepo, syncer ConnectionSyncer, workers int) *Sweeper {
	if workers <= 0 {
		workers = defaultSweepWorkers
	}
	return &Sweeper{
		log:         log.With(slog.String("component", "sweeper")),
		connections: connections,
		syncer:      syncer,
		workers:     workers,
	}
}

// SyncAllActiveConnections backfills each active connection of the provider
// and returns one summary per connection, in the order the store listed
// them.
func (s *Sweeper) SyncAllActiveConnections(ctx context.Context, provider models.Provider, maxPerChannel int) ([]ConnectionSummary, error) {
	conns, err := s.connections.FindActiveByProvider(ctx, provider)
	if err != nil {
		return nil, err
	}
	if len(conns) == 0 {
		return nil, nil
	}
	s.log.Info("sweeping connections",
		slog.String("provider", string(provider)),
		slog.Int("connections", len(conns)))

	summaries := make([]ConnectionSummary, len(conns))
	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	for i, conn := range conns {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id string) {
			defer wg.Done()
			defer func() { <-sem }()

			summary, err := s.syncer.SyncConnection(ctx, id, maxPerChannel)
			summary.SyncConnectionID = id
			if err != nil {
				summary.Error = err.Error()
				s.log.Error("sweep connection",
					slog.String("provider", string(provider)),
					slog.String("sync_connection_id", id),
					slog.Any("error", err))
			}
			summaries[i] = summary
		}(i, conn.ID)
	}
	wg.Wait()
	return summaries, nil
}
