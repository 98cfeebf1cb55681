package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hazelchat/hazelsync/internal/chatsync"
	"github.com/hazelchat/hazelsync/internal/config"
	"github.com/hazelchat/hazelsync/internal/db"
	"github.com/hazelchat/hazelsync/internal/models"
	"github.com/hazelchat/hazelsync/internal/store"
)

func backfillCmd() *cobra.Command {
	var (
		providerName  string
		maxPerChannel int
	)
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Sweep active connections once and mirror unsynced messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log := provideLogger(cfg)

			p := models.Provider(providerName)
			if !p.Valid() {
				return fmt.Errorf("unknown provider: %s", providerName)
			}

			ctx := cmd.Context()
			pool, err := db.Open(ctx, cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("db connect: %w", err)
			}
			defer pool.Close()

			stores := store.NewStores(pool)
			registry := provideRegistry(log, cfg)
			worker := provideWorker(log, registry, stores,
				provideLedger(log, stores),
				provideAuthorResolver(log, stores),
				provideBotProvisioner(log, stores))
			sweeper := chatsync.NewSweeper(log, stores.Connections, worker, cfg.Sync.BackfillWorkers)

			if maxPerChannel <= 0 {
				maxPerChannel = cfg.Sync.BackfillLimit
			}
			summaries, err := sweeper.SyncAllActiveConnections(ctx, p, maxPerChannel)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Printf("no active %s connections\n", p)
				return nil
			}
			for _, s := range summaries {
				line := fmt.Sprintf("%s sent=%d skipped=%d failed=%d", s.SyncConnectionID, s.Sent, s.Skipped, s.Failed)
				if s.Error != "" {
					line += " error=" + s.Error
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&providerName, "provider", "discord", "provider to sweep")
	cmd.Flags().IntVar(&maxPerChannel, "max", 0, "max messages per channel link (default: sync.backfill_limit)")
	return cmd
}
