package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hazelchat/hazelsync/internal/config"
	"github.com/hazelchat/hazelsync/internal/db"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := db.Migrate(cfg.Database.URL); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}
