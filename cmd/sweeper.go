/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/libris-hq/apiserver/config"
	"github.com/libris-hq/apiserver/internal/mq"
	"github.com/libris-hq/apiserver/internal/services"
	"github.com/libris-hq/apiserver/internal/storage"
	"github.com/spf13/cobra"
)

// sweeperCmd represents the sweeper command
var sweeperCmd = &cobra.Command{
	Use:   "sweeper",
	Short: "Deletes assets reported as orphaned",
	Long: `Consumes the assets.orphaned channel and deletes every asset reported on it.
Requires MQ_BACKEND to be set. Usage:

	libris sweeper
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := newLogger(cfg)

		if cfg.MQ.Backend == config.MQNone {
			return errors.New("sweeper requires MQ_BACKEND")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		objects, err := storage.New(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		defer queue.Close()

		assets := services.NewAssetService(objects, cfg.Storage.PublicPrefix, nil, logger)
		sweeper := services.NewAssetSweeper(assets, logger)
		if err := sweeper.Run(ctx, queue); err != nil && !errors.Is(err, ctx.Err()) {
			return fmt.Errorf("sweeper: %w", err)
		}
		logger.Info("sweeper stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweeperCmd)
}
