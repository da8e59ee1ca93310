package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/victornm/livequiz/internal/config"
	"github.com/victornm/livequiz/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "livequiz",
		Short:        "Live quiz sessions: lobby, timed questions, scoring and leaderboards",
		SilenceUsage: true,
	}

	def := os.Getenv("CONFIG_PATH")
	if def == "" {
		def = "config/config.yaml"
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", def, "path to the config file")

	load := func() (server.Config, error) {
		return loadConfig(configPath)
	}

	cmd.AddCommand(
		newServeCmd(load),
		newMigrateCmd(load),
		newHostTokenCmd(load),
	)

	return cmd
}

type configLoader func() (server.Config, error)

func loadConfig(p string) (server.Config, error) {
	var c server.Config
	c.Storage = server.StoragePostgres
	c.HTTP.Port = 8080
	c.GRPC.Port = 8081
	c.Redis.Prefix = "livequiz"

	if err := config.Load(p, &c); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	slog.Debug("config: loaded", "path", p, "storage", c.Storage)

	return c, nil
}
