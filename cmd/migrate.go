package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/victornm/livequiz/internal/server"
	"github.com/victornm/livequiz/internal/store/postgres"
)

func newMigrateCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := load()
			if err != nil {
				return err
			}

			if c.Storage == server.StorageMemory {
				return fmt.Errorf("storage is %q: nothing to migrate", c.Storage)
			}

			return postgres.Migrate(c.PostgresDSN())
		},
	}
}
