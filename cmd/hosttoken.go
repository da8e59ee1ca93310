package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/victornm/livequiz/internal/token"
)

func newHostTokenCmd(load configLoader) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "host-token <host-ref>",
		Short: "Mint a host bearer token for local development",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := load()
			if err != nil {
				return err
			}

			if c.Token.Secret == "" {
				return fmt.Errorf("token secret is not set")
			}

			tok, err := token.NewIssuer(token.Config{Secret: c.Token.Secret, HostTTL: ttl}).IssueHost(args[0])
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", token.DefaultHostTTL, "lifetime of the token")

	return cmd
}
