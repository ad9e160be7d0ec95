package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fluxquery/internal/security"
)

var offline = map[string]string{"offline": "true"}

func tokenCmd() *cobra.Command {
	var (
		subject string
		scope   string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:         "token",
		Short:       "Mint a bearer token for an agent (signed with API_SECRET)",
		Args:        cobra.NoArgs,
		Annotations: offline,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cli.cfg.APISecret == "" {
				return errors.New("API_SECRET is not set")
			}
			tok, err := security.IssueToken([]byte(cli.cfg.APISecret), subject, scope, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "fluxquery-cli", "token subject")
	cmd.Flags().StringVar(&scope, "scope", "query", "token scope")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func hashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "hash-key <agent-key>",
		Short:       "Print the bcrypt hash of an agent key for AGENT_KEY_HASHES",
		Args:        cobra.ExactArgs(1),
		Annotations: offline,
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := security.HashAgentKey(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%s\n", security.KeyPrefix(args[0]), hash)
			return nil
		},
	}
}
