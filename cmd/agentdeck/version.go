package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/agentdeck/claudecontract"
)

func newVersionCmd() *cobra.Command {
	var binary string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print agentdeck and agent CLI versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintf(out, "agentdeck %s\n", version); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), versionTimeout)
			defer cancel()
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
			v := claudecontract.CheckVersion(ctx, logger, binary)
			detected := "not found"
			if v != nil {
				detected = v.String()
			}
			_, err := fmt.Fprintf(out, "%s %s (tested with %s)\n", binary, detected, claudecontract.TestedCLIVersion)
			return err
		},
	}
	cmd.Flags().StringVar(&binary, "binary", claudecontract.DefaultBinary, "agent CLI to check")
	return cmd
}
