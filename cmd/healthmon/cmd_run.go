package main

import (
	"github.com/spf13/cobra"

	"github.com/danmuck/healthmon/internal/agent"
)

// newRunCmd creates the "healthmon run" subcommand.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := configFrom(cmd)
			if err != nil {
				return err
			}
			cfg, err := loadServiceConfig(path)
			if err != nil {
				return err
			}
			svc, err := agent.Open(cmd.Context(), cfg, agent.Deps{})
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()
			return svc.Run()
		},
	}
}
