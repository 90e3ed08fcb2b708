package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/danmuck/healthmon/internal/store"
)

// newQueueCmd creates the "healthmon queue" subcommand.
func newQueueCmd() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show the depth of the outbound and command queues",
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
			db, err := store.Open(cfg.DatabasePath())
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			ctx := cmd.Context()
			records, err := db.Health().List(ctx)
			if err != nil {
				return err
			}
			commands, err := db.Commands().Count(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "health=%d commands=%d\n", len(records), commands)
			if list {
				for _, r := range records {
					fmt.Fprintf(out, "%d\t%s\t%s\tretries=%d\n",
						r.ID,
						time.UnixMilli(r.Timestamp).UTC().Format(time.RFC3339),
						r.EventType,
						r.Retries,
					)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list queued health snapshots")
	return cmd
}
