package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "/etc/healthmon/healthmon.toml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "healthmon",
		Short:         "Device health agent",
		Long:          "healthmon captures device health snapshots on events, delivers them to the\nfleet collector and runs remote commands sent back by it.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("healthmon {{.Version}}\n")
	cmd.PersistentFlags().String("config", defaultConfigPath, "path to the TOML config file")

	cmd.AddCommand(
		newRunCmd(),
		newQueueCmd(),
	)
	return cmd
}

func configFrom(cmd *cobra.Command) (string, error) {
	return cmd.Flags().GetString("config")
}
