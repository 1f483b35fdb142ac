package cmd

import (
	"context"
	"os"

	"github.com/outofforest/run"
	"github.com/spf13/cobra"

	"github.com/outofforest/ukigen"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Rebuild the entries whose kernels changed, fed by a package manager hook.",
	Long: `Reads changed file paths from standard input, one per line, and rebuilds
the matching entries. Any path not matching the configured kernel-name
pattern triggers a rebuild of all entries instead. The first failure aborts.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		run.New().Run(cmd.Context(), "ukigen", func(ctx context.Context) error {
			return ukigen.Hook(ctx, ukigen.Options{
				ConfigPath:   configPath,
				BackupSuffix: backupSuffix,
			}, os.Stdin)
		})
	},
}
