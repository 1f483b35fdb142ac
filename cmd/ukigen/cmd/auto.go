package cmd

import (
	"context"

	"github.com/outofforest/run"
	"github.com/spf13/cobra"

	"github.com/outofforest/ukigen"
)

var autoCmd = &cobra.Command{
	Use:   "auto",
	Short: "Build and sign every configured and discovered kernel entry.",
	Long: `Loads the configuration, discovers kernels via the configured glob
pattern and processes every valid entry. A failing entry does not stop the
batch; having nothing to build at all is fatal.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		run.New().Run(cmd.Context(), "ukigen", func(ctx context.Context) error {
			return ukigen.Auto(ctx, ukigen.Options{
				ConfigPath:   configPath,
				BackupSuffix: backupSuffix,
			})
		})
	},
}
