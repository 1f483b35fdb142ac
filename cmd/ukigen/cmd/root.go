package cmd

import (
	"os"

	"github.com/outofforest/logger"
	"github.com/spf13/cobra"
)

var (
	// configPath to the entry configuration file.
	configPath string
	// backupSuffix enables backups of previous images when non-empty.
	backupSuffix string

	rootCmd = &cobra.Command{
		Use:   "ukigen",
		Short: "Build and sign unified kernel images for UEFI Secure Boot.",
		Long: `ukigen embeds a kernel, its initramfs, the kernel command line and a
synthesized os-release descriptor as sections into an EFI stub loader and
signs the result for Secure Boot.

Targets come from an INI configuration with a [global] defaults section,
per-entry sections and optional on-disk kernel discovery.`,
	}
)

// Execute runs the ukigen CLI and exits with non-zero status on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/ukigen.conf",
		"path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&backupSuffix, "backup", "b", "",
		"suffix for backups of previous images, e.g. .bak (empty disables backups)")
	rootCmd.PersistentFlags().AddFlagSet(logger.Flags(logger.DefaultConfig, "ukigen"))

	rootCmd.AddCommand(autoCmd, hookCmd, manualCmd, inspectCmd)
}
