package cmd

import (
	"context"

	"github.com/outofforest/run"
	"github.com/ridge/must"
	"github.com/spf13/cobra"

	"github.com/outofforest/ukigen"
)

// Default stub shipped by systemd.
const defaultEFIStub = "/usr/lib/systemd/boot/efi/linuxx64.efi.stub"

var manualOpts ukigen.ManualOptions

var manualCmd = &cobra.Command{
	Use:   "manual",
	Short: "Build and sign a single image from explicit parameters.",
	Long: `Builds exactly one image without a configuration file. All inputs are
given as flags; any failure is fatal.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		run.New().Run(cmd.Context(), "ukigen", func(ctx context.Context) error {
			manualOpts.BackupSuffix = backupSuffix
			return ukigen.Manual(ctx, manualOpts)
		})
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := manualCmd.Flags()
	flags.StringVarP(&manualOpts.EFIStub, "efistub", "e", defaultEFIStub, "EFI loader stub")
	flags.StringVarP(&manualOpts.Kernel, "kernel", "k", "", "linux kernel image")
	flags.StringArrayVarP(&manualOpts.Initramfs, "initramfs", "i", nil,
		"initramfs image, repeatable, concatenated in order")
	flags.StringVar(&manualOpts.Cmdline, "cmdline", "", "kernel command line")
	flags.StringVar(&manualOpts.Key, "key", "", "Secure Boot signing key")
	flags.StringVar(&manualOpts.Cert, "cert", "", "Secure Boot signing certificate")
	flags.StringVarP(&manualOpts.Output, "output", "o", "", "output image path")

	for _, required := range []string{"kernel", "initramfs", "key", "cert", "output"} {
		must.OK(cobra.MarkFlagRequired(flags, required))
	}
}
