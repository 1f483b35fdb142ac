package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/outofforest/run"
	"github.com/spf13/cobra"

	"github.com/outofforest/ukigen/pkg/initrd"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <initramfs>",
	Short: "List the members of an initramfs archive.",
	Long: `Lists the cpio members of an initramfs image, decompressing gzip
transparently. Useful to verify what a configured initramfs actually
carries before embedding it.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		run.New().Run(cmd.Context(), "ukigen", func(ctx context.Context) error {
			entries, err := initrd.ListFile(args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%d\t%s\n", e.Mode, e.Size, e.Name)
			}
			return w.Flush()
		})
	},
}
