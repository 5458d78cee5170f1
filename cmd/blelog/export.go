package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/blelog/internal/samplelog"
)

func newExportCmd() *cobra.Command {
	var dest string
	cmd := &cobra.Command{
		Use:   "export <csv-file>",
		Short: "Copy a sample log to the export directory",
		Long: `Copy a CSV sample log written by 'monitor --log' into the export
directory. Existing files are never overwritten.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd)
			if err != nil {
				return err
			}
			if dest == "" {
				dest = e.cfg.ExportDir
			}
			cmd.SilenceUsage = true

			path, err := samplelog.Export(args[0], dest)
			if err != nil {
				return err
			}
			e.logger.WithField("path", path).Info("Sample log exported")
			fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&dest, "dest", "", "Destination directory (default from config)")
	return cmd
}
