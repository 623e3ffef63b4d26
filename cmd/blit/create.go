package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bamsammich/blit/internal/bmap"
)

func newCreateCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "create IMAGE",
		Short: "Generate a bmap for a sparse image file",
		Long: "create walks the image's mapped extents (SEEK_DATA/SEEK_HOLE) and writes\n" +
			"a bmap XML manifest with per-range SHA-1 checksums to stdout or -o FILE.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := bmap.Create(args[0])
			if err != nil {
				return err
			}

			w := os.Stdout
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create bmap file: %w", err)
				}
				defer f.Close()
				w = f
			}

			if _, err := b.WriteTo(w); err != nil {
				return fmt.Errorf("write bmap: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the bmap to FILE instead of stdout")
	return cmd
}
