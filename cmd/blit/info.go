package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bamsammich/blit/internal/bmap"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info BMAP",
		Short: "Print the attributes of a bmap file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open bmap file: %w", err)
			}
			defer f.Close()

			b, err := bmap.Parse(f)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "bmap version:  %s\n", b.Version)
			fmt.Fprintf(out, "block size:    %d\n", b.BlockSize)
			fmt.Fprintf(out, "blocks:        %d\n", b.BlocksCount)
			fmt.Fprintf(out, "mapped blocks: %d (%.1f%%)\n", b.MappedCount, b.MappedPercent())
			fmt.Fprintf(out, "image size:    %s\n", humanize.IBytes(uint64(b.ImageSize())))
			fmt.Fprintf(out, "mapped size:   %s\n", humanize.IBytes(uint64(b.MappedSize())))
			fmt.Fprintf(out, "ranges:        %d\n", len(b.Ranges))
			return nil
		},
	}
}
