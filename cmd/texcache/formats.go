package main

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gogpu/texcache/format"
)

func newFormatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List source texture formats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tNAME\tBPP\tBLOCK\tPALETTED\tSUPPORTED")
			for _, id := range format.All() {
				info := format.Lookup(id)
				block := "-"
				if info.BlockWidth > 0 {
					block = fmt.Sprintf("%dx%d", info.BlockWidth, info.BlockHeight)
				}
				fmt.Fprintf(w, "0x%X\t%s\t%d\t%s\t%t\t%t\n",
					uint8(id), info.Name, info.BitsPerPixel, block, info.Paletted, info.Supported)
			}
			return w.Flush()
		},
	}
}

// parseFormat accepts a format name (case-insensitive) or a numeric code.
func parseFormat(s string) (format.ID, error) {
	for _, id := range format.All() {
		if strings.EqualFold(format.Lookup(id).Name, s) {
			return id, nil
		}
	}
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil || n >= format.NumFormats {
		return 0, fmt.Errorf("%w: %q", format.ErrUnsupportedFormat, s)
	}
	return format.ID(n), nil
}

func parsePaletteFormat(s string) (format.PaletteFormat, error) {
	for f := format.PaletteFormat(0); f < format.NumPaletteFormats; f++ {
		if strings.EqualFold(f.String(), s) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown palette format %q", s)
}
