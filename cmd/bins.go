package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vulcan-sns/vulcan-reduce/internal/binning"
)

var (
	binsBanks int
	binsFile  string
	binsMerge bool
)

var binsCmd = &cobra.Command{
	Use:   "bins",
	Short: "Print the GSAS binning scheme for a bank count",
	RunE: func(cmd *cobra.Command, _ []string) error {
		banks := binsBanks
		if banks == 0 {
			banks = cfg.Instrument.FocusBanks
		}
		file := binsFile
		if file == "" {
			file = cfg.Binning.VDriveBinFile
		}
		scheme, err := binning.NewBuilder(cfg.Binning).Build(cmd.Context(), banks, file, cfg.Binning.Fallback, binsMerge)
		if err != nil {
			return err
		}
		formatScheme(os.Stdout, scheme)
		return nil
	},
}

func init() {
	binsCmd.Flags().IntVar(&binsBanks, "banks", 0, fmt.Sprintf("number of focused banks %v (default from config)", binning.SupportedBanks()))
	binsCmd.Flags().StringVar(&binsFile, "bin-file", "", "VDRIVE bin-edge file (default binning.vdrive_bin_file)")
	binsCmd.Flags().BoolVar(&binsMerge, "merge", false, "merge the high-angle banks into one spectrum")
	rootCmd.AddCommand(binsCmd)
}

// formatScheme writes one row per group of the scheme.
func formatScheme(w io.Writer, s *binning.Scheme) {
	rows := make([][]string, 0, len(s.Groups))
	for _, g := range s.Groups {
		merged := ""
		if g.Merged {
			merged = "merged"
		}
		rows = append(rows, []string{string(g.Resolution), g.Range(), merged, g.Describe()})
	}
	_, _ = fmt.Fprintln(w, renderTable([]string{"Resolution", "Spectra", "Merged", "Bins"}, rows, nil))
	source := "parametric fallback"
	if s.Explicit() {
		source = s.Source
	}
	_, _ = fmt.Fprintf(w, "%d banks, %d output spectra, source: %s\n", s.Banks, s.Spectra(), strings.TrimSpace(source))
}
