package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/vulcan-sns/vulcan-reduce/internal/calib"
	"github.com/vulcan-sns/vulcan-reduce/internal/fault"
	"github.com/vulcan-sns/vulcan-reduce/internal/model"
	"github.com/vulcan-sns/vulcan-reduce/internal/reduction"
)

// reduceOptions holds the flags of the reduce command.
type reduceOptions struct {
	// auto mode
	dryRun     bool
	exportLogs bool

	// manual mode
	input      string
	output     string
	logDir     string
	gsasDir    string
	gsas2Dir   string
	recordFile string
	record2    string
	focusFile  string
	charFile   string
	binFile    string
	manualDry  bool

	// either mode
	vanadium    bool
	vanadiumRun int
	standard    string
	mergeBanks  bool
	banks       int
	jsonOut     bool
}

var reduceOpts reduceOptions

var errJobFailed = eris.New("reduction failed")

var errJournalDisabled = eris.New("journal is disabled (journal.driver=none)")

var reduceCmd = &cobra.Command{
	Use:   "reduce [<event-file> <output-dir>]",
	Short: "Reduce one event file to GSAS",
	Long: `Reduce one event file.

Auto mode takes the event file and output directory as arguments:
  vulcan-reduce reduce <event-file> <output-dir> [--dryrun] [--log]

Manual mode names every input and output with flags:
  vulcan-reduce reduce -i <event-file> -o <output-dir> [-l <log-dir>] [-g <gsas-dir>]
      [-G <gsas2-dir>] [-r <record-file>] [-R <record2-file>] [-f <focus-file>]
      [-c <charact-file>] [-b <bin-file>] [-d]`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initReduction(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		setup, err := buildSetup(env.Resolver, args, reduceOpts)
		if err != nil {
			return err
		}
		return runReduce(ctx, env.Orchestrator, setup, reduceOpts.jsonOut, os.Stdout)
	},
}

func init() {
	f := reduceCmd.Flags()
	f.BoolVar(&reduceOpts.dryRun, "dryrun", false, "validate and print the resolved configuration without reducing")
	f.BoolVar(&reduceOpts.exportLogs, "log", false, "export sample-environment logs")

	f.StringVarP(&reduceOpts.input, "input", "i", "", "event file (manual mode)")
	f.StringVarP(&reduceOpts.output, "output", "o", "", "output directory (manual mode)")
	f.StringVarP(&reduceOpts.logDir, "log-dir", "l", "", "sample-environment log directory; implies --log")
	f.StringVarP(&reduceOpts.gsasDir, "gsas-dir", "g", "", "GSAS output directory")
	f.StringVarP(&reduceOpts.gsas2Dir, "gsas2-dir", "G", "", "secondary GSAS directory")
	f.StringVarP(&reduceOpts.recordFile, "record", "r", "", "experiment record file")
	f.StringVarP(&reduceOpts.record2, "record2", "R", "", "secondary experiment record file")
	f.StringVarP(&reduceOpts.focusFile, "focus-file", "f", "", "calibration (focus) file")
	f.StringVarP(&reduceOpts.charFile, "charact-file", "c", "", "characterization file")
	f.StringVarP(&reduceOpts.binFile, "bin-file", "b", "", "VDRIVE bin-edge file")
	f.BoolVarP(&reduceOpts.manualDry, "dry", "d", false, "dry run (manual mode)")

	f.BoolVar(&reduceOpts.vanadium, "vanadium", false, "normalize by the matched vanadium run")
	f.IntVar(&reduceOpts.vanadiumRun, "vanadium-run", 0, "normalize by this vanadium run instead of matching; implies --vanadium")
	f.StringVar(&reduceOpts.standard, "standard", "", "file the run as a standard sample under this tag")
	f.BoolVar(&reduceOpts.mergeBanks, "merge-banks", false, "merge the high-angle banks into one spectrum")
	f.IntVar(&reduceOpts.banks, "banks", 0, "number of focused banks (3, 7 or 27; default from config)")
	f.BoolVar(&reduceOpts.jsonOut, "json", false, "print the job result as JSON")

	rootCmd.AddCommand(reduceCmd)
}

// buildSetup resolves the command line into a reduction setup. Positional
// arguments select auto mode, -i/-o select manual mode; mixing them is an error.
func buildSetup(resolver *calib.Resolver, args []string, opts reduceOptions) (*model.ReductionSetup, error) {
	manual := opts.input != "" || opts.output != ""
	switch {
	case manual && len(args) > 0:
		return nil, fault.New(fault.KindConfig, "reduce", "use either <event-file> <output-dir> or -i/-o, not both")
	case !manual && len(args) != 2:
		return nil, fault.New(fault.KindConfig, "reduce", "expected <event-file> <output-dir> or -i <event-file> -o <output-dir>")
	case manual && (opts.input == "" || opts.output == ""):
		return nil, fault.New(fault.KindConfig, "reduce", "manual mode needs both -i and -o")
	}

	var (
		setup *model.ReductionSetup
		err   error
	)
	if manual {
		out, rerr := resolver.ResolveOutputPath(opts.output, "", !(opts.dryRun || opts.manualDry))
		if rerr != nil {
			return nil, rerr
		}
		setup, err = resolver.ProcessConfigurations(opts.input, out)
	} else {
		setup, err = resolver.ProcessConfigurations(args[0], args[1])
	}
	if err != nil {
		return nil, err
	}

	setup.DryRun = opts.dryRun || opts.manualDry
	setup.ExportLogs = opts.exportLogs
	if opts.logDir != "" {
		setup.LogDir = opts.logDir
		setup.ExportLogs = true
	}
	if opts.gsasDir != "" {
		setup.GSASPath = filepath.Join(opts.gsasDir, strconv.Itoa(setup.RunNumber)+".gda")
	}
	if opts.recordFile != "" {
		setup.RecordFile = opts.recordFile
	}
	setup.ExtraGSASDir = opts.gsas2Dir
	setup.ExtraRecordFile = opts.record2
	setup.CalibrationFile = opts.focusFile
	setup.CharacterizationFile = opts.charFile
	setup.VulcanBinFile = opts.binFile
	setup.MergeBanks = opts.mergeBanks
	if opts.banks > 0 {
		setup.FocusBanks = opts.banks
	}
	if opts.vanadium || opts.vanadiumRun > 0 {
		setup.NormalizeByVanadium = true
		setup.VanadiumRun = opts.vanadiumRun
	}
	if opts.standard != "" {
		setup.StandardSample = true
		setup.StandardTag = opts.standard
	}
	return setup, nil
}

// runReduce runs one job and prints its aggregate message. A failed job
// returns errJobFailed so the process exits non-zero.
func runReduce(ctx context.Context, orch *reduction.Orchestrator, setup *model.ReductionSetup, asJSON bool, w io.Writer) error {
	if setup.DryRun {
		_, _ = fmt.Fprintln(w, formatSetup(setup))
	}

	result := orch.Run(ctx, setup)

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return eris.Wrap(err, "reduce: encode result")
		}
	} else {
		_, _ = fmt.Fprintln(w, result.Message())
	}

	if !result.Success {
		return errJobFailed
	}
	return nil
}

// formatSetup renders the resolved configuration for dry runs.
func formatSetup(s *model.ReductionSetup) string {
	yesNo := func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	}
	orDash := func(v string) string {
		if v == "" {
			return "-"
		}
		return v
	}
	rows := [][]string{
		{"run", strconv.Itoa(s.RunNumber)},
		{"ipts", strconv.Itoa(s.IPTSNumber)},
		{"event file", s.EventFile},
		{"output dir", s.OutputDir},
		{"auto service", yesNo(s.AutoService)},
		{"banks", strconv.Itoa(s.FocusBanks)},
		{"calibration", orDash(s.CalibrationFile)},
		{"characterization", orDash(s.CharacterizationFile)},
		{"bin file", orDash(s.VulcanBinFile)},
		{"gsas", s.GSASPath},
		{"gsas archive", orDash(s.GSASArchiveDir)},
		{"gsas extra", orDash(s.ExtraGSASDir)},
		{"record", orDash(s.RecordFile)},
		{"record archive", orDash(s.ArchiveRecord)},
		{"record extra", orDash(s.ExtraRecordFile)},
		{"log dir", orDash(s.LogDir)},
		{"export logs", yesNo(s.ExportLogs)},
		{"vanadium", yesNo(s.NormalizeByVanadium)},
		{"standard", orDash(s.StandardTag)},
	}
	return renderTable([]string{"Setting", "Value"}, rows, nil)
}
