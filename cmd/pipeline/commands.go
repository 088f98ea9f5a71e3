package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"dcf_valuation/pkg/core/assumption"
	"dcf_valuation/pkg/core/config"
	"dcf_valuation/pkg/core/ingest"
	"dcf_valuation/pkg/core/logging"
	"dcf_valuation/pkg/core/pipeline"
	"dcf_valuation/pkg/core/report"
	"dcf_valuation/pkg/core/utils"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	dataDir    string
	outputDir  string
	logLevel   string
}

// env is what every subcommand needs once flags are parsed.
type env struct {
	cfg *config.Config
	log *zap.Logger
}

func newRootCommand(stdout io.Writer) *cobra.Command {
	opts := &rootOptions{}
	e := &env{}

	cmd := &cobra.Command{
		Use:           "pipeline",
		Short:         "Run DCF valuations from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.LoadDotEnv()
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.dataDir != "" {
				cfg.DataDir = opts.dataDir
			}
			if opts.outputDir != "" {
				cfg.OutputDir = opts.outputDir
			}
			if opts.logLevel != "" {
				cfg.LogLevel = opts.logLevel
			}
			log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			e.cfg, e.log = cfg, log
			return cfg.EnsureDirs()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if e.log != nil {
				_ = e.log.Sync()
			}
		},
	}
	cmd.SetOut(stdout)

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "optional YAML settings file")
	pf.StringVar(&opts.dataDir, "data", "", "data directory (overrides DATA_DIR)")
	pf.StringVarP(&opts.outputDir, "output", "o", "", "artifact directory (overrides OUTPUT_DIR)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(newRunCommand(e), newSynthCommand(e))
	return cmd
}

// loadAssumptions reads the assumptions file, or the configured defaults when
// path is empty.
func loadAssumptions(e *env, path string) (*assumption.File, error) {
	if path == "" {
		return config.LoadDefaults(e.cfg.DefaultsFile)
	}
	return assumption.LoadFile(path)
}

// =============================================================================
// RUN
// =============================================================================

type runOptions struct {
	assumptions    string
	csv            string
	synthetic      bool
	periods        int
	seed           int64
	lenientHistory bool
	asJSON         bool
}

func newRunCommand(e *env) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Value the base case and its scenarios and write the artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := loadAssumptions(e, opts.assumptions)
			if err != nil {
				return err
			}
			req := pipeline.Request{
				Assumptions:      file.Assumptions,
				Deltas:           file.Deltas(),
				Synthetic:        opts.synthetic,
				SyntheticPeriods: opts.periods,
				Seed:             opts.seed,
			}
			if opts.csv != "" {
				// CSV paths are relative to the working directory, not the data dir.
				abs, err := filepath.Abs(opts.csv)
				if err != nil {
					return err
				}
				req.CSVPath = abs
			}

			loader := ingest.NewLoader(e.cfg.DataDir, e.log)
			planner := pipeline.NewPlanner(loader, report.NewWriter(e.cfg.OutputDir, e.log), e.log)
			planner.SetValidationConfig(pipeline.ValidationConfig{StrictHistory: !opts.lenientHistory})

			res, err := planner.Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			if opts.asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printResults(cmd.OutOrStdout(), res)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.assumptions, "assumptions", "a", "", "assumptions file (.yaml, .yml or .json); defaults when empty")
	f.StringVar(&opts.csv, "csv", "", "historical revenue CSV")
	f.BoolVar(&opts.synthetic, "synthetic", false, "generate a seeded synthetic revenue history")
	f.IntVar(&opts.periods, "periods", ingest.DefaultSyntheticPeriods, "synthetic history length")
	f.Int64Var(&opts.seed, "seed", ingest.DefaultSeed, "synthetic history seed")
	f.BoolVar(&opts.lenientHistory, "lenient-history", false, "warn instead of failing when history disagrees with base revenue")
	f.BoolVar(&opts.asJSON, "json", false, "print the results as JSON")
	cmd.MarkFlagsMutuallyExclusive("csv", "synthetic")
	return cmd
}

func printResults(out io.Writer, res *pipeline.Results) {
	fmt.Fprintf(out, "Run %s (data: %s)\n\n", res.RunID, res.DataSource)

	rows := make([][]string, 0, len(res.Scenarios))
	for _, s := range res.Scenarios {
		irr := "n/a"
		if s.IRR != nil {
			irr = report.Percent(*s.IRR)
		}
		rows = append(rows, []string{
			s.Name,
			report.Percent(s.Assumptions.DiscountRate),
			report.Money(s.PVExplicitFCFF),
			report.Money(s.PVTerminalValue),
			report.Money(s.NPV),
			irr,
		})
	}
	fmt.Fprint(out, utils.MarkdownTable([]string{"Scenario", "WACC", "PV of FCFF", "PV of TV", "NPV", "IRR"}, rows))

	if len(res.Artifacts) > 0 {
		fmt.Fprintln(out, "\nArtifacts:")
		for _, label := range report.SortedLabels(res.Artifacts) {
			fmt.Fprintf(out, "  %-24s %s\n", label, res.Artifacts[label])
		}
	}
}

// =============================================================================
// SYNTH
// =============================================================================

func newSynthCommand(e *env) *cobra.Command {
	var (
		assumptionsPath string
		periods         int
		seed            int64
	)
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Write a seeded synthetic revenue history to the data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := loadAssumptions(e, assumptionsPath)
			if err != nil {
				return err
			}
			if err := file.Assumptions.Validate(); err != nil {
				return err
			}
			series, path, err := ingest.NewLoader(e.cfg.DataDir, e.log).Synthesize(file.Assumptions, periods, seed)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d periods to %s (latest revenue %s)\n",
				series.Len(), path, report.Money(series.Latest()))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&assumptionsPath, "assumptions", "a", "", "assumptions file; defaults when empty")
	f.IntVar(&periods, "periods", ingest.DefaultSyntheticPeriods, "number of periods")
	f.Int64Var(&seed, "seed", ingest.DefaultSeed, "random seed")
	return cmd
}
