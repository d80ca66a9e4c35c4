package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"gendispatch/pkg/report"
	"gendispatch/pkg/scenario"
)

var (
	runFormat  string
	runThreads int
)

func init() {
	runCmd.Flags().StringVar(&runFormat, "format", "", "report format (text|msgpack); defaults to report.format")
	runCmd.Flags().IntVar(&runThreads, "threads", 0, "override the scenario's thread count")
}

var runCmd = &cobra.Command{
	Use:   "run <scenario.yaml>...",
	Short: "Replay scenario files and report cache and dispatch statistics",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return usageError("run: at least one scenario file is required")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		quiet, _ := cmd.Root().PersistentFlags().GetBool("quiet")
		format := runFormat
		if format == "" {
			format = cfg.Report.Format
		}
		if format != report.FormatText && format != report.FormatMsgpack {
			return usageError("--format must be text or msgpack, got %q", format)
		}
		if runThreads < 0 {
			return usageError("--threads must not be negative")
		}
		logger := cfg.Log.NewLogger(os.Stderr)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		var reports []report.Report
		failed := 0
		for _, path := range args {
			sc, err := scenario.Load(path)
			if err != nil {
				return err
			}
			if runThreads > 0 {
				sc.Threads = runThreads
			}
			if sc.Name == "" {
				sc.Name = path
			}
			res, err := scenario.Run(ctx, sc, cfg, logger)
			if err != nil {
				return err
			}
			if !res.Passed() {
				failed++
			}
			rep := report.FromResult(res)
			if quiet && format == report.FormatText && res.Passed() {
				continue
			}
			reports = append(reports, rep)
		}
		if err := report.Write(cmd.OutOrStdout(), format, reports...); err != nil {
			return err
		}
		if failed > 0 {
			return &exitError{code: exitFailed, err: fmt.Errorf("%d of %d scenario(s) failed", failed, len(args))}
		}
		return nil
	},
}
