package main

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"gendispatch/pkg/config"
	"gendispatch/pkg/errors"
)

const (
	exitFailed   = 1
	exitUsage    = 64 // command line usage error
	exitSoftware = 70 // internal software error
)

var rootCmd = &cobra.Command{
	Use:           "gendispatch",
	Short:         "Generic dispatch and attribute cache runtime",
	Long:          `gendispatch replays dispatch scenarios against the runtime and reports cache behaviour`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		colorFlag, err := cmd.Root().PersistentFlags().GetString("color")
		if err != nil {
			return err
		}
		return setupColor(colorFlag)
	},
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageError(format string, args ...any) error {
	return &exitError{code: exitUsage, err: fmt.Errorf(format, args...)}
}

func init() {
	rootCmd.Version = version

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().String("config", "", "configuration file (.toml, .yaml)")
	rootCmd.PersistentFlags().Bool("quiet", false, "suppress non-essential output")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &exitError{code: exitUsage, err: err}
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		code := exitSoftware
		var ee *exitError
		if stderrors.As(err, &ee) {
			code = ee.code
		}
		if code != exitFailed {
			errors.DisplayErrors(os.Stderr, "", []error{err})
		}
		os.Exit(code)
	}
}

func setupColor(mode string) error {
	switch mode {
	case "auto":
		fd := os.Stdout.Fd()
		color.NoColor = !(isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)) || os.Getenv("NO_COLOR") != ""
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	default:
		return usageError("--color must be auto, on or off, got %q", mode)
	}
	return nil
}

// loadConfig reads the --config file, if any, plus environment overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(path)
}
