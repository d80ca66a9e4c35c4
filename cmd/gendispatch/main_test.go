package main

import (
	"bytes"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
)

// execute runs the root command with args and returns its standard output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	flags := rootCmd.PersistentFlags()
	flags.Set("color", "auto")
	flags.Set("config", "")
	flags.Set("quiet", "false")
	rootCmd.SetArgs(args)
	runFormat, runThreads = "", 0
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRunScenario(t *testing.T) {
	out, err := execute(t, "--color", "off", "run", "../../pkg/scenario/testdata/print_dispatch.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "PASS") || !strings.Contains(out, "dispatches") {
		t.Errorf("unexpected report:\n%s", out)
	}
	if !color.NoColor {
		t.Errorf("expected --color off to disable color")
	}
}

func TestRunFailingScenario(t *testing.T) {
	out, err := execute(t, "--color", "off", "run", "../../pkg/scenario/testdata/bad_expectation.yaml")
	var ee *exitError
	if !stderrors.As(err, &ee) || ee.code != exitFailed {
		t.Fatalf("expected a failed exit, got %v", err)
	}
	if !strings.Contains(out, "FAIL (2)") {
		t.Errorf("unexpected report:\n%s", out)
	}
}

func TestUsageErrors(t *testing.T) {
	tests := [][]string{
		{"run"},
		{"--color", "sometimes", "version"},
		{"run", "--format", "csv", "../../pkg/scenario/testdata/print_dispatch.yaml"},
	}
	for _, args := range tests {
		_, err := execute(t, args...)
		var ee *exitError
		if !stderrors.As(err, &ee) || ee.code != exitUsage {
			t.Errorf("%v: expected a usage error, got %v", args, err)
		}
	}
}

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gendispatch.toml")
	if err := os.WriteFile(path, []byte("[cache]\nmonomorphic_limit = 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "--config", path, "config")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "monomorphic_limit = 5") {
		t.Errorf("expected the file value in the output, got:\n%s", out)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "--color", "off", "version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "gendispatch "+version) {
		t.Errorf("unexpected output %q", out)
	}
}
