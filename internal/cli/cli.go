// Package cli parses command-line arguments into application options.
package cli

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/vk/chunkforge/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns populated Options, a
// boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Options, bool, error) {
	flagSet := flag.NewFlagSet("chunkforge", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
chunkforge - a dependency-scheduled chunk generation engine.

Usage:
  chunkforge [options]

Options:
`)
		flagSet.PrintDefaults()
	}

	configFlag := flagSet.String("config", "", "Path to a world .hcl file or a directory of .hcl files.")
	centerFlag := flagSet.String("center", "0,0", "Center chunk of the region to generate, as \"x,z\".")
	radiusFlag := flagSet.Int("radius", 4, "Chebyshev radius of the region to generate around the center.")
	targetFlag := flagSet.String("target", "full", "Pipeline stage to drive every chunk in the region to.")
	workersFlag := flagSet.Int("workers", 0, "Override the configured worker pool size. 0 keeps the config value.")
	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health/stats server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	if flagSet.NArg() > 0 {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unexpected argument %q", flagSet.Arg(0))}
	}

	cx, cz, err := parseCenter(*centerFlag)
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	if *radiusFlag < 0 {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("radius must be >= 0, got %d", *radiusFlag)}
	}

	return &app.Options{
		ConfigPath:      *configFlag,
		CenterX:         cx,
		CenterZ:         cz,
		Radius:          *radiusFlag,
		Target:          *targetFlag,
		Workers:         *workersFlag,
		HealthcheckPort: *healthPortFlag,
		LogFormat:       *logFormatFlag,
		LogLevel:        *logLevelFlag,
	}, false, nil
}

// parseCenter splits an "x,z" pair into its two integer coordinates.
func parseCenter(raw string) (int32, int32, error) {
	xs, zs, ok := strings.Cut(raw, ",")
	if !ok {
		return 0, 0, fmt.Errorf("center must be \"x,z\", got %q", raw)
	}
	x, err := strconv.ParseInt(strings.TrimSpace(xs), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("center x: %w", err)
	}
	z, err := strconv.ParseInt(strings.TrimSpace(zs), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("center z: %w", err)
	}
	return int32(x), int32(z), nil
}
