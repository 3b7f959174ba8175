// Package output holds the CLI's exit codes, output-mode flags and JSON
// printing helpers.
package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1 // fatal setup failure (cannot open device, cannot guess it)
	ExitUsage   = 2
)

// ErrUsage marks an error as a usage problem so main can exit with
// ExitUsage instead of ExitError.
var ErrUsage = errors.New("usage error")

// Usagef returns a usage error with a formatted message.
func Usagef(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrUsage}, args...)...)
}

// Mode captures the output switches shared by every command.
type Mode struct {
	JSON    bool
	Quiet   bool
	Verbose bool
}

var mode Mode

// SetMode latches the output mode for the process, from the root command's
// PersistentPreRun. Verbose and quiet are mutually exclusive; JSON output
// implies quiet so the machine-readable stream stays clean.
func SetMode(m Mode) error {
	if m.Verbose && m.Quiet {
		return Usagef("--verbose and --quiet are mutually exclusive")
	}
	if m.JSON {
		m.Quiet = true
	}
	mode = m
	return nil
}

// IsJSON returns true when --json mode is active.
func IsJSON() bool { return mode.JSON }

// IsQuiet returns true when --quiet (or --json) mode is active.
func IsQuiet() bool { return mode.Quiet }

// IsVerbose returns true when --verbose mode is active.
func IsVerbose() bool { return mode.Verbose }

// PrintJSON marshals v as JSON and writes it to w.
func PrintJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
