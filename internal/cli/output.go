package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Process exit codes. A command that ran but left work undone (failed
// scenarios, mutations still queued) exits with ExitFailure; one that could
// not run at all exits with ExitCommandError.
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitCommandError = 2
)

// ExitError carries the exit code main should use for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the code of the first ExitError in err's chain, and
// ExitFailure for any other error.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// envelope wraps every result printed with --format json.
type envelope struct {
	Status string     `json:"status"`
	Data   any        `json:"data,omitempty"`
	Error  *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// formatter prints a command's result as text or as a JSON envelope.
// Diagnostics go to diag so stdout stays parseable.
type formatter struct {
	json    bool
	out     io.Writer
	diag    io.Writer
	verbose bool
}

func newFormatter(opts *RootOptions, out, diag io.Writer) *formatter {
	if diag == nil {
		diag = out
	}
	return &formatter{json: opts.Format == "json", out: out, diag: diag, verbose: opts.Verbose}
}

// Render prints data. In text mode text does the printing.
func (f *formatter) Render(data any, text func(w io.Writer)) error {
	if f.json {
		return json.NewEncoder(f.out).Encode(envelope{Status: "ok", Data: data})
	}
	text(f.out)
	return nil
}

// Fail prints a failed result under a stable code. Text mode prints
// details through text when given, or a one-line summary.
func (f *formatter) Fail(code, message string, details any, text func(w io.Writer)) error {
	if f.json {
		return json.NewEncoder(f.out).Encode(envelope{
			Status: "error",
			Error:  &errorBody{Code: code, Message: message, Details: details},
		})
	}
	if text != nil {
		text(f.out)
		return nil
	}
	fmt.Fprintf(f.out, "error [%s]: %s\n", code, message)
	return nil
}

// Logf writes one diagnostic line when --verbose is set.
func (f *formatter) Logf(format string, args ...any) {
	if f.verbose {
		fmt.Fprintf(f.diag, format+"\n", args...)
	}
}
