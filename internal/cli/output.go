package cli

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Francklinok/EasyRent-sub004/internal/errors"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The operation ran and failed (rejected, not found, ...)
	ExitCommandError = 2 // Command error (bad flags, configuration, database unavailable)
)

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error, ExitFailure by default.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Response is the JSON envelope of every command.
type Response struct {
	Status string         `json:"status"` // "ok" or "error"
	Data   any            `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ResponseError describes a failed command.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Output writes command results in the selected format.
type Output struct {
	Format string
	Writer io.Writer
}

func newOutput(cmd *cobra.Command, opts *RootOptions) *Output {
	return &Output{Format: opts.Format, Writer: cmd.OutOrStdout()}
}

// Success writes data. In text mode text renders it; a nil text prints
// data with %v.
func (o *Output) Success(data any, text func(w io.Writer)) error {
	if o.Format == "json" {
		return json.NewEncoder(o.Writer).Encode(Response{Status: "ok", Data: data})
	}
	if text == nil {
		_, err := fmt.Fprintln(o.Writer, data)
		return err
	}
	text(o.Writer)
	return nil
}

// Error writes err and returns it wrapped with its exit code.
func (o *Output) Error(err error) error {
	code := string(errors.CodeOf(err))
	if o.Format == "json" {
		_ = json.NewEncoder(o.Writer).Encode(Response{
			Status: "error",
			Error:  &ResponseError{Code: code, Message: err.Error()},
		})
	} else {
		fmt.Fprintf(o.Writer, "Error [%s]: %v\n", code, err)
	}
	return WrapExitError(ExitFailure, "command failed", err)
}
