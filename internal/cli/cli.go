package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ben-ranford/nfttrace/internal/app"
	"github.com/ben-ranford/nfttrace/internal/report"
)

type Runner interface {
	Execute(ctx context.Context, req app.Request) (app.Output, error)
}

type CLI struct {
	Runner Runner
	Out    io.Writer
	Err    io.Writer
}

func New(runner Runner, out io.Writer, errOut io.Writer) *CLI {
	return &CLI{
		Runner: runner,
		Out:    out,
		Err:    errOut,
	}
}

// Run executes one command line and returns the process exit code: 0 on
// success, 1 when the trace or its output failed, 2 for bad usage.
func (c *CLI) Run(ctx context.Context, args []string) int {
	if args == nil {
		args = []string{}
	}
	root := c.rootCommand()
	root.SetArgs(args)
	root.SetOut(c.Out)
	root.SetErr(c.Err)

	cmd, err := root.ExecuteContextC(ctx)
	if err == nil {
		return 0
	}
	var usage *usageError
	if errors.As(err, &usage) {
		fmt.Fprintf(c.Err, "error: %v\n\n", err)
		fmt.Fprint(c.Err, cmd.UsageString())
		return 2
	}
	fmt.Fprintln(c.Err, err.Error())
	return 1
}

func (c *CLI) execute(ctx context.Context, req app.Request) error {
	output, runErr := c.Runner.Execute(ctx, req)
	if output.Text != "" {
		fmt.Fprint(c.Out, output.Text)
		if !strings.HasSuffix(output.Text, "\n") {
			fmt.Fprintln(c.Out)
		}
	}
	if len(output.Warnings) > 0 {
		fmt.Fprint(c.Err, report.FormatWarnings(output.Warnings))
	}
	return runErr
}

type usageError struct {
	err error
}

func (e *usageError) Error() string {
	return e.err.Error()
}

func (e *usageError) Unwrap() error {
	return e.err
}

func usageErrorf(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}
