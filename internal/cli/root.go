package cli

import (
	"github.com/spf13/cobra"

	"github.com/ben-ranford/nfttrace/internal/app"
	"github.com/ben-ranford/nfttrace/internal/report"
)

func (c *CLI) rootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nfttrace",
		Short: "Trace the files a Node.js program needs at runtime",
		Long: `nfttrace statically follows require, import and file system references
from one or more entry files and reports every file the program can load.

Dynamic expressions are evaluated where their value is knowable, so
path.join(__dirname, 'data.json') and similar forms are traced as assets.`,
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageErrorf("unknown command %q", args[0])
			}
			return cmd.Help()
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})
	addTraceFlags(rootCmd)

	printCmd := &cobra.Command{
		Use:   "print <file...>",
		Short: "Print the traced file list",
		Args:  minimumArgs(1),
		RunE:  c.runMode(app.ModePrint),
	}
	printCmd.Flags().String("format", string(report.FormatList), "Output format: list|json|nft")
	printCmd.Flags().String("nft-dir", "", "Directory the nft listing is relative to (default: base)")

	buildCmd := &cobra.Command{
		Use:   "build <file...>",
		Short: "Copy the traced files into an output directory",
		Args:  minimumArgs(1),
		RunE:  c.runMode(app.ModeBuild),
	}
	buildCmd.Flags().String("out", "", "Output directory, emptied before copying")

	sizeCmd := &cobra.Command{
		Use:   "size <file...>",
		Short: "Print the size of every traced file",
		Args:  minimumArgs(1),
		RunE:  c.runMode(app.ModeSize),
	}

	whyCmd := &cobra.Command{
		Use:   "why <target> <file...>",
		Short: "Explain why a file was included in the trace",
		Args:  minimumArgs(2),
		RunE:  c.runMode(app.ModeWhy),
	}

	rootCmd.AddCommand(printCmd, buildCmd, sizeCmd, whyCmd)
	return rootCmd
}

func (c *CLI) runMode(mode app.Mode) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		req, err := c.buildRequest(cmd, mode, args)
		if err != nil {
			return err
		}
		return c.execute(cmd.Context(), req)
	}
}

func minimumArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.MinimumNArgs(n)(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}
