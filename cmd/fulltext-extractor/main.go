// Package main provides the fulltext extractor CLI entrypoint.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/spherical/fulltext-extractor/internal/config"
	"github.com/spherical/fulltext-extractor/internal/observability"
	"github.com/spherical/fulltext-extractor/pkg/fulltext"
)

const (
	version = "1.0.0"
)

// app holds what the persistent pre-run resolved for the subcommands.
type app struct {
	cfgFile    string
	outputJSON bool
	verbose    bool

	cfg    *config.Config
	logger *observability.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "fulltext-extractor",
		Short: "Extract plain text from PDFs with the containerized extractor",
		Long: `fulltext-extractor runs the extractor image once per PDF against a volume
shared with the Docker host and prints the text it produced.

Environment Variables:
  DOCKER_HOST         Container runtime endpoint (default: standard Docker env)
  EXTRACTOR_IMAGE     Extractor image name
  EXTRACTOR_VERSION   Extractor image tag
  WORKDIR             Shared volume as seen by this process
  MOUNTDIR            Shared volume as seen by the Docker host`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load() // Ignore error if .env doesn't exist

			cfg, err := config.Load(a.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logFormat := "console"
			if a.outputJSON {
				logFormat = "json"
			}
			logLevel := cfg.Observability.LogLevel
			if a.verbose {
				logLevel = "debug"
			}

			a.cfg = cfg
			a.logger = observability.NewLogger(observability.LogConfig{
				Level:       logLevel,
				Format:      logFormat,
				Output:      cmd.ErrOrStderr(),
				ServiceName: "fulltext-extractor",
			})
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file path (default: uses env vars)")
	rootCmd.PersistentFlags().BoolVar(&a.outputJSON, "json", false, "log in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(newExtractCmd(a))
	rootCmd.AddCommand(newCheckCmd(a))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func (a *app) client() (*fulltext.Client, error) {
	return fulltext.NewClientWithConfig(a.cfg, fulltext.WithLogger(a.logger))
}

func newExtractCmd(a *app) *cobra.Command {
	var (
		image      string
		cleanup    bool
		outputPath string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "extract <pdf-file>",
		Short: "Extract plain text from a PDF under the working directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			var opts []fulltext.Option
			if image != "" {
				opts = append(opts, fulltext.WithImage(image))
			}
			if cleanup {
				opts = append(opts, fulltext.WithCleanup(true))
			}

			text, err := client.Extract(ctx, args[0], opts...)
			if err != nil && !fulltext.IsKind(err, fulltext.KindCleanup) {
				return err
			}

			if werr := writeText(cmd.OutOrStdout(), outputPath, text); werr != nil {
				return werr
			}
			// A cleanup failure still fails the command once the text is safe.
			return err
		},
	}

	cmd.Flags().StringVar(&image, "image", "", "extractor image reference (default: configured image)")
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "also remove the source PDF once non-empty text was extracted")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write text to this file instead of stdout")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort the extraction after this long (0 = no limit)")

	return cmd
}

func writeText(stdout io.Writer, outputPath, text string) error {
	if outputPath == "" {
		_, err := io.WriteString(stdout, text)
		return err
	}
	if err := os.WriteFile(outputPath, []byte(text), 0644); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	return nil
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that the container runtime is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			if !client.Available(cmd.Context()) {
				return fmt.Errorf("container runtime is not available")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "container runtime is available")
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fulltext-extractor version %s\n", version)
		},
	}
}
