package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rcourtman/supertab-client/internal/config"
	apierrors "github.com/rcourtman/supertab-client/internal/errors"
	"github.com/rcourtman/supertab-client/internal/logging"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	flagMock        bool
	flagSite        string
	flagMetricsAddr string
	flagLogLevel    string
	flagYes         bool
)

var rootCmd = &cobra.Command{
	Use:     "supertab",
	Short:   "Supertab - pay-as-you-go Tab client",
	Long:    `Supertab drives a Tab purchase flow from the terminal: browse a site's offerings, add them to your Tab and settle it once it is full.`,
	Version:       Version,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessionCmd(cmd)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an interactive purchase session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessionCmd(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Supertab %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Fprintf(out, "Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Fprintf(out, "Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&flagMock, "mock", false, "use the in-memory Tab service instead of the hosted one")
	pf.StringVar(&flagSite, "site", "", "client config id of the site to load offerings from")
	pf.StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.BoolVarP(&flagYes, "yes", "y", false, "approve payments without asking")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(offeringsCmd)
	rootCmd.AddCommand(accessCmd)
	rootCmd.AddCommand(tabCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := errorHint(err); hint != "" {
			fmt.Fprintln(os.Stderr, hint)
		}
		os.Exit(1)
	}
}

// errorHint suggests what to do about a failed Tab service call.
func errorHint(err error) string {
	switch {
	case apierrors.IsAuthError(err):
		return "Sign in again and retry."
	case apierrors.IsRetryableError(err):
		if code := apierrors.StatusCode(err); code != 0 {
			return fmt.Sprintf("The Tab service answered %d. Try again shortly.", code)
		}
		return "The Tab service could not be reached. Try again shortly."
	default:
		return ""
	}
}

// loadConfig reads the environment and applies flags that were set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	// Baseline logger for startup errors
	logging.Init(logging.Config{Format: "auto", Level: "info", Component: "supertab", Output: cmd.ErrOrStderr()})

	flags := cmd.Flags()
	cfg, err := config.LoadConfig(func(c *config.Config) {
		if flags.Changed("mock") {
			c.Mock = flagMock
		}
		if flags.Changed("site") {
			c.SiteID = flagSite
		}
		if flags.Changed("metrics-addr") {
			c.MetricsAddr = flagMetricsAddr
		}
		if flags.Changed("log-level") {
			c.LogLevel = flagLogLevel
		}
		if c.Mock && c.SiteID == "" && c.ClientID == "" {
			c.SiteID = defaultMockSite
		}
	})
	if err != nil {
		return nil, err
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "supertab",
		Output:    cmd.ErrOrStderr(),
	})
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runSessionCmd(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a := newApp(cfg, cmd.OutOrStdout(), flagYes)
	a.start(ctx)

	log.Info().
		Str("site", cfg.SiteID).
		Bool("mock", cfg.Mock).
		Str("version", Version).
		Msg("Starting Supertab session")

	return runSession(ctx, a, cmd.InOrStdin(), cmd.OutOrStdout())
}
