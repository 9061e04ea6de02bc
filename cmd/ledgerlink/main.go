// Package main is the entrypoint for the ledgerlink CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/eugenetaranov/ledgerlink/internal/config"
	"github.com/eugenetaranov/ledgerlink/internal/logging"
	"github.com/eugenetaranov/ledgerlink/internal/output"
	"github.com/eugenetaranov/ledgerlink/internal/plugin"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags
var (
	configPath string
	debug      bool
	noColor    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ledgerlink",
	Short: "ledgerlink - ledger connector for Corda nodes",
	Long: `ledgerlink drives a Corda node's administrative shell over SSH.

It deploys contract jars, lists and starts flows and queries the vault,
either directly from the command line or through its HTTP API.`,
	Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "ledgerlink.yaml", "Configuration file")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(flowsCmd)
	rootCmd.AddCommand(vaultCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(configCmd)
}

// newOutput returns the console printer configured from the global flags.
func newOutput() *output.Output {
	out := output.New(os.Stdout)
	out.SetColor(!noColor)
	out.SetDebug(debug)
	return out
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// loadPlugin reads the configuration and builds the connector. Command-line
// operations log at warn level unless --debug is set.
func loadPlugin(quiet bool) (*plugin.Plugin, *config.Config, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Log.Level
	switch {
	case debug:
		level = logrus.DebugLevel.String()
	case quiet:
		level = logrus.WarnLevel.String()
	}
	log, err := logging.New(level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return nil, nil, err
	}

	p, err := plugin.New(*cfg, plugin.WithLogger(log))
	if err != nil {
		return nil, nil, err
	}
	return p, cfg, nil
}

// serveCmd runs the HTTP API until interrupted
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Start the dedicated HTTP server configured in the http section and
serve the connector API and Prometheus metrics until SIGINT or SIGTERM.

Examples:
  ledgerlink serve -c ledgerlink.yaml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	p, cfg, err := loadPlugin(false)
	if err != nil {
		return err
	}
	if cfg.HTTP == nil {
		return fmt.Errorf("%s has no http section", configPath)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if _, err := p.InstallWebServices(ctx, nil); err != nil {
		return err
	}
	addr, _ := p.HTTPAddr()
	newOutput().Info("%s listening on http://%s", p.ID(), addr)

	<-ctx.Done()
	return p.Shutdown(context.Background())
}

// configCmd groups configuration helpers
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate <config.yaml> [config2.yaml ...]",
	Short: "Validate one or more configuration files",
	Long: `Parse and validate configuration files without connecting anywhere.

Examples:
  ledgerlink config validate ledgerlink.yaml
  ledgerlink config validate deploy/*.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: validateConfigs,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}

func validateConfigs(cmd *cobra.Command, args []string) error {
	out := newOutput()
	var failed int

	for _, path := range args {
		if _, err := config.LoadFile(path); err != nil {
			out.Item(path, output.StatusFailed, err.Error())
			failed++
			continue
		}
		out.Item(path, output.StatusOK, "")
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d config file(s) failed validation", failed, len(args))
	}
	out.Info("All %d config file(s) valid.", len(args))
	return nil
}
