// Package cmd holds the taxifleet command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/taxifleet/app/plugins"
	"github.com/kilianp07/taxifleet/config"
	"github.com/kilianp07/taxifleet/core/bus"
	"github.com/kilianp07/taxifleet/infra/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "taxifleet",
	Short:         "Taxi fleet dispatcher and agents",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

// setup loads the configuration and opens the bus under a signal aware
// context. The returned cleanup closes the bus and releases the signals.
func setup() (context.Context, *config.Config, bus.Bus, func(), error) {
	ctx, stop := signalContext()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		stop()
		return nil, nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	b, err := plugins.OpenBus(cfg)
	if err != nil {
		stop()
		return nil, nil, nil, nil, err
	}
	cleanup := func() {
		if err := b.Close(); err != nil {
			logger.New("main").Errorf("bus close: %v", err)
		}
		stop()
	}
	return ctx, cfg, b, cleanup, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
