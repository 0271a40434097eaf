package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/taxifleet/core/taxi"
	"github.com/kilianp07/taxifleet/infra/logger"
)

var taxiID int

var taxiCmd = &cobra.Command{
	Use:   "taxi",
	Short: "Run a taxi agent",
	RunE:  runTaxi,
}

func init() {
	taxiCmd.Flags().IntVar(&taxiID, "id", -1, "taxi id, overrides taxi.id")
	rootCmd.AddCommand(taxiCmd)
}

func runTaxi(_ *cobra.Command, _ []string) error {
	ctx, cfg, b, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()
	if taxiID >= 0 {
		cfg.Taxi.ID = taxiID
	}
	if err := cfg.Taxi.Validate(); err != nil {
		return fmt.Errorf("taxi: %w", err)
	}

	log := logger.New(fmt.Sprintf("taxi-%d", cfg.Taxi.ID))
	err = taxi.New(cfg.Taxi.Agent(cfg.Bus), b, log).Run(ctx)
	if errors.Is(err, taxi.ErrFatalSensor) {
		log.Errorf("stopping after sensor failure")
	}
	return err
}
