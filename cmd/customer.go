package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kilianp07/taxifleet/core/customer"
	"github.com/kilianp07/taxifleet/infra/logger"
)

var (
	customerID   string
	destinations []string
)

var customerCmd = &cobra.Command{
	Use:   "customer",
	Short: "Run a customer through its destinations",
	RunE:  runCustomer,
}

func init() {
	customerCmd.Flags().StringVar(&customerID, "id", "", "customer id, overrides customer.id")
	customerCmd.Flags().StringSliceVar(&destinations, "to", nil, "destinations, overrides customer.destinations")
	rootCmd.AddCommand(customerCmd)
}

func runCustomer(_ *cobra.Command, _ []string) error {
	ctx, cfg, b, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()
	if customerID != "" {
		cfg.Customer.ID = customerID
	}
	if len(destinations) > 0 {
		cfg.Customer.Destinations = destinations
	}
	cc, err := cfg.Customer.Agent(cfg.Bus)
	if err != nil {
		return fmt.Errorf("customer: %w", err)
	}
	log := logger.New("customer-" + cc.ID.String())
	log.Infof("travelling to %s", strings.Join(cfg.Customer.Destinations, ", "))
	return customer.New(cc, b, log).Run(ctx)
}
