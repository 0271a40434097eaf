package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kilianp07/taxifleet/app"
	"github.com/kilianp07/taxifleet/infra/logger"
)

var resume bool

var centralCmd = &cobra.Command{
	Use:   "central",
	Short: "Run the dispatcher",
	RunE:  runCentral,
}

func init() {
	centralCmd.Flags().BoolVar(&resume, "resume", false, "keep the persisted session and fleet")
	rootCmd.AddCommand(centralCmd)
}

func runCentral(cmd *cobra.Command, _ []string) error {
	ctx, cfg, b, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()
	if cmd.Flags().Changed("resume") {
		cfg.Central.Resume = resume
	}

	svc, err := app.NewCentral(cfg, b)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("central close: %v", err)
		}
	}()
	return svc.Run(ctx)
}
