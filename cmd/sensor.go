package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kilianp07/taxifleet/config"
	"github.com/kilianp07/taxifleet/core/sensor"
	"github.com/kilianp07/taxifleet/infra/logger"
)

var sensorCmd = &cobra.Command{
	Use:   "sensor",
	Short: "Run a taxi sensor; type minor, normal, major or fatal to report an incident",
	RunE:  runSensor,
}

func init() {
	rootCmd.AddCommand(sensorCmd)
}

func runSensor(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New("sensor")
	agent := sensor.NewAgent(cfg.Sensor.Agent(), log)
	go readIncidents(ctx, cmd.InOrStdin(), agent, log)
	return agent.Run(ctx)
}

// readIncidents turns each input line into an incident.
func readIncidents(ctx context.Context, r io.Reader, agent *sensor.Agent, log logger.Logger) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		imp, err := sensor.ParseImportance(line)
		if err != nil {
			log.Warnf("%v", err)
			continue
		}
		agent.Report(sensor.Incident{Importance: imp})
		log.Infof("%s incident reported", imp)
	}
}
