package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/taxifleet/core/bus"
	"github.com/kilianp07/taxifleet/core/grid"
	"github.com/kilianp07/taxifleet/core/model"
	"github.com/kilianp07/taxifleet/infra/logger"
)

var (
	orderSession string
	orderWait    time.Duration
)

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Send an operator order to a taxi",
}

var orderGoToCmd = &cobra.Command{
	Use:   "goto <taxi> <x> <y>",
	Short: "Send a taxi to a coordinate",
	Args:  cobra.ExactArgs(3),
	RunE: func(_ *cobra.Command, args []string) error {
		id, err := parseTaxi(args[0])
		if err != nil {
			return err
		}
		target, err := parseCoordinate(args[1], args[2])
		if err != nil {
			return err
		}
		return sendOrder(bus.OrderGoTo, id, target)
	},
}

var orderStopCmd = &cobra.Command{
	Use:   "stop <taxi>",
	Short: "Stop a taxi",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		id, err := parseTaxi(args[0])
		if err != nil {
			return err
		}
		return sendOrder(bus.OrderStop, id, grid.Coordinate{})
	},
}

var orderContinueCmd = &cobra.Command{
	Use:   "continue <taxi>",
	Short: "Let a stopped taxi drive again",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		id, err := parseTaxi(args[0])
		if err != nil {
			return err
		}
		return sendOrder(bus.OrderContinue, id, grid.Coordinate{})
	},
}

func init() {
	orderCmd.PersistentFlags().StringVar(&orderSession, "session", "", "dispatcher session; learned from the next map update when empty")
	orderCmd.PersistentFlags().DurationVar(&orderWait, "wait", 15*time.Second, "how long to wait for a map update")
	orderCmd.AddCommand(orderGoToCmd, orderStopCmd, orderContinueCmd)
	rootCmd.AddCommand(orderCmd)
}

func parseTaxi(s string) (model.TaxiID, error) { return bus.ParseTaxiRef(s) }

func parseCoordinate(xs, ys string) (grid.Coordinate, error) {
	x, err := strconv.Atoi(xs)
	if err != nil {
		return grid.Coordinate{}, fmt.Errorf("x: %w", err)
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return grid.Coordinate{}, fmt.Errorf("y: %w", err)
	}
	c := grid.Coordinate{X: x, Y: y}
	if !c.Valid() {
		return grid.Coordinate{}, fmt.Errorf("%v is off the grid", c)
	}
	return c, nil
}

func sendOrder(subject bus.Subject, id model.TaxiID, target grid.Coordinate) error {
	ctx, cfg, b, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()
	topics := cfg.Bus.Topics()

	session := orderSession
	if session == "" {
		waitCtx, cancel := context.WithTimeout(ctx, orderWait)
		defer cancel()
		if session, err = learnSession(waitCtx, b, topics); err != nil {
			return err
		}
	}
	e := bus.Envelope{Subject: subject, ID: bus.TaxiRef(id), Coord: target, Session: session}
	e.Stamp(time.Now())
	if err := b.Publish(ctx, topics.Requests(), e); err != nil {
		return fmt.Errorf("publish order: %w", err)
	}
	logger.New("order").Infof("%s sent to taxi %d", subject, id)
	return nil
}

// learnSession waits for a map update and returns its session.
func learnSession(ctx context.Context, s bus.Subscriber, topics bus.Topics) (string, error) {
	sub, err := s.Subscribe(topics.Map())
	if err != nil {
		return "", fmt.Errorf("subscribe map: %w", err)
	}
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return "", errors.New("no map update received; pass --session")
		case e, ok := <-sub.C():
			if !ok {
				return "", bus.ErrClosed
			}
			if e.Subject == bus.MapUpdate && e.Session != "" {
				return e.Session, nil
			}
		}
	}
}
