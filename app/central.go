// Package app assembles the dispatcher process from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/taxifleet/config"
	"github.com/kilianp07/taxifleet/core/bus"
	"github.com/kilianp07/taxifleet/core/dispatch"
	"github.com/kilianp07/taxifleet/core/handshake"
	coremetrics "github.com/kilianp07/taxifleet/core/metrics"
	"github.com/kilianp07/taxifleet/core/model"
	"github.com/kilianp07/taxifleet/core/store"
	"github.com/kilianp07/taxifleet/infra/logger"
	"github.com/kilianp07/taxifleet/infra/metrics"
	"github.com/kilianp07/taxifleet/infra/store/backend"
)

// Central runs the dispatcher, the handshake server and the metrics
// endpoint.
type Central struct {
	Dispatcher *dispatch.Dispatcher
	server     *handshake.Server
	store      store.Store
	sink       coremetrics.MetricsSink
	locations  []model.Location
	listen     string
	resume     bool
	promAddr   string
	log        logger.Logger

	mu sync.Mutex
	ln net.Listener
}

// NewCentral opens the store and the metrics sinks. The bus belongs to the
// caller.
func NewCentral(cfg *config.Config, b bus.Bus) (*Central, error) {
	if err := cfg.Central.Validate(); err != nil {
		return nil, fmt.Errorf("central: %w", err)
	}
	locations, err := cfg.Central.MapLocations()
	if err != nil {
		return nil, err
	}
	st, err := backend.Open(cfg.Central.Store)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	topics := cfg.Bus.Topics()
	srv := handshake.NewServer(st, b, topics, logger.New("handshake"))
	if cfg.Central.ReadTimeout > 0 {
		srv.SetReadTimeout(cfg.Central.ReadTimeout)
	}
	return &Central{
		Dispatcher: dispatch.New(cfg.Central.Dispatch(cfg.Bus), st, b, sink, logger.New("dispatcher")),
		server:     srv,
		store:      st,
		sink:       sink,
		locations:  locations,
		listen:     cfg.Central.Listen,
		resume:     cfg.Central.Resume,
		promAddr:   cfg.Metrics.PrometheusAddr,
		log:        logger.New("central"),
	}, nil
}

// Listen binds the handshake address. Run calls it when needed.
func (c *Central) Listen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", c.listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", c.listen, err)
	}
	c.ln = ln
	return nil
}

// Addr is the bound handshake address, nil before Listen.
func (c *Central) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ln == nil {
		return nil
	}
	return c.ln.Addr()
}

// Run opens the session and serves until ctx is done. Taxis are accepted
// only once the dispatcher listens for their announcements.
func (c *Central) Run(ctx context.Context) error {
	session, err := c.Dispatcher.Start(ctx, c.locations, c.resume)
	if err != nil {
		return err
	}
	c.log.Infof("session %s open with %d locations", session, len(c.locations))
	if err := c.Listen(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Dispatcher.Run(gctx) })
	g.Go(func() error {
		select {
		case <-c.Dispatcher.Ready():
		case <-gctx.Done():
			_ = c.ln.Close()
			return nil
		}
		c.log.Infof("accepting taxis on %s", c.ln.Addr())
		return c.server.Serve(gctx, c.ln)
	})
	if c.promAddr != "" {
		g.Go(func() error { return metrics.StartPromServer(gctx, c.promAddr) })
	}
	return g.Wait()
}

// Close releases the store and flushes the metrics sinks.
func (c *Central) Close() error {
	var errs []error
	if err := c.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	closeSink(c.sink)
	return errors.Join(errs...)
}

func closeSink(s coremetrics.MetricsSink) {
	switch v := s.(type) {
	case interface{ Close() }:
		v.Close()
	case *coremetrics.MultiSink:
		for _, inner := range v.Sinks {
			closeSink(inner)
		}
	}
}
