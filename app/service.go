package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kilianp07/flexsim/api"
	"github.com/kilianp07/flexsim/config"
	"github.com/kilianp07/flexsim/core/aggregator"
	"github.com/kilianp07/flexsim/core/clock"
	"github.com/kilianp07/flexsim/core/ledger"
	coremetrics "github.com/kilianp07/flexsim/core/metrics"
	"github.com/kilianp07/flexsim/core/notify"
	"github.com/kilianp07/flexsim/core/reportlog"
	"github.com/kilianp07/flexsim/core/task"
	"github.com/kilianp07/flexsim/infra/kafka"
	ledgermqtt "github.com/kilianp07/flexsim/infra/ledger/mqtt"
	"github.com/kilianp07/flexsim/infra/ledger/memory"
	"github.com/kilianp07/flexsim/infra/logger"
	"github.com/kilianp07/flexsim/infra/metrics"
)

// Service wires the aggregator to its ledger, stores, sinks and surfaces.
type Service struct {
	cfg      *config.Config
	log      logger.Logger
	clock    *clock.Clock
	agg      *aggregator.Aggregator
	bus      *notify.Bus
	ledger   ledger.Ledger
	reports  reportlog.Store
	sink     coremetrics.MetricsSink
	api      *api.Server
	kafka    *kafka.Publisher
	scenario *config.Scenario
	spawner  *task.Group
	closers  []func() error
}

// New builds a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	log := logger.New("service")
	s := &Service{cfg: cfg, log: log, spawner: &task.Group{}}
	if err := s.build(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) build() error {
	cfg := s.cfg
	l, closeLedger, err := openLedger(cfg)
	if err != nil {
		return err
	}
	s.ledger = l
	s.closers = append(s.closers, closeLedger)

	s.sink, err = coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return fmt.Errorf("metrics sink: %w", err)
	}
	s.closers = append(s.closers, func() error { coremetrics.Close(s.sink); return nil })

	s.reports, err = reportlog.NewStore(cfg.Reports)
	if err != nil {
		return fmt.Errorf("report store: %w", err)
	}
	s.closers = append(s.closers, s.reports.Close)

	s.bus = notify.NewBus(cfg.API.StreamBuffer)
	s.closers = append(s.closers, func() error { s.bus.Close(); return nil })

	opts, err := cfg.Simulation.Options()
	if err != nil {
		return err
	}
	s.clock = clock.New(cfg.Simulation.ClockOptions(), logger.New("clock"))
	s.agg, err = aggregator.New(opts, aggregator.Deps{
		Clock:    s.clock,
		Ledger:   aggregator.Instrument(s.ledger, s.sink, logger.New("ledger")),
		Notifier: s.bus,
		Metrics:  s.sink,
		Reports:  s.reports,
		Spawner:  s.spawner,
		Logger:   logger.New("aggregator"),
	})
	if err != nil {
		return err
	}

	if cfg.Simulation.Scenario != "" {
		s.scenario, err = config.LoadScenario(cfg.Simulation.Scenario)
		if err != nil {
			return err
		}
	}
	if len(cfg.Kafka.Brokers) > 0 {
		s.kafka, err = kafka.NewPublisher(cfg.Kafka, logger.New("kafka"))
		if err != nil {
			return err
		}
		s.closers = append(s.closers, s.kafka.Close)
	}
	s.api = api.NewServer(s.agg, s.bus, logger.New("api"), api.WithMetrics(promhttp.Handler()))
	return nil
}

func openLedger(cfg *config.Config) (ledger.Ledger, func() error, error) {
	switch cfg.Ledger.Backend {
	case config.LedgerMQTT:
		c, err := ledgermqtt.NewClient(cfg.MQTT, logger.New("ledger_client"))
		if err != nil {
			return nil, nil, fmt.Errorf("mqtt ledger: %w", err)
		}
		return c, c.Close, nil
	default:
		m := memory.New(logger.New("ledger"))
		return m, m.Close, nil
	}
}

// Aggregator returns the simulation driven by the service.
func (s *Service) Aggregator() *aggregator.Aggregator { return s.agg }

// Run sets the simulation up, starts it and serves the API until ctx is
// cancelled.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := s.agg.Setup(ctx); err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	if s.scenario != nil {
		r := newScenarioRunner(ctx, s.scenario, s.agg, s.spawner, logger.New("scenario"))
		s.clock.AddCallback(r.onTick)
	}
	if err := s.agg.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 3)
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}
	run("api", func() error { return s.api.Run(ctx, s.cfg.API.Addr) })
	if s.kafka != nil {
		sub := s.bus.Subscribe()
		run("kafka", func() error { return s.kafka.Run(ctx, sub) })
	}
	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		run("prometheus", func() error { return metrics.StartPromServer(ctx, addr, logger.New("metrics")) })
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
		cancel()
	}
	s.agg.Stop(context.WithoutCancel(ctx))
	s.clock.Wait()
	s.spawner.Wait()
	s.bus.Close()
	wg.Wait()
	return err
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
