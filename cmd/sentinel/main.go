// Sentinel - Behavioral Anomaly Detection for CampusVerify
// Copyright 2026 CampusVerify
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/campusverify/sentinel

// Command sentinel runs the behavioral anomaly detection service:
// ingestion pipeline, detection engine, moderation HTTP API, and the
// live WebSocket feed, all under one supervisor tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/campusverify/sentinel/internal/api"
	"github.com/campusverify/sentinel/internal/config"
	"github.com/campusverify/sentinel/internal/detection"
	"github.com/campusverify/sentinel/internal/ingest"
	"github.com/campusverify/sentinel/internal/logging"
	"github.com/campusverify/sentinel/internal/trust"
	ws "github.com/campusverify/sentinel/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logging.Init(cfg.Log.Logging())
	logging.Info().
		Str("addr", cfg.Server.Addr).
		Str("transport", cfg.Ingest.Transport).
		Bool("detection_enabled", cfg.Detection.Enabled).
		Msg("Starting sentinel")

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Sentinel terminated")
	}
	logging.Info().Msg("Sentinel stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := detection.NewEventStore(detection.EventStoreConfig{
		RumorRetention: cfg.Detection.RumorRetention,
		UserRetention:  cfg.Detection.UserRetention,
		SkewTolerance:  cfg.Detection.SkewTolerance,
	})

	audit, err := openAudit(cfg.Audit)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}

	ledger := trust.NewLedger()
	hub := ws.NewHub()

	dispatchCfg := detection.DefaultDispatcherConfig()
	dispatchCfg.MaxRetries = cfg.Dispatch.MaxRetries
	dispatchCfg.InitialInterval = cfg.Dispatch.InitialInterval
	dispatchCfg.MaxInterval = cfg.Dispatch.MaxInterval
	dispatchCfg.PenaltyAmount = cfg.Dispatch.PenaltyAmount
	dispatchCfg.RatePerSecond = cfg.Dispatch.RatePerSecond
	dispatcher := detection.NewDispatcher(dispatchCfg, ledger)

	engine := detection.NewEngine(
		store,
		detection.NewProfiler(detection.DefaultProfilerConfig()),
		detection.NewAggregator(detection.AggregatorConfig{HalfLife: cfg.Detection.HalfLife}),
		dispatcher,
		audit,
		hub,
	)
	if err := registerDetectors(engine, store, cfg.Detection); err != nil {
		return fmt.Errorf("configure detectors: %w", err)
	}
	engine.SetEnabled(cfg.Detection.Enabled)

	pipeline, publisher, err := buildPipeline(cfg.Ingest, engine)
	if err != nil {
		return fmt.Errorf("build ingest pipeline: %w", err)
	}

	handler := api.NewHandler(engine, publisher, ledger, hub, cfg.Server.AllowedOrigins)
	router := api.NewRouter(handler, api.RouterConfig{
		RateLimit:      cfg.Server.RateLimit,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	slogger := logging.NewSlogLogger()
	root := suture.New("sentinel", suture.Spec{
		EventHook: (&sutureslog.Handler{Logger: slogger}).MustHook(),
	})
	root.Add(hub)
	root.Add(engine)
	root.Add(pipeline)
	root.Add(&httpService{
		addr:            cfg.Server.Addr,
		handler:         router,
		readTimeout:     cfg.Server.ReadTimeout,
		writeTimeout:    cfg.Server.WriteTimeout,
		shutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if cfg.Dispatch.RecoveryAmount > 0 {
		root.Add(&trustRecoveryService{ledger: ledger, amount: cfg.Dispatch.RecoveryAmount})
	}

	err = root.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openAudit(cfg config.AuditConfig) (detection.AuditStore, error) {
	if cfg.Dir == "" {
		logging.Info().Msg("Audit store is in-memory, assessments do not survive restarts")
		return detection.NewMemoryAuditStore(), nil
	}
	return detection.OpenBadgerAudit(detection.BadgerAuditConfig{
		Path:          cfg.Dir,
		SyncWrites:    cfg.SyncWrites,
		RetentionDays: cfg.RetentionDays,
	})
}

// registerDetectors wires the four rumor-scope detectors in their
// evaluation order and applies the configured thresholds.
func registerDetectors(engine *detection.Engine, store *detection.EventStore, cfg config.DetectionConfig) error {
	engine.RegisterDetector(detection.NewTemporalClusteringDetector(store))
	engine.RegisterDetector(detection.NewIntervalRegularityDetector(store))
	engine.RegisterDetector(detection.NewVelocitySpikeDetector(store))
	engine.RegisterDetector(detection.NewDirectionalBiasDetector(store))

	for _, dc := range []struct {
		flag detection.FlagType
		cfg  interface{}
	}{
		{detection.FlagTemporalClustering, cfg.Clustering},
		{detection.FlagUnnaturalPattern, cfg.Regularity},
		{detection.FlagVelocitySpike, cfg.Velocity},
		{detection.FlagOneSidedVoting, cfg.Bias},
	} {
		raw, err := json.Marshal(dc.cfg)
		if err != nil {
			return err
		}
		if err := engine.ConfigureDetector(dc.flag, raw); err != nil {
			return err
		}
	}
	return nil
}

// buildPipeline selects the transport. The channel transport returns
// the pipeline itself as publisher for the HTTP API; the NATS transport
// consumes from JetStream and submission endpoints are disabled.
func buildPipeline(cfg config.IngestConfig, engine *detection.Engine) (*ingest.Pipeline, api.EventPublisher, error) {
	pipelineCfg := ingest.DefaultConfig()
	pipelineCfg.Buffer = cfg.Buffer

	switch cfg.Transport {
	case "channel":
		pipeline, err := ingest.NewPipeline(pipelineCfg, engine)
		if err != nil {
			return nil, nil, err
		}
		return pipeline, pipeline, nil

	case "nats":
		pipelineCfg.VoteTopic = cfg.NATS.Subject
		subscriber, err := ingest.NewNATSSubscriber(ingest.NATSConfig{
			URL:              cfg.NATS.URL,
			QueueGroup:       cfg.NATS.QueueGroup,
			DurableName:      cfg.NATS.QueueGroup,
			ConnectWait:      cfg.NATS.ConnectWait,
			AckWait:          cfg.NATS.AckWait,
			MaxDeliver:       cfg.NATS.MaxDeliver,
			SubscribersCount: cfg.NATS.SubscribersCount,
		})
		if err != nil {
			return nil, nil, err
		}
		pipeline, err := ingest.NewPipelineWithSubscriber(pipelineCfg, engine, subscriber)
		if err != nil {
			return nil, nil, err
		}
		return pipeline, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// httpService runs the API server as a supervised service. The server
// is built per Serve call; http.Server cannot be reused after Shutdown.
type httpService struct {
	addr            string
	handler         http.Handler
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
}

func (s *httpService) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.addr).Msg("HTTP server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("HTTP server shutdown incomplete")
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *httpService) String() string {
	return "http-server"
}

// trustRecoveryService restores trust score to penalized, unfrozen
// accounts once per day.
type trustRecoveryService struct {
	ledger *trust.Ledger
	amount int
}

func (s *trustRecoveryService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			recovered := s.ledger.Recover(s.amount)
			if recovered > 0 {
				logging.Info().Int("accounts", recovered).Int("amount", s.amount).Msg("Applied daily trust recovery")
			}
		}
	}
}

func (s *trustRecoveryService) String() string {
	return "trust-recovery"
}
