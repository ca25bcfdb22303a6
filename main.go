package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"datafeed-sentinel/config"
	"datafeed-sentinel/internal/alerting"
	"datafeed-sentinel/internal/api"
	"datafeed-sentinel/internal/auth"
	"datafeed-sentinel/internal/cache"
	"datafeed-sentinel/internal/classify"
	"datafeed-sentinel/internal/database"
	"datafeed-sentinel/internal/email"
	"datafeed-sentinel/internal/events"
	"datafeed-sentinel/internal/healing"
	"datafeed-sentinel/internal/health"
	"datafeed-sentinel/internal/learning"
	"datafeed-sentinel/internal/metrics"
	"datafeed-sentinel/internal/monitor"
	"datafeed-sentinel/internal/sources"
	"datafeed-sentinel/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := newLogger(cfg.LoggingConfig)
	log.Info().Msg("datafeed sentinel starting")

	bus := events.NewBus()

	promReg := prometheus.NewRegistry()
	mx := metrics.New(promReg)

	store := cache.NewEmergency(cache.Config{
		Enabled:  cfg.RedisConfig.Enabled,
		Address:  cfg.RedisConfig.Address,
		Password: cfg.RedisConfig.Password,
		DB:       cfg.RedisConfig.DB,
		PoolSize: cfg.RedisConfig.PoolSize,
		TTL:      time.Duration(cfg.RedisConfig.TTLHours) * time.Hour,
	}, log)
	defer store.Close()

	ctx := context.Background()

	var repo *database.Repository
	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(database.Config{
			Host:     cfg.DatabaseConfig.Host,
			Port:     cfg.DatabaseConfig.Port,
			User:     cfg.DatabaseConfig.User,
			Password: cfg.DatabaseConfig.Password,
			Database: cfg.DatabaseConfig.Database,
			SSLMode:  cfg.DatabaseConfig.SSLMode,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		if err := db.RunMigrations(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		repo = database.NewRepository(db)
	}

	creds, err := vault.NewStore(cfg.VaultConfig, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize vault store")
	}
	for _, src := range cfg.Sources {
		if src.APIKey == "" {
			continue
		}
		if err := creds.Put(ctx, src.Name, vault.Credential{
			APIKey:     src.APIKey,
			StandbyKey: src.StandbyKey,
		}); err != nil {
			log.Fatal().Err(err).Str("source", src.Name).Msg("failed to store credential")
		}
	}

	tracker := health.NewTracker()
	if repo != nil {
		rows, err := repo.LoadEndpointHealth(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("could not load persisted health records")
		} else {
			tracker.Load(rows)
		}
	}

	classifier := classify.NewClassifier(
		time.Duration(cfg.MonitorConfig.LatencyThresholdMs) * time.Millisecond)

	registry := healing.NewRegistry()
	registry.Register(healing.NewCachedDataStrategy(store,
		time.Duration(cfg.HealingConfig.CacheFreshnessMinutes)*time.Minute))
	registry.Register(healing.NewBackoffRetryStrategy(
		cfg.HealingConfig.BackoffMaxAttempts,
		time.Duration(cfg.HealingConfig.BackoffBaseDelayMs)*time.Millisecond))
	registry.Register(healing.NewReduceRequestSizeStrategy())

	coordinator := healing.NewCoordinator(registry,
		time.Duration(cfg.HealingConfig.BudgetSeconds)*time.Second, log)

	learner := learning.NewLearner(registry, tracker,
		time.Duration(cfg.LearningConfig.RecomputeIntervalMinutes)*time.Minute, log)
	if repo != nil {
		if stats, err := repo.LoadStrategyStats(ctx); err != nil {
			log.Warn().Err(err).Msg("could not load strategy counters")
		} else {
			registry.RestoreCounts(stats)
		}
		if kb, ok, err := repo.LatestKnowledgeSnapshot(ctx); err != nil {
			log.Warn().Err(err).Msg("could not load knowledge snapshot")
		} else if ok {
			learner.Restore(kb)
		}
	}

	alertStore := alerting.Store(nil)
	if repo != nil {
		alertStore = repo
	}
	alerts := alerting.NewManager(bus, alertStore,
		time.Duration(cfg.AlertConfig.SuppressWindowMinutes)*time.Minute,
		time.Duration(cfg.AlertConfig.ResolveDelaySeconds)*time.Second, log)
	alerts.AddChannel(alerting.NewDashboardChannel(bus))

	mailer := email.NewService(email.SMTPConfig{
		Host:     cfg.SMTPConfig.Host,
		Port:     strconv.Itoa(cfg.SMTPConfig.Port),
		Username: cfg.SMTPConfig.Username,
		Password: cfg.SMTPConfig.Password,
		From:     cfg.SMTPConfig.From,
		FromName: cfg.SMTPConfig.FromName,
		To:       cfg.SMTPConfig.To,
	}, log)
	if mailer.IsConfigured() {
		alerts.AddChannel(alerting.NewEmailChannel(mailer))
	}
	if cfg.SMSConfig.Enabled {
		alerts.AddChannel(alerting.NewSMSChannel(alerting.SMSConfig{
			GatewayURL: cfg.SMSConfig.GatewayURL,
			APIKey:     cfg.SMSConfig.APIKey,
			Recipients: cfg.SMSConfig.Recipients,
		}))
	}

	var sink monitor.EventSink
	if repo != nil {
		sink = repo
	}
	mon := monitor.New(monitor.Config{
		Classifier:  classifier,
		Tracker:     tracker,
		Coordinator: coordinator,
		Alerts:      alerts,
		Learner:     learner,
		Cache:       store,
		Bus:         bus,
		Metrics:     mx,
		Sink:        sink,
		Logger:      log,
	})

	registerSources(cfg, classifier, registry, creds, mon, log)

	learnerCtx, stopLearner := context.WithCancel(ctx)
	go learner.Run(learnerCtx)

	snapshotCtx, stopSnapshots := context.WithCancel(ctx)
	if repo != nil {
		go persistLoop(snapshotCtx, repo, tracker, registry, learner,
			time.Duration(cfg.LearningConfig.SnapshotIntervalMinutes)*time.Minute, log)
	}

	var jwtManager *auth.JWTManager
	if cfg.AuthConfig.Enabled {
		jwtManager = auth.NewJWTManager(cfg.AuthConfig.JWTSecret,
			time.Duration(cfg.AuthConfig.TokenDurationHours)*time.Hour)
	}

	server := api.NewServer(api.ServerConfig{
		Port:           cfg.ServerConfig.Port,
		Host:           cfg.ServerConfig.Host,
		ProductionMode: cfg.ServerConfig.ProductionMode,
		AllowOrigins:   cfg.ServerConfig.AllowedOriginList(),
	}, api.Deps{
		Tracker:    tracker,
		Registry:   registry,
		Learner:    learner,
		Alerts:     alerts,
		Monitor:    mon,
		Repo:       repo,
		Bus:        bus,
		JWTManager: jwtManager,
		PromReg:    promReg,
		Logger:     log,
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	mon.Start()
	log.Info().Int("sources", len(cfg.Sources)).Msg("datafeed sentinel running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")

	mon.Stop()
	stopLearner()
	stopSnapshots()

	if repo != nil {
		persistState(repo, tracker, registry, learner, log)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx,
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	log.Info().Msg("datafeed sentinel stopped")
}

// registerSources builds providers, validators, per-source healing
// strategies and monitoring targets from configuration
func registerSources(cfg *config.Config, classifier *classify.Classifier,
	registry *healing.Registry, creds *vault.Store, mon *monitor.Monitor, log zerolog.Logger) {

	providers := make(map[string]*sources.Provider, len(cfg.Sources))
	paths := make(map[string]map[string]string, len(cfg.Sources))
	for _, src := range cfg.Sources {
		provider := sources.NewProvider(src.Name, src.BaseURL, log)
		if src.AuthHeader != "" {
			provider.WithAuth(src.AuthHeader, creds)
		}
		if len(src.Alternates) > 0 {
			provider.WithAlternates(src.Alternates)
		}
		providers[src.Name] = provider

		paths[src.Name] = make(map[string]string, len(src.Endpoints))
		for _, ep := range src.Endpoints {
			paths[src.Name][ep.Name] = ep.Path
		}
	}

	for _, src := range cfg.Sources {
		provider := providers[src.Name]
		if src.AuthHeader != "" {
			registry.Register(healing.NewRotateCredentialStrategy(src.Name, creds))
		}
		if len(src.Alternates) > 0 {
			registry.Register(healing.NewAlternateSeriesStrategy(src.Name, src.Alternates))
		}
		if fb, ok := providers[src.FallbackSource]; ok && src.FallbackSource != src.Name {
			registry.Register(healing.NewProviderFallbackStrategy(src.Name,
				fallbackFetcher(fb, paths[src.FallbackSource])))
		} else if src.FallbackSource != "" {
			log.Warn().Str("source", src.Name).Str("fallback", src.FallbackSource).
				Msg("fallback source not configured, skipping fallback strategy")
		}

		for _, ep := range src.Endpoints {
			if v := endpointValidator(ep); v != nil {
				classifier.RegisterValidator(src.Name, ep.Name, v)
			}

			interval := time.Duration(ep.IntervalSeconds) * time.Second
			if ep.IntervalSeconds <= 0 {
				interval = time.Duration(cfg.MonitorConfig.DefaultIntervalSeconds) * time.Second
			}
			timeout := time.Duration(ep.TimeoutSeconds) * time.Second
			if ep.TimeoutSeconds <= 0 {
				timeout = time.Duration(cfg.MonitorConfig.DefaultTimeoutSeconds) * time.Second
			}

			mon.AddTarget(&monitor.Target{
				Source:   src.Name,
				Endpoint: ep.Name,
				Check:    provider.Check(ep.Path),
				Params:   ep.Params,
				Interval: interval,
				Timeout:  timeout,
			})
		}
	}
}

// fallbackFetcher adapts another source's provider into a healing
// FallbackFetcher, resolving the endpoint name against that source's
// own path table
func fallbackFetcher(p *sources.Provider, paths map[string]string) healing.FallbackFetcher {
	return func(ctx context.Context, endpoint string, params map[string]interface{}) ([]byte, error) {
		path, ok := paths[endpoint]
		if !ok {
			return nil, fmt.Errorf("fallback provider has no endpoint %q", endpoint)
		}
		data, status, err := p.Check(path)(ctx, params)
		if err != nil {
			return nil, err
		}
		if status >= 400 {
			return nil, fmt.Errorf("fallback provider returned HTTP %d", status)
		}
		return data, nil
	}
}

func endpointValidator(ep config.EndpointConfig) classify.Validator {
	var chain []classify.Validator
	if len(ep.RequiredFields) > 0 {
		chain = append(chain, sources.NewJSONValidator(ep.RequiredFields...))
	}
	if ep.FreshnessField != "" {
		if window := ep.FreshnessWindow(); window > 0 {
			chain = append(chain, sources.NewFreshnessValidator(ep.FreshnessField, window))
		}
	}
	if len(ep.QuotaMarkers) > 0 {
		chain = append(chain, sources.NewQuotaMessageValidator(ep.QuotaMarkers...))
	}
	if len(chain) == 0 {
		return nil
	}
	return sources.Chain(chain...)
}

// persistLoop snapshots learned state on a timer so a crash loses at most
// one interval of learning
func persistLoop(ctx context.Context, repo *database.Repository, tracker *health.Tracker,
	registry *healing.Registry, learner *learning.Learner, interval time.Duration, log zerolog.Logger) {

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			persistState(repo, tracker, registry, learner, log)
		}
	}
}

func persistState(repo *database.Repository, tracker *health.Tracker,
	registry *healing.Registry, learner *learning.Learner, log zerolog.Logger) {

	saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, h := range tracker.GetAll() {
		if err := repo.SaveEndpointHealth(saveCtx, h); err != nil {
			log.Error().Err(err).Msg("failed to persist endpoint health")
			break
		}
	}
	if err := repo.SaveStrategyStats(saveCtx, registry.AllStats()); err != nil {
		log.Error().Err(err).Msg("failed to persist strategy counters")
	}
	if err := repo.SaveKnowledgeSnapshot(saveCtx, learner.Snapshot()); err != nil {
		log.Error().Err(err).Msg("failed to persist knowledge snapshot")
	}
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.JSONFormat {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
