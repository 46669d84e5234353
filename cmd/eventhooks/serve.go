package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	eventhooks "github.com/goliatone/go-eventhooks"
	"github.com/goliatone/go-eventhooks/adapters/gocommand"
	"github.com/goliatone/go-eventhooks/adapters/gojob"
	"github.com/goliatone/go-eventhooks/adapters/gologger"
	"github.com/goliatone/go-eventhooks/metrics"
	"github.com/goliatone/go-eventhooks/migrations"
	redisstore "github.com/goliatone/go-eventhooks/store/redis"
	sqlstore "github.com/goliatone/go-eventhooks/store/sql"
	"github.com/goliatone/go-eventhooks/transport/httpapi"
)

const shutdownTimeout = 15 * time.Second

type serveCmd struct{}

func (s *serveCmd) Run(root *cli) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx, root)
	if err != nil {
		return err
	}
	base, err := gologger.NewZap(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = base.Sync() }()
	base = base.Named(cfg.ServiceName)
	logger := gologger.NewLogger(base)

	client, dialect, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer client.Close()
	if cfg.Database.AutoMigrate {
		if err := migrations.Apply(ctx, client, dialect); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	factoryOpts := []sqlstore.FactoryOption{sqlstore.WithPreferenceCache(cfg.Notifications.PreferenceTTL)}
	if secretCipher, err := newSecretCipher(cfg.Database); err != nil {
		return err
	} else if secretCipher != nil {
		factoryOpts = append(factoryOpts, sqlstore.WithSecretCipher(secretCipher))
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, factoryOpts...)
	if err != nil {
		return err
	}
	sqlStores := factory.Stores()

	recorder := metrics.NewPrometheusRecorder(prometheus.DefaultRegisterer)
	opts := []eventhooks.Option{
		eventhooks.WithLogger(logger),
		eventhooks.WithMetrics(recorder),
	}
	if path := strings.TrimSpace(cfg.Notifications.RecipientsFile); path != "" {
		directory, err := loadRecipients(path)
		if err != nil {
			return err
		}
		opts = append(opts, eventhooks.WithRecipients(directory), eventhooks.WithDirectory(directory))
	}
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		rdb, err := redisstore.NewClient(cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		locker, err := redisstore.NewLocker(rdb, cfg.Redis.KeyPrefix)
		if err != nil {
			return err
		}
		jobs, err := redisstore.NewJobQueue(rdb, redisstore.JobQueueOptions{Prefix: cfg.Redis.KeyPrefix})
		if err != nil {
			return err
		}
		digestQueue, err := gojob.NewQueue(jobs, jobs, gojob.DefaultRetryPolicy())
		if err != nil {
			return err
		}
		opts = append(opts,
			eventhooks.WithLocker(locker),
			eventhooks.WithDigestJobs(digestQueue, digestQueue, gojob.NewObservingHook(logger, recorder)),
		)
	}

	engine, err := eventhooks.NewEngine(cfg, eventhooks.Stores{
		Events:        sqlStores.Events,
		Endpoints:     sqlStores.Endpoints,
		Attempts:      sqlStores.Attempts,
		Preferences:   sqlStores.Preferences,
		Notifications: sqlStores.Notifications,
		Digests:       sqlStores.Digests,
	}, opts...)
	if err != nil {
		return err
	}

	facade := engine.Facade()
	registry := gocommand.NewRegistryAdapter(nil)
	bindings, err := gocommand.RegisterFacade(registry, facade)
	if err != nil {
		return err
	}
	defer bindings.Close()
	if err := registry.Initialize(); err != nil {
		return err
	}

	handler, err := httpapi.NewHandler(facade,
		httpapi.WithLogger(logger),
		httpapi.WithMetrics(recorder),
		httpapi.WithMaxBodyBytes(cfg.Inbound.MaxBodyBytes),
	)
	if err != nil {
		return err
	}
	router := httpapi.NewRouter(handler, httpapi.RouterConfig{
		CORSOrigins: cfg.HTTP.CORSOrigins,
		MetricsPath: cfg.HTTP.MetricsPath,
		Metrics:     promhttp.Handler(),
	})

	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer engine.Stop()

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		base.Info("http server listening", zap.String("addr", cfg.HTTP.Addr), zap.String("database", dialect))
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	base.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		base.Error("http server shutdown", zap.Error(err))
	}
	return nil
}
