package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/atgeo/checkind/client"
	"github.com/atgeo/checkind/internal/config"
	"github.com/atgeo/checkind/internal/infra/database"
	"github.com/atgeo/checkind/internal/infra/repository"
	"github.com/atgeo/checkind/internal/present/rest"
	"github.com/atgeo/checkind/internal/service"
	"github.com/atgeo/checkind/internal/usecase"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	conf, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if conf.Server.EnableTrace {
		cleanup, err := setupTracer(conf.Server.TraceEndpoint)
		if err != nil {
			slog.Error("failed to set up tracing", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer cleanup()
	}

	db, err := database.NewPostgres(conf.Server.PostgresDsn)
	if err != nil {
		slog.Error("failed to connect database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := database.MigratePostgres(db); err != nil {
		slog.Error("failed to migrate database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rdb := database.NewRedis(conf.Server.RedisAddr, conf.Server.RedisPassword, conf.Server.RedisDB)

	var mc *memcache.Client
	if conf.Server.MemcachedAddr != "" {
		mc = database.NewMemcached(conf.Server.MemcachedAddr)
	}

	cl := client.New(conf.Crawler.PlcDirectory, time.Duration(conf.Crawler.RequestTimeoutSeconds)*time.Second)

	registryRepo := repository.NewRegistryRepository(db)
	checkinRepo := repository.NewCheckinRepository(db)
	followRepo := repository.NewFollowRepository(db)

	resolver := service.NewResolverService(cl, conf.Crawler.WellKnownHosts)
	address := service.NewAddressService(cl, resolver, mc)
	locker := service.NewLockService(rdb)

	registryUC := usecase.NewRegistryUsecase(registryRepo)
	checkinUC := usecase.NewCheckinUsecase(checkinRepo)
	followUC := usecase.NewFollowUsecase(followRepo)
	crawlerUC := usecase.NewCrawlerUsecase(
		registryRepo,
		checkinRepo,
		followUC,
		resolver,
		cl,
		address,
		locker,
		usecase.CrawlerOptions{
			BatchSize:  conf.Crawler.BatchSize,
			BatchDelay: time.Duration(conf.Crawler.BatchDelaySeconds) * time.Second,
			PageLimit:  conf.Crawler.PageLimit,
		},
	)

	go runScheduler(crawlerUC, time.Duration(conf.Crawler.IntervalMinutes)*time.Minute)

	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	if conf.Server.EnableTrace {
		e.Use(otelecho.Middleware("checkind"))
	}

	handler := rest.NewHandler(registryUC, checkinUC, followUC, crawlerUC)
	handler.RegisterRoutes(e)

	e.Logger.Fatal(e.Start(conf.Server.ListenAddr))
}

// runScheduler fires crawl sessions on a fixed interval. Sessions run to
// completion; an overlapping trigger loses the lock and is skipped.
func runScheduler(crawler *usecase.CrawlerUsecase, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		ctx := context.Background()

		if _, err := crawler.RunCheckinSession(ctx); err != nil && !errors.Is(err, usecase.ErrSessionRunning) {
			slog.Error("scheduled check-in session failed",
				slog.String("error", err.Error()),
				slog.String("module", "scheduler"),
			)
		}

		if _, err := crawler.RunFollowSession(ctx); err != nil && !errors.Is(err, usecase.ErrSessionRunning) {
			slog.Error("scheduled follow session failed",
				slog.String("error", err.Error()),
				slog.String("module", "scheduler"),
			)
		}
	}
}

func setupTracer(endpoint string) (func(), error) {
	exporter, err := otlptracehttp.New(
		context.Background(),
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			slog.Error("failed to shut down tracer provider", slog.String("error", err.Error()))
		}
	}, nil
}
