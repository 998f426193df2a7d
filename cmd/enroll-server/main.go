package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"enrollassist-backend/internal/activation"
	"enrollassist-backend/internal/components/chrono"
	"enrollassist-backend/internal/components/recordstore"
	"enrollassist-backend/internal/components/telemetry"
	"enrollassist-backend/internal/notify"
	"enrollassist-backend/internal/scrapers/portal"
	"enrollassist-backend/internal/service"
	"enrollassist-backend/internal/serviceutil"

	"connectrpc.com/connect"
)

func main() {
	cfg, err := readConfig()
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	telemetry.InitSlog(cfg.Verbose)

	ctx := serviceutil.SignalContext()

	providers, err := telemetry.Setup(ctx, "enroll-server", cfg.Telemetry)
	if err != nil {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	defer providers.Shutdown(context.Background())

	tel := telemetry.NewMetricAPI(telemetry.SlogAPI{})
	telemetry.InstrumentPerfStats(ctx, tel)

	cache := portal.NewParamsCache(cfg.Cache.Size, time.Duration(cfg.Cache.TtlSeconds)*time.Second)
	directory, err := portal.NewDirectory(cfg.Sites, cfg.Portal, cache, tel)
	if err != nil {
		serviceutil.Fatal("failed to create portals", err)
	}

	options := service.Options{
		AdminToken:       cfg.AdminToken,
		DispatchInterval: time.Duration(cfg.DispatchIntervalMs) * time.Millisecond,
		StatsSpec:        cfg.StatsCron,
		TaskOptions:      cfg.Tasks.options(),
	}

	cron := chrono.NewStandardCron(tel)
	defer cron.Stop()
	options.Cron = cron

	if cfg.RequireActivation {
		slog.Info("opening database...")
		db, err := cfg.Database.OpenDB()
		if err != nil {
			serviceutil.Fatal("failed to open database", err)
		}
		store, err := recordstore.New(ctx, db)
		if err != nil {
			serviceutil.Fatal("failed to initialize record store", err)
		}
		defer store.Close()
		options.Gate = activation.NewGate(store, tel)
	}

	if cfg.Smtp.Enabled() {
		options.Notifier = notify.NewMailer(cfg.Smtp, tel)
	}

	svc, err := service.NewService(ctx, directory, chrono.StandardClock{}, tel, options)
	if err != nil {
		serviceutil.Fatal("failed to create service", err)
	}

	mux := http.NewServeMux()
	mux.Handle(service.NewHandler(
		svc,
		connect.WithInterceptors(serviceutil.NewConnectOtelInterceptor()),
	))

	err = serviceutil.StartHttpServer(ctx, cfg.Port, mux)
	if err != nil {
		serviceutil.Fatal("failed to serve", err)
	}
}
