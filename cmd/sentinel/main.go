package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"github.com/agentivy/sentinel/classify"
	"github.com/agentivy/sentinel/internal/quota"
	"github.com/agentivy/sentinel/moderation"
	"github.com/agentivy/sentinel/scan"
	"github.com/agentivy/sentinel/setup/config"
	"github.com/agentivy/sentinel/setup/process"
	"github.com/agentivy/sentinel/store"
	"github.com/agentivy/sentinel/urlcheck"
	"github.com/agentivy/sentinel/webhook"
)

const httpServerTimeout = time.Minute * 5

func main() {
	configPath := flag.String("config", "sentinel.yaml", "The path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatalf("Failed to load config from %q", *configPath)
	}

	level, err := logrus.ParseLevel(cfg.Global.LogLevel)
	if err != nil {
		logrus.WithError(err).Fatalf("Invalid log level %q", cfg.Global.LogLevel)
	}
	logrus.SetLevel(level)

	if cfg.Global.SentryDSN != "" {
		logrus.Info("Setting up Sentry for debugging...")
		err = sentry.Init(sentry.ClientOptions{
			Dsn: cfg.Global.SentryDSN,
		})
		if err != nil {
			logrus.WithError(err).Fatal("Failed to start Sentry")
		}
		defer sentry.Flush(time.Second * 2)
	}

	processCtx := process.NewProcessContext()

	cfgStore := store.NewMemoryStore()
	limiter := quota.NewLimiter(processCtx, &cfg.Quota)
	gateway := scan.NewGateway(&cfg.Scan, limiter)
	checker := urlcheck.NewChecker(&cfg.URLCheck)
	scorer := classify.NewHTTPScorer(&cfg.Classifier)

	agg := moderation.NewAggregator(checker, gateway, scorer, cfg.Global.SentryDSN != "")
	sink := webhook.NewCallbackSink(cfg.Webhook.ActionCallbackURL)
	executor := moderation.NewExecutor(sink, cfgStore)
	moderator := moderation.NewModerator(cfgStore, agg, executor)

	limits := webhook.NewRateLimits(&cfg.Webhook.RateLimiting)
	defer limits.Stop()

	router := webhook.NewRouter()
	webhook.Setup(router, moderator, gateway, cfgStore, limits)

	httpServer := &http.Server{
		Addr:         cfg.Webhook.ListenAddress,
		WriteTimeout: httpServerTimeout,
		Handler:      router,
		BaseContext: func(_ net.Listener) context.Context {
			return processCtx.Context()
		},
	}

	go func() {
		logrus.Infof("Starting webhook listener on %s", cfg.Webhook.ListenAddress)
		processCtx.ComponentStarted()

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("Failed to serve HTTP")
		}

		logrus.Info("HTTP server stopped")
		processCtx.ComponentFinished()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logrus.Infof("Received %s, shutting down", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP server did not shut down cleanly")
	}

	processCtx.ShutdownSentinel()
	processCtx.WaitForComponentsToFinish()
	logrus.Info("Sentinel shut down")
}
