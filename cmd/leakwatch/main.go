package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/leakwatch/leakwatch/internal/alert"
	"github.com/leakwatch/leakwatch/internal/config"
	"github.com/leakwatch/leakwatch/internal/format"
	"github.com/leakwatch/leakwatch/internal/health"
	"github.com/leakwatch/leakwatch/internal/logging"
	"github.com/leakwatch/leakwatch/internal/match"
	"github.com/leakwatch/leakwatch/internal/metrics"
	"github.com/leakwatch/leakwatch/internal/normalize"
	"github.com/leakwatch/leakwatch/internal/relay/client"
	"github.com/leakwatch/leakwatch/internal/scanloop"
	"github.com/leakwatch/leakwatch/internal/source"
	"github.com/leakwatch/leakwatch/internal/store"
	"github.com/leakwatch/leakwatch/internal/telemetry"
	"github.com/leakwatch/leakwatch/internal/token"
	"github.com/leakwatch/leakwatch/internal/watchlist"
)

const version = "1.0.0"

func main() {
	var configFile string
	var sourcesFile string
	var watchlistFile string
	var relayEndpoint string
	var scanInterval int
	var metricsAddr string
	var webhookURL string
	var spoolDir string
	var otelEndpoint string
	var otelInsecure bool
	var once bool
	var listAlerts bool
	var alertFormat string
	var ackID string
	var showVersion bool

	flag.StringVar(&configFile, "config", "", "path to config file (YAML or JSON)")
	flag.StringVar(&sourcesFile, "sources", "", "path to sources YAML")
	flag.StringVar(&watchlistFile, "watchlist", "", "path to watchlist YAML, seeded into the store at startup")
	flag.StringVar(&relayEndpoint, "relay", "", "relay endpoint (loopback)")
	flag.IntVar(&scanInterval, "interval", 0, "seconds between cycles")
	flag.StringVar(&metricsAddr, "metrics_addr", "", "metrics listen addr (empty to disable)")
	flag.StringVar(&webhookURL, "webhook", "", "alert webhook URL (empty prints alerts to stdout)")
	flag.StringVar(&spoolDir, "spool_dir", "", "spool dir for undelivered alerts")
	flag.StringVar(&otelEndpoint, "otel_endpoint", "", "OTLP HTTP endpoint (host:port)")
	flag.BoolVar(&otelInsecure, "otel_insecure", true, "OTLP insecure (no TLS)")
	flag.BoolVar(&once, "once", false, "run one cycle and exit")
	flag.BoolVar(&listAlerts, "alerts", false, "list stored alerts and exit")
	flag.StringVar(&alertFormat, "format", "json", "alert listing format (json, jsonl, csv)")
	flag.StringVar(&ackID, "ack", "", "acknowledge an alert by id and exit")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "leakwatch - ransomware leak-site monitor (core)\n")
		fmt.Fprintf(os.Stderr, "Collects actor-published claims through an isolated relay and matches\n")
		fmt.Fprintf(os.Stderr, "them against a watchlist of monitored identifiers.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -config=leakwatch.yaml -watchlist=watchlist.yaml\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -sources=sources.yaml -once\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -alerts -format=csv > alerts.csv\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  RELAY_SECRET           Shared token secret (required, min 32 bytes)\n")
		fmt.Fprintf(os.Stderr, "  REDIS_ADDR             Redis server for persistence (empty = in-memory)\n")
		fmt.Fprintf(os.Stderr, "  LEAKWATCH_WEBHOOK_URL  Alert webhook URL\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Println("leakwatch v" + version)
		fmt.Println("Built with Go", strings.TrimPrefix(runtime.Version(), "go"))
		os.Exit(0)
	}

	log := logging.New()
	defer log.Sync()

	cfg, err := config.LoadCore(configFile)
	if err != nil {
		log.Fatal("configuration", "err", err)
	}
	if sourcesFile != "" {
		cfg.SourcesFile = sourcesFile
	}
	if relayEndpoint != "" {
		cfg.RelayEndpoint = relayEndpoint
	}
	if scanInterval > 0 {
		cfg.ScanInterval = scanInterval
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	if webhookURL != "" {
		cfg.WebhookURL = webhookURL
	}
	if spoolDir != "" {
		cfg.SpoolDir = spoolDir
	}
	if otelEndpoint != "" {
		cfg.OTELEndpoint = otelEndpoint
		cfg.OTELInsecure = otelInsecure
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", "err", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.OTELService, cfg.OTELInsecure)
	if err != nil {
		log.Warn("otel init failed", "err", err)
	} else {
		defer shutdown(context.Background())
	}

	var sources []source.Source
	if _, statErr := os.Stat(cfg.SourcesFile); statErr == nil {
		sources, err = source.Load(cfg.SourcesFile)
		if err != nil {
			log.Fatal("load sources", "file", cfg.SourcesFile, "err", err)
		}
	} else {
		sources = source.Defaults()
		log.Info("sources file not found, using built-in aggregator feeds", "file", cfg.SourcesFile)
	}

	var st store.Store
	healthHandler := health.NewHandler(log)
	healthHandler.SetMetadata("service", "leakwatch")
	healthHandler.SetMetadata("version", version)
	if cfg.RedisAddr != "" {
		rd, err := store.NewRedis(cfg.RedisAddr)
		if err != nil {
			log.Fatal("redis init", "err", err)
		}
		st = rd
		healthHandler.RegisterChecker("redis", health.NewStoreChecker(rd.Ping))
		log.Info("redis store enabled", "addr", cfg.RedisAddr)
	} else {
		st = store.NewMemory()
		log.Info("memory store enabled")
	}

	if ackID != "" {
		if err := st.AckAlert(ctx, ackID); err != nil {
			log.Fatal("ack alert", "id", ackID, "err", err)
		}
		log.Info("alert acknowledged", "id", ackID)
		return
	}
	if listAlerts {
		f, err := format.ParseFormat(alertFormat)
		if err != nil {
			log.Fatal("alert format", "err", err)
		}
		fm, err := format.GetFormatter(f)
		if err != nil {
			log.Fatal("alert format", "err", err)
		}
		alerts, err := st.ListAlerts(ctx)
		if err != nil {
			log.Fatal("list alerts", "err", err)
		}
		if err := fm.FormatStream(alerts, os.Stdout); err != nil {
			log.Fatal("write alerts", "err", err)
		}
		return
	}

	if watchlistFile != "" {
		n, err := watchlist.Seed(ctx, st, watchlistFile)
		if err != nil {
			log.Fatal("seed watchlist", "file", watchlistFile, "err", err)
		}
		log.Info("watchlist seeded", "file", watchlistFile, "identifiers", n)
	}

	auth, err := token.New(cfg.RelaySecret, config.TokenTTL)
	if err != nil {
		log.Fatal("token authenticator", "err", err)
	}

	relayClient := client.New(client.Config{
		Endpoint:         cfg.RelayEndpoint,
		SourceTimeout:    time.Duration(cfg.SourceTimeout) * time.Second,
		MaxResponseBytes: cfg.MaxBodyBytes,
	}, auth, st, log)

	engine, err := match.New(st, cfg.CacheCapacity, cfg.ScanWorkers, log)
	if err != nil {
		log.Fatal("match engine", "err", err)
	}
	engine.SetRuleVersion(normalize.RuleVersion)

	emitter := alert.NewEmitter(st, log)
	notifier := alert.NewNotifier(cfg.WebhookURL, cfg.SpoolDir, log)

	loop := scanloop.New(sources, relayClient, st, engine, emitter, notifier,
		time.Duration(cfg.ScanInterval)*time.Second, log)
	healthHandler.RegisterChecker("cycle", health.NewCycleChecker(loop.LastCycle,
		3*time.Duration(cfg.ScanInterval)*time.Second))

	if cfg.MetricsAddr != "" {
		go metrics.ServeWithHealth(cfg.MetricsAddr, healthHandler, log)
		log.Info("metrics and health server started", "addr", cfg.MetricsAddr)
	}

	log.Info("starting leakwatch",
		"sources", len(sources),
		"relay", cfg.RelayEndpoint,
		"interval_sec", cfg.ScanInterval,
		"once", once,
	)
	healthHandler.SetReady(true)

	if once {
		if err := loop.RunOnce(ctx); err != nil {
			log.Fatal("cycle failed", "err", err)
		}
		log.Info("cycle complete, exiting")
		return
	}

	loop.Run(ctx)
	log.Info("shutdown complete")
}
