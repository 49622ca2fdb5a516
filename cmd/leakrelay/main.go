package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/leakwatch/leakwatch/internal/config"
	"github.com/leakwatch/leakwatch/internal/logging"
	"github.com/leakwatch/leakwatch/internal/metrics"
	"github.com/leakwatch/leakwatch/internal/relay/service"
	"github.com/leakwatch/leakwatch/internal/token"
)

const version = "1.0.0"

func main() {
	var configFile string
	var listenAddr string
	var socksAddr string
	var metricsAddr string
	var showVersion bool

	flag.StringVar(&configFile, "config", "", "path to config file (YAML or JSON)")
	flag.StringVar(&listenAddr, "listen", "", "listen addr, must be loopback")
	flag.StringVar(&socksAddr, "socks", "", "Tor SOCKS5 addr")
	flag.StringVar(&metricsAddr, "metrics_addr", "", "metrics listen addr (empty to disable)")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "leakrelay - isolated collection relay\n")
		fmt.Fprintf(os.Stderr, "Fetches leak-site pages over Tor on behalf of the leakwatch core.\n")
		fmt.Fprintf(os.Stderr, "Holds no watchlist and no storage; refuses unauthenticated requests.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  RELAY_SECRET  Shared token secret (required, min 32 bytes)\n")
		fmt.Fprintf(os.Stderr, "  SOCKS_ADDR    Tor SOCKS5 addr (default 127.0.0.1:9050)\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Println("leakrelay v" + version)
		fmt.Println("Built with Go", strings.TrimPrefix(runtime.Version(), "go"))
		os.Exit(0)
	}

	log := logging.New()
	defer log.Sync()

	cfg, err := config.LoadRelay(configFile)
	if err != nil {
		log.Fatal("configuration", "err", err)
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if socksAddr != "" {
		cfg.SocksAddr = socksAddr
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}

	auth, err := token.New(cfg.RelaySecret, config.TokenTTL)
	if err != nil {
		log.Fatal("token authenticator", "err", err)
	}

	svc, err := service.New(service.Config{
		ListenAddr:   cfg.ListenAddr,
		SocksAddr:    cfg.SocksAddr,
		UserAgent:    cfg.UserAgent,
		FetchTimeout: time.Duration(cfg.FetchTimeout) * time.Second,
		MaxBodyBytes: cfg.MaxBodyBytes,
		PoolSize:     cfg.PoolSize,
		PerHostRate:  cfg.PerHostRate,
		PerHostBurst: cfg.PerHostBurst,
	}, auth, log)
	if err != nil {
		log.Fatal("relay service", "err", err)
	}

	if cfg.MetricsAddr != "" {
		go metrics.Serve(cfg.MetricsAddr, log)
		log.Info("metrics server started", "addr", cfg.MetricsAddr)
	}

	if err := svc.ListenAndServe(); err != nil {
		log.Fatal("relay stopped", "err", err)
	}
}
