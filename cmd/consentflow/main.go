// =============================================================================
// consentflow entry point
// =============================================================================
// Usage:
//
//	consentflow handle <url>          # navigate and dismiss the consent banner
//	consentflow handle --config c.yaml --db patterns.db <url>
//	consentflow stats                 # global learned-pattern statistics
//	consentflow stats <domain>        # per-domain statistics
//	consentflow version               # show version info
// =============================================================================
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/consentflow/browser"
	"github.com/BaSui01/consentflow/config"
	"github.com/BaSui01/consentflow/consent"
	"github.com/BaSui01/consentflow/internal/metrics"
	"github.com/BaSui01/consentflow/internal/telemetry"
)

// Build-time injected version info.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "handle":
		runHandle(os.Args[2:])
	case "stats":
		runStats(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runHandle(args []string) {
	fs := flag.NewFlagSet("handle", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbPath := fs.String("db", "", "Override pattern store path")
	headed := fs.Bool("headed", false, "Run Chrome with a visible window")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: consentflow handle [flags] <url>")
		os.Exit(1)
	}
	url := fs.Arg(0)

	cfg := loadConfig(*configPath)
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	if *headed {
		cfg.Browser.Headless = false
	}

	logger := buildLogger(cfg.Log)
	defer logger.Sync()

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Fatal("init telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	store, err := consent.OpenStore(cfg.Store, logger)
	if err != nil {
		logger.Fatal("open pattern store", zap.Error(err))
	}
	defer store.Close()

	collector := metrics.NewCollector("consentflow", logger)
	handler, err := consent.NewHandler(store, cfg.Consent, collector, logger)
	if err != nil {
		logger.Fatal("build consent handler", zap.Error(err))
	}

	page, err := browser.NewChromePage(cfg.Browser, logger)
	if err != nil {
		logger.Fatal("launch browser", zap.Error(err))
	}
	defer page.Close()

	session := browser.NewSession(page, logger)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Browser.Timeout)
	defer cancel()

	if err := session.Navigate(ctx, url); err != nil {
		logger.Fatal("navigate", zap.String("url", url), zap.Error(err))
	}

	result, err := handler.HandleConsent(ctx, session.Page(), url)
	if err != nil {
		logger.Fatal("handle consent", zap.Error(err))
	}

	printJSON(result)
	if !result.Handled {
		os.Exit(2)
	}
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dbPath := fs.String("db", "", "Override pattern store path")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}

	logger := buildLogger(cfg.Log)
	defer logger.Sync()

	store, err := consent.OpenStore(cfg.Store, logger)
	if err != nil {
		logger.Fatal("open pattern store", zap.Error(err))
	}
	defer store.Close()

	var stats consent.Stats
	if fs.NArg() > 0 {
		stats, err = store.DomainStats(consent.NormalizeDomain("https://" + fs.Arg(0)))
	} else {
		stats, err = store.GlobalStats()
	}
	if err != nil {
		logger.Fatal("query stats", zap.Error(err))
	}
	printJSON(stats)
}

func loadConfig(path string) config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func buildLogger(cfg config.LogConfig) *zap.Logger {
	level := zapcore.InfoLevel
	if err := level.Set(cfg.Level); err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	if cfg.Format != "json" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode output: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

func printVersion() {
	fmt.Printf("consentflow %s (commit %s, built %s)\n", Version, GitCommit, BuildTime)
}

func printUsage() {
	fmt.Println(`consentflow - learned cookie-consent dismissal

Usage:
  consentflow handle [flags] <url>   Navigate and dismiss the consent banner
  consentflow stats [domain]         Show learned-pattern statistics
  consentflow version                Show version info

Flags for handle:
  --config path   Config file (YAML)
  --db path       Pattern store path override
  --headed        Run Chrome with a visible window`)
}
