// cmd/fetchpilot/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/valpere/FetchPilot/internal/config"
	"github.com/valpere/FetchPilot/internal/fetch"
	"github.com/valpere/FetchPilot/internal/journal"
	"github.com/valpere/FetchPilot/internal/monitoring"
	"github.com/valpere/FetchPilot/internal/utils"
)

// Build-time variables (set by ldflags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// Global flags
var (
	configPath string
	verbose    bool
	jsonOutput bool
)

func main() {
	args := parseGlobalFlags(os.Args[1:])
	if len(args) == 0 {
		printUsage()
		return
	}

	// A .env file is optional; absence is not an error.
	godotenv.Load()

	command := args[0]
	commandArgs := args[1:]

	switch command {
	case "fetch":
		if len(commandArgs) < 1 {
			fmt.Println("Error: URL required")
			fmt.Println("Usage: fetchpilot fetch <url>")
			os.Exit(1)
		}
		runFetch(commandArgs[0])
	case "validate":
		if len(commandArgs) < 1 {
			fmt.Println("Error: configuration file required")
			fmt.Println("Usage: fetchpilot validate <config.yaml>")
			os.Exit(1)
		}
		validateConfig(commandArgs[0])
	case "serve":
		runServe()
	case "version":
		fmt.Printf("fetchpilot %s (built %s, commit %s)\n", version, buildTime, gitCommit)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func parseGlobalFlags(args []string) []string {
	var rest []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-c", "--config":
			if i+1 < len(args) {
				i++
				configPath = args[i]
			}
		case "-v", "--verbose":
			verbose = true
		case "--json":
			jsonOutput = true
		default:
			rest = append(rest, args[i])
		}
	}
	return rest
}

func printUsage() {
	fmt.Println(`fetchpilot - adaptive web content retrieval engine

Usage:
  fetchpilot [flags] <command> [args]

Commands:
  fetch <url>        Retrieve one URL through the tiered pipeline
  validate <config>  Validate a configuration file
  serve              Run with the monitoring endpoint until interrupted
  version            Print version information

Flags:
  -c, --config <file>  Configuration file
  -v, --verbose        Development logging
  --json               Print results as JSON`)
}

func buildEngine() (*config.Config, *fetch.Core, utils.Logger) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if verbose {
		cfg.Verbose = true
	}

	logger := utils.NewLogger()
	if cfg.Verbose {
		logger = utils.NewDevelopmentLogger()
	}

	core, err := fetch.NewCore(cfg.Core, logger)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	return cfg, core, logger
}

func runFetch(url string) {
	cfg, core, logger := buildEngine()
	defer core.Close()

	var outcomes *journal.Journal
	if cfg.Journal.Enabled {
		var err error
		outcomes, err = journal.Open(cfg.Journal.Path, cfg.Journal.MaxRows)
		if err != nil {
			logger.Warnf("journal disabled: %v", err)
		} else {
			defer outcomes.Close()
		}
	}

	started := time.Now()
	result, err := core.Fetch(context.Background(), fetch.Request{URL: url})
	duration := time.Since(started)

	if outcomes != nil {
		entry := journal.Entry{
			Domain:     utils.Hostname(url),
			URLHash:    journal.HashURL(url),
			Success:    err == nil,
			DurationMs: duration.Milliseconds(),
		}
		if result != nil {
			entry.Tier = result.Tier
			entry.FellBack = result.FellBack
			entry.Cached = result.Cached
			entry.Attempts = len(result.TierAttempts)
		} else if fe, ok := err.(*fetch.Error); ok {
			entry.ErrorKind = string(fe.Kind)
			entry.Attempts = len(fe.TierAttempts)
		}
		if jerr := outcomes.Record(entry); jerr != nil {
			logger.Warnf("journal write failed: %v", jerr)
		}
	}

	if err != nil {
		fmt.Printf("Fetch failed: %v\n", err)
		if fe, ok := err.(*fetch.Error); ok {
			for _, attempt := range fe.TierAttempts {
				fmt.Printf("  %s (%.0fms): %s\n", attempt.Tier,
					float64(attempt.Duration.Milliseconds()), attempt.Error)
			}
		}
		os.Exit(1)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(result)
		return
	}

	fmt.Printf("Title: %s\n", result.Content.Title)
	fmt.Printf("Tier: %s (fell_back=%v, cached=%v, %.0fms)\n",
		result.Tier, result.FellBack, result.Cached, float64(duration.Milliseconds()))
	fmt.Printf("Text: %d chars, %d discovered APIs\n",
		len(result.Content.Text), len(result.DiscoveredAPIs))
	fmt.Println()
	fmt.Println(result.Content.Markdown)
}

func validateConfig(path string) {
	if _, err := config.Load(path); err != nil {
		fmt.Printf("Configuration invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Configuration OK")
}

func runServe() {
	cfg, core, logger := buildEngine()
	defer core.Close()

	metrics := monitoring.NewMetricsManager("fetchpilot")
	core.Fetcher.SetMetrics(metrics)

	addr := cfg.Monitoring.ListenAddress
	if addr == "" {
		addr = ":9090"
	}
	server := monitoring.NewServer(addr, metrics, statusAdapter{core}, logger)
	server.Start()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Stop(ctx)
}

// statusAdapter exposes core stats to the monitoring endpoint.
type statusAdapter struct {
	core *fetch.Core
}

func (a statusAdapter) GetStats() interface{} { return a.core.GetStats() }
