package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/popclaim/internal/claimdrill"
)

// Default configuration constants.
const (
	defaultSupply      = 100
	defaultDuplicates  = 4
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = time.Minute
	defaultSettle      = 2 * time.Minute
	defaultDrillBudget = 15 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		token      = flag.String("token", os.Getenv("POP_DRILL_TOKEN"), "Organizer bearer token")
		supply     = flag.Int("supply", defaultSupply, "Max supply of the drill event")
		codes      = flag.Int("codes", defaultSupply, "Number of claim codes to issue")
		duplicates = flag.Int("duplicates", defaultDuplicates, "Concurrent claims per code")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		settle     = flag.Duration("settle", defaultSettle, "How long to wait for unconfirmed mints")
		outputFile = flag.String("output", "", "Output file for the JSON report")
		logFile    = flag.String("log", "", "Log file for drill output (default: claim_drill_TIMESTAMP.log)")
		verbose    = flag.Bool("verbose", false, "Log every claim attempt")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		claimdrill.ShowHelp()
		return
	}

	if err := claimdrill.SetupLogging(*logFile, *verbose); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultDrillBudget)
	defer cancel()

	config := &claimdrill.Config{
		BaseURL:    *baseURL,
		Token:      *token,
		Supply:     *supply,
		Codes:      *codes,
		Duplicates: *duplicates,
		Workers:    *workers,
		Timeout:    *timeout,
		Settle:     *settle,
		OutputFile: *outputFile,
		Verbose:    *verbose,
	}

	if _, err := claimdrill.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Drill failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}
