package claimdrill

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/popclaim/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging configures logging to both console and file.
// If logFile is empty, a timestamped filename is generated.
func SetupLogging(logFile string, verbose bool) error {
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		_ = logger.SetLevelString("debug")
	}

	if logFile == "" {
		timestamp := time.Now().Format("20060102_150405")
		logFile = "claim_drill_" + timestamp + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	if err := logger.SetOutput(io.MultiWriter(os.Stdout, file)); err != nil {
		return fmt.Errorf("failed to set log output: %w", err)
	}
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return nil
}

// ShowHelp prints usage information for the claim drill.
func ShowHelp() {
	os.Stdout.WriteString(`Claim Drill
===========

Creates an event, issues claim codes and races duplicate claims for every
code against a running service, then checks that no code minted twice.

Usage:
  go run ./cmd/claim-drill [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -token string
        Organizer bearer token (default $POP_DRILL_TOKEN)
  -supply int
        Max supply of the drill event (default 100)
  -codes int
        Number of claim codes to issue (default 100)
  -duplicates int
        Concurrent claims per code (default 4)
  -workers int
        Number of concurrent workers (default CPU cores * 2)
  -timeout duration
        HTTP request timeout (default 1m)
  -settle duration
        How long to wait for unconfirmed mints (default 2m)
  -output string
        Output file for the JSON report (default: none)
  -log string
        Log file for drill output (default: claim_drill_TIMESTAMP.log)
  -verbose
        Log every claim attempt
  -help
        Show this help message

Examples:
  # Drill a local service with default settings
  go run ./cmd/claim-drill

  # Heavier race with a saved report
  go run ./cmd/claim-drill -codes 1000 -supply 1000 -duplicates 8 -output drill.json
`)
}
