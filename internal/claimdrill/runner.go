package claimdrill

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"

	"github.com/okian/popclaim/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	reportPermission    = 0600
	issueBatch          = 1000
)

// Run executes the complete claim drill.
func Run(ctx context.Context, config *Config) (*Report, error) {
	report := &Report{Stats: Stats{StartTime: time.Now()}}
	log := logger.Get().Named("claim-drill")

	log.Info(ctx, "starting claim drill",
		logger.String("baseURL", config.BaseURL),
		logger.Int("supply", config.Supply),
		logger.Int("codes", config.Codes),
		logger.Int("duplicates", config.Duplicates),
		logger.Int("workers", config.Workers),
		logger.Duration("timeout", config.Timeout))

	client := newHTTPClient(config.BaseURL, config.Token, config.Timeout)

	// Step 1: Check service health
	if err := client.health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Create the drill event
	ev, err := client.createEvent(ctx, config.Supply)
	if err != nil {
		return nil, fmt.Errorf("event creation failed: %w", err)
	}
	report.EventID = ev.EventID
	log.Info(ctx, "event created",
		logger.String("eventID", ev.EventID),
		logger.String("tree", ev.Tree.Address),
		logger.String("treeState", ev.Tree.State))

	// Step 3: Issue claim codes
	codes, err := issueCodes(ctx, client, ev.EventID, config.Codes)
	report.Stats.CodesIssued = len(codes)
	if err != nil {
		return nil, fmt.Errorf("claim issuance failed: %w", err)
	}

	// Step 4: Fire concurrent claims, several per code
	report.Attempts = fireClaims(ctx, client, config, ev.EventID, codes, &report.Stats)

	// Step 5: Wait for unconfirmed mints to settle
	settled, err := waitForSettle(ctx, client, config, ev.EventID, report.Attempts)
	if err != nil {
		log.Warn(ctx, "drill event did not settle", logger.Error(err))
	}
	report.Event = settled

	// Step 6: Fetch the mint history
	limit := config.Codes
	report.Mints, err = client.mints(ctx, ev.EventID, limit)
	if err != nil {
		return report, fmt.Errorf("mint listing failed: %w", err)
	}
	report.Stats.MintsListed = len(report.Mints)

	// Step 7: Verify at-most-once
	if err := verifyReport(report, codes); err != nil {
		return report, fmt.Errorf("result verification failed: %w", err)
	}

	// Step 8: Save the report
	if err := saveReport(ctx, config, report); err != nil {
		log.Warn(ctx, "failed to save report", logger.Error(err))
	}

	report.Stats.EndTime = time.Now()
	report.Stats.Duration = report.Stats.EndTime.Sub(report.Stats.StartTime)
	displayFinalStats(ctx, &report.Stats)

	log.Info(ctx, "drill completed successfully")
	return report, nil
}

func issueCodes(ctx context.Context, client *HTTPClient, eventID string, n int) ([]string, error) {
	codes := make([]string, 0, n)
	for len(codes) < n {
		batch := min(issueBatch, n-len(codes))
		issued, err := client.issue(ctx, eventID, batch)
		for _, c := range issued {
			codes = append(codes, c.Code)
		}
		if err != nil {
			return codes, err
		}
	}
	return codes, nil
}

type claimJob struct {
	code      string
	recipient string
}

// fireClaims submits Duplicates claims for every code. Claims for one code
// are queued back to back so that they race each other on the workers.
func fireClaims(ctx context.Context, client *HTTPClient, config *Config, eventID string, codes []string, stats *Stats) []Attempt {
	total := len(codes) * config.Duplicates
	logger.Get().Info(ctx, "submitting claims",
		logger.Int("claims", total),
		logger.Int("workers", config.Workers))

	var (
		submitted int64
		mu        sync.Mutex
		attempts  = make([]Attempt, 0, total)
	)

	jobs := make(chan claimJob, config.Workers*WorkerChannelMultiplier)
	var wg sync.WaitGroup

	for range config.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				a := client.claim(ctx, eventID, job.code, job.recipient)
				n := atomic.AddInt64(&submitted, 1)

				mu.Lock()
				attempts = append(attempts, a)
				mu.Unlock()

				if config.Verbose {
					logger.Get().Debug(ctx, "claim attempt",
						logger.String("code", a.Code),
						logger.String("outcome", string(a.Outcome)),
						logger.Int("status", a.Status),
						logger.Int64("submitted", n))
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, code := range codes {
			for range config.Duplicates {
				select {
				case <-ctx.Done():
					return
				case jobs <- claimJob{code: code, recipient: randomAddress()}:
				}
			}
		}
	}()

	wg.Wait()

	stats.ClaimsSubmitted = len(attempts)
	for _, a := range attempts {
		switch a.Outcome {
		case OutcomeMinted:
			stats.Minted++
		case OutcomeDuplicate:
			stats.Duplicate++
		case OutcomePending:
			stats.Pending++
		case OutcomeUnknown:
			stats.Unknown++
		case OutcomeFailed:
			stats.Failed++
		}
	}
	return attempts
}

// waitForSettle polls the event until every code that was not definitively
// answered has either minted or stopped moving, or Settle elapses.
func waitForSettle(ctx context.Context, client *HTTPClient, config *Config, eventID string, attempts []Attempt) (Event, error) {
	answered := make(map[string]struct{})
	open := make(map[string]struct{})
	for _, a := range attempts {
		if a.Outcome == OutcomeMinted {
			answered[a.Code] = struct{}{}
		} else if a.Outcome == OutcomeUnknown || a.Outcome == OutcomePending {
			open[a.Code] = struct{}{}
		}
	}
	for code := range answered {
		delete(open, code)
	}

	ev, err := client.event(ctx, eventID)
	if err != nil || len(open) == 0 {
		return ev, err
	}

	deadline := time.Now().Add(config.Settle)
	ticker := time.NewTicker(SettlePollInterval)
	defer ticker.Stop()
	last := ev.Minted
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ev, ctx.Err()
		case <-ticker.C:
		}
		if ev, err = client.event(ctx, eventID); err != nil {
			return ev, err
		}
		if ev.Minted >= len(answered)+len(open) {
			return ev, nil
		}
		if ev.Minted != last {
			last = ev.Minted
			deadline = time.Now().Add(config.Settle)
		}
	}
	return ev, fmt.Errorf("%d codes still unresolved after %s", len(answered)+len(open)-ev.Minted, config.Settle)
}

// randomAddress returns a fresh base58 public key.
func randomAddress() string {
	b := make([]byte, addressBytes)
	_, _ = rand.Read(b)
	return base58.Encode(b)
}

// saveReport writes the drill report as JSON.
func saveReport(ctx context.Context, config *Config, report *Report) error {
	filename := config.OutputFile
	if filename == "" {
		return nil
	}

	dir := filepath.Dir(filename)
	if dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(filename, data, reportPermission); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	logger.Get().Info(ctx, "report saved to file", logger.String("filename", filename))
	return nil
}

// displayFinalStats logs the final drill statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var mintRate, claimsPerSecond float64

	if stats.CodesIssued > 0 {
		mintRate = float64(stats.MintsListed) / float64(stats.CodesIssued) * PercentageMultiplier
	}
	if stats.Duration > 0 {
		claimsPerSecond = float64(stats.ClaimsSubmitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("codesIssued", stats.CodesIssued),
		logger.Int("claimsSubmitted", stats.ClaimsSubmitted),
		logger.Int("minted", stats.Minted),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("pending", stats.Pending),
		logger.Int("unknown", stats.Unknown),
		logger.Int("failed", stats.Failed),
		logger.Int("mintsListed", stats.MintsListed),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("mintRate", mintRate),
		logger.Float64("claimsPerSecond", claimsPerSecond))
}
