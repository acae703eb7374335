package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/blocto/solana-go-sdk/types"
	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/popclaim/internal/config"
	"github.com/okian/popclaim/pkg/logger"
	"github.com/okian/popclaim/pkg/metrics"
)

func TestConfigurationLoading(t *testing.T) {
	convey.Convey("Given POP_ environment variables", t, func() {
		_ = os.Setenv("POP_ADDR", ":8181")
		_ = os.Setenv("POP_RECONCILE_WORKERS", "3")
		_ = os.Setenv("POP_TOKEN_SYMBOL", "DRILL")
		defer func() {
			_ = os.Unsetenv("POP_ADDR")
			_ = os.Unsetenv("POP_RECONCILE_WORKERS")
			_ = os.Unsetenv("POP_TOKEN_SYMBOL")
		}()

		convey.Convey("Then they override the defaults", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8181")
			convey.So(cfg.ReconcileWorkers, convey.ShouldEqual, 3)
			convey.So(cfg.TokenSymbol, convey.ShouldEqual, "DRILL")
			convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverMemory)
		})
	})

	convey.Convey("Given an unknown chain driver", t, func() {
		_ = os.Setenv("POP_CHAIN_DRIVER", "ethereum")
		defer func() { _ = os.Unsetenv("POP_CHAIN_DRIVER") }()

		convey.Convey("Then loading fails", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(cfg, convey.ShouldBeNil)
		})
	})
}

func TestServiceWiring(t *testing.T) {
	convey.Convey("Given the default local configuration", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cfg := config.New()
		cfg.SimLatencyMinMS, cfg.SimLatencyMaxMS = 0, 0
		cfg.ConfirmPollMS = 5
		cfg.ReconcileWorkers = 1
		cfg.SweepIntervalMS = 0

		svc, err := buildService(ctx, cfg, logger.Nop())
		convey.So(err, convey.ShouldBeNil)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer func() { _ = svc.Stop(context.Background()) }()

		srv := httptest.NewServer(newMux(ctx, cfg, svc, logger.Nop()))
		defer srv.Close()

		convey.Convey("Then the API and the docs are both mounted", func() {
			for _, path := range []string{"/healthz", "/stats", "/openapi.yaml", "/api-docs"} {
				resp, err := http.Get(srv.URL + path)
				convey.So(err, convey.ShouldBeNil)
				_ = resp.Body.Close()
				convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
			}
		})

		convey.Convey("Then an event can be created end to end", func() {
			body := `{"name":"Launch","organizer":"acme","max_supply":10}`
			resp, err := http.Post(srv.URL+"/events", "application/json", strings.NewReader(body))
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusCreated)

			var out map[string]any
			convey.So(json.NewDecoder(resp.Body).Decode(&out), convey.ShouldBeNil)
			convey.So(out["event_id"], convey.ShouldNotBeEmpty)
		})
	})
}

func TestChainSelection(t *testing.T) {
	convey.Convey("Given the solana chain driver", t, func() {
		ctx := context.Background()
		cfg := config.New()
		cfg.ChainDriver = config.DriverSolana

		convey.Convey("When the payer keypair file is missing", func() {
			cfg.PayerKeypairFile = filepath.Join(t.TempDir(), "missing.json")
			_, _, err := newChain(ctx, cfg, logger.Nop())

			convey.Convey("Then the chain is not built", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "load payer keypair")
			})
		})

		convey.Convey("When a payer keypair is present", func() {
			cfg.PayerKeypairFile = writeKeypair(t)

			convey.Convey("Then the planner only offers supported shapes", func() {
				chain, planner, err := newChain(ctx, cfg, logger.Nop())
				convey.So(err, convey.ShouldBeNil)
				convey.So(chain, convey.ShouldNotBeNil)
				convey.So(planner.MaxCapacity(), convey.ShouldEqual, 1<<14)

				params, err := planner.Plan(100)
				convey.So(err, convey.ShouldBeNil)
				convey.So(params.MaxDepth, convey.ShouldEqual, 14)
			})

			convey.Convey("Then a depth range with no supported shape is rejected", func() {
				cfg.TreeMinDepth, cfg.TreeMaxDepth = 6, 10
				_, _, err := newChain(ctx, cfg, logger.Nop())
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})

	convey.Convey("Given the simulated chain driver", t, func() {
		cfg := config.New()
		chain, planner, err := newChain(context.Background(), cfg, logger.Nop())

		convey.Convey("Then every depth in range is available", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(chain, convey.ShouldNotBeNil)
			params, err := planner.Plan(100)
			convey.So(err, convey.ShouldBeNil)
			convey.So(params.MaxDepth, convey.ShouldEqual, 7)
		})
	})
}

func TestMetricsUpdaters(t *testing.T) {
	convey.Convey("Given the background metrics updaters", t, func() {
		convey.Convey("Then a system metrics update does not panic", func() {
			convey.So(updateSystemMetrics, convey.ShouldNotPanic)
		})

		convey.Convey("Then the updaters return once the context ends", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			cfg := config.New()
			cfg.SweepIntervalMS = 0
			svc, err := buildService(ctx, cfg, logger.Nop())
			convey.So(err, convey.ShouldBeNil)
			defer func() { _ = svc.Stop(context.Background()) }()

			done := make(chan struct{})
			go func() {
				startSystemMetricsUpdater(ctx)
				startServiceMetricsUpdater(ctx, svc)
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("metrics updaters did not stop")
			}
		})
	})
}

func TestMetricsConfiguration(t *testing.T) {
	convey.Convey("Given metrics settings in the config", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cfg := config.New()
		cfg.SweepIntervalMS = 0
		cfg.MetricsNamespace = "wired"
		cfg.MetricsRefreshIntervalMS = 250
		configureMetrics(cfg)
		defer configureMetrics(config.New())

		svc, err := buildService(ctx, cfg, logger.Nop())
		convey.So(err, convey.ShouldBeNil)
		defer func() { _ = svc.Stop(context.Background()) }()
		srv := httptest.NewServer(newMux(ctx, cfg, svc, logger.Nop()))
		defer srv.Close()

		convey.Convey("Then the updaters tick at the configured interval", func() {
			convey.So(metrics.RefreshInterval(), convey.ShouldEqual, 250*time.Millisecond)
		})

		convey.Convey("Then /healthz exposes the configured namespace", func() {
			resp, err := http.Get(srv.URL + "/healthz")
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			convey.So(err, convey.ShouldBeNil)
			convey.So(string(body), convey.ShouldContainSubstring, "wired_claims_events_created_total")
			convey.So(string(body), convey.ShouldNotContainSubstring, "popclaim_claims_")
		})
	})
}

func writeKeypair(t *testing.T) string {
	t.Helper()
	acc := types.NewAccount()
	ints := make([]int, len(acc.PrivateKey))
	for i, b := range acc.PrivateKey {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "payer.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
