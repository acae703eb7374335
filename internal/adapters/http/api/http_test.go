package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mr-tron/base58"
	. "github.com/smartystreets/goconvey/convey"
	"golang.org/x/crypto/bcrypt"

	"github.com/okian/popclaim/internal/adapters/chain/simulated"
	"github.com/okian/popclaim/internal/adapters/http/api"
	"github.com/okian/popclaim/internal/adapters/repository"
	service "github.com/okian/popclaim/internal/app"
)

const organizerToken = "organizer-secret"

type harness struct {
	srv *httptest.Server
}

func newHarness(t *testing.T, opts ...api.Option) *harness {
	svc := service.New(repository.NewMemoryStore(context.Background()), simulated.New(),
		service.WithWorkerCount(1), service.WithSweepInterval(0))
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })

	mux := http.NewServeMux()
	api.NewServer(svc, opts...).Register(context.Background(), mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &harness{srv: srv}
}

func (h *harness) do(method, path, token string, body any) (int, map[string]any) {
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, h.srv.URL+path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	So(err, ShouldBeNil)
	defer resp.Body.Close()

	out := map[string]any{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		So(json.NewDecoder(resp.Body).Decode(&out), ShouldBeNil)
	}
	return resp.StatusCode, out
}

func eventBody(supply int) map[string]any {
	return map[string]any{
		"name":        "Gopher Meetup",
		"description": "monthly",
		"image":       "https://img.example/gopher.png",
		"organizer":   "gophers",
		"date":        "2026-03-01",
		"max_supply":  supply,
	}
}

func wallet(seed byte) string {
	return base58.Encode(bytes.Repeat([]byte{seed}, 32))
}

func TestClaimFlowOverHTTP(t *testing.T) {
	Convey("Given the API over a simulated chain", t, func() {
		h := newHarness(t)

		Convey("When an event is created", func() {
			status, created := h.do(http.MethodPost, "/events", "", eventBody(2))
			So(status, ShouldEqual, http.StatusCreated)
			eventID, _ := created["event_id"].(string)
			So(eventID, ShouldNotBeEmpty)
			tree, _ := created["tree"].(map[string]any)
			So(tree["state"], ShouldEqual, "ready")
			savings, _ := created["estimated_savings"].(map[string]any)
			So(savings["token_count"], ShouldEqual, float64(2))

			Convey("Then codes can be issued and claimed exactly once", func() {
				status, issued := h.do(http.MethodPost, "/events/"+eventID+"/claims", "", map[string]any{"count": 2})
				So(status, ShouldEqual, http.StatusCreated)
				list, _ := issued["claims"].([]any)
				So(list, ShouldHaveLength, 2)
				first, _ := list[0].(map[string]any)
				code, _ := first["claim_code"].(string)
				So(first["claim_link"], ShouldContainSubstring, "?code=")

				claim := map[string]any{"event_id": eventID, "claim_code": code, "recipient_address": wallet(1)}
				status, ok := h.do(http.MethodPost, "/claims", "", claim)
				So(status, ShouldEqual, http.StatusOK)
				So(ok["success"], ShouldEqual, true)
				sig, _ := ok["signature"].(string)
				So(sig, ShouldNotBeEmpty)

				status, dup := h.do(http.MethodPost, "/claims", "", claim)
				So(status, ShouldEqual, http.StatusConflict)
				So(dup["success"], ShouldEqual, false)
				So(dup["code"], ShouldEqual, "already_consumed")
				So(dup["signature"], ShouldEqual, sig)

				status, cl := h.do(http.MethodGet, "/events/"+eventID+"/claims/"+code, "", nil)
				So(status, ShouldEqual, http.StatusOK)
				So(cl["state"], ShouldEqual, "consumed")

				status, mints := h.do(http.MethodGet, "/events/"+eventID+"/mints", "", nil)
				So(status, ShouldEqual, http.StatusOK)
				So(mints["mints"], ShouldHaveLength, 1)

				status, ev := h.do(http.MethodGet, "/events/"+eventID, "", nil)
				So(status, ShouldEqual, http.StatusOK)
				So(ev["minted"], ShouldEqual, float64(1))
				So(ev["remaining"], ShouldEqual, float64(1))

				status, more := h.do(http.MethodPost, "/events/"+eventID+"/claims", "", nil)
				So(status, ShouldEqual, http.StatusConflict)
				So(more["code"], ShouldEqual, "supply_exhausted")
			})

			Convey("Then claim failures carry distinct codes", func() {
				status, bad := h.do(http.MethodPost, "/claims", "", map[string]any{
					"event_id": eventID, "claim_code": "nope", "recipient_address": "not-base58-0OIl",
				})
				So(status, ShouldEqual, http.StatusBadRequest)
				So(bad["code"], ShouldEqual, "malformed_address")

				status, unknown := h.do(http.MethodPost, "/claims", "", map[string]any{
					"event_id": eventID, "claim_code": "nope", "recipient_address": wallet(2),
				})
				So(status, ShouldEqual, http.StatusNotFound)
				So(unknown["code"], ShouldEqual, "invalid_claim")

				status, missing := h.do(http.MethodPost, "/claims", "", map[string]any{"event_id": eventID})
				So(status, ShouldEqual, http.StatusBadRequest)
				So(missing["code"], ShouldEqual, "invalid_input")
			})

			Convey("Then events are listed", func() {
				status, evs := h.do(http.MethodGet, "/events?limit=5", "", nil)
				So(status, ShouldEqual, http.StatusOK)
				So(evs["events"], ShouldHaveLength, 1)

				status, _ = h.do(http.MethodGet, "/events?limit=x", "", nil)
				So(status, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("Then oversized and malformed events are rejected", func() {
			status, big := h.do(http.MethodPost, "/events", "", eventBody(20_000))
			So(status, ShouldEqual, http.StatusBadRequest)
			So(big["code"], ShouldEqual, "capacity_exceeded")

			status, _ = h.do(http.MethodPost, "/events", "", map[string]any{"unknown": true})
			So(status, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Then unknown events are not found", func() {
			status, body := h.do(http.MethodGet, "/events/missing", "", nil)
			So(status, ShouldEqual, http.StatusNotFound)
			So(body["code"], ShouldEqual, "not_found")

			status, _ = h.do(http.MethodGet, "/events/missing/mints", "", nil)
			So(status, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestEstimateAndStats(t *testing.T) {
	Convey("Given the API", t, func() {
		h := newHarness(t)

		Convey("Then the estimate uses the configured costs", func() {
			status, est := h.do(http.MethodGet, "/estimate?tokens=1000", "", nil)
			So(status, ShouldEqual, http.StatusOK)
			So(est["regular_cost"], ShouldEqual, "10")
			So(est["compressed_cost"], ShouldEqual, "0.00732")
		})

		Convey("Then explicit costs override the defaults", func() {
			status, est := h.do(http.MethodGet, "/estimate?tokens=10&regular=1&compressed=0.5", "", nil)
			So(status, ShouldEqual, http.StatusOK)
			So(est["regular_cost"], ShouldEqual, "10")
		})

		Convey("Then invalid estimates are bad requests", func() {
			status, body := h.do(http.MethodGet, "/estimate?tokens=0", "", nil)
			So(status, ShouldEqual, http.StatusBadRequest)
			So(body["code"], ShouldEqual, "invalid_input")

			status, _ = h.do(http.MethodGet, "/estimate?tokens=10&regular=1", "", nil)
			So(status, ShouldEqual, http.StatusBadRequest)

			status, _ = h.do(http.MethodGet, "/estimate?tokens=10&regular=x&compressed=1", "", nil)
			So(status, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Then stats and metrics are served", func() {
			status, st := h.do(http.MethodGet, "/stats", "", nil)
			So(status, ShouldEqual, http.StatusOK)
			So(st["events"], ShouldEqual, float64(0))
			So(st["workers"], ShouldEqual, float64(1))

			resp, err := http.Get(h.srv.URL + "/healthz")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
		})
	})
}

func TestOrganizerAuth(t *testing.T) {
	Convey("Given organizer tokens are configured", t, func() {
		hash, err := bcrypt.GenerateFromPassword([]byte(organizerToken), bcrypt.MinCost)
		So(err, ShouldBeNil)
		h := newHarness(t, api.WithOrganizerTokenHashes([]string{string(hash)}))

		Convey("Then organizer endpoints require a valid token", func() {
			status, body := h.do(http.MethodPost, "/events", "", eventBody(4))
			So(status, ShouldEqual, http.StatusUnauthorized)
			So(body["code"], ShouldEqual, "unauthorized")

			status, _ = h.do(http.MethodPost, "/events", "wrong", eventBody(4))
			So(status, ShouldEqual, http.StatusUnauthorized)

			status, created := h.do(http.MethodPost, "/events", organizerToken, eventBody(4))
			So(status, ShouldEqual, http.StatusCreated)
			eventID, _ := created["event_id"].(string)

			status, _ = h.do(http.MethodGet, "/events/"+eventID+"/claims", "", nil)
			So(status, ShouldEqual, http.StatusUnauthorized)
			status, _ = h.do(http.MethodGet, "/events/"+eventID+"/claims", organizerToken, nil)
			So(status, ShouldEqual, http.StatusOK)
		})

		Convey("Then public endpoints stay open", func() {
			status, _ := h.do(http.MethodGet, "/events", "", nil)
			So(status, ShouldEqual, http.StatusOK)
		})
	})

	Convey("Given an authenticator without hashes", t, func() {
		a := api.NewOrganizerAuth([]string{" ", ""})
		req := httptest.NewRequest(http.MethodPost, "/events", http.NoBody)

		Convey("Then every request passes", func() {
			So(a.Enabled(), ShouldBeFalse)
			So(a.Verify(req), ShouldBeTrue)
		})
	})
}
