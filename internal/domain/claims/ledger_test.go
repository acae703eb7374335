package claims_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/popclaim/internal/adapters/repository"
	"github.com/okian/popclaim/internal/adapters/repository/storetest"
	"github.com/okian/popclaim/internal/clock"
	"github.com/okian/popclaim/internal/domain/claims"
	"github.com/okian/popclaim/internal/domain/model"
)

func setup(t *testing.T, supply int, opts ...claims.Option) (*claims.Ledger, repository.Store, model.Event) {
	ctx := context.Background()
	s := repository.NewMemoryStore(ctx)
	t.Cleanup(func() { _ = s.Close() })
	ev := storetest.NewEvent(supply, time.Now().UTC())
	if err := s.CreateEvent(ctx, ev); err != nil {
		t.Fatalf("create event: %v", err)
	}
	return claims.New(s, opts...), s, ev
}

func TestRandomCode(t *testing.T) {
	Convey("Given generated claim codes", t, func() {
		seen := make(map[string]struct{}, 256)
		for range 256 {
			code, err := claims.RandomCode()
			So(err, ShouldBeNil)
			raw, err := base58.Decode(code)
			So(err, ShouldBeNil)
			So(raw, ShouldHaveLength, 16)
			seen[code] = struct{}{}
		}

		Convey("Then they do not repeat", func() {
			So(seen, ShouldHaveLength, 256)
		})
	})
}

func TestIssue(t *testing.T) {
	Convey("Given an event with a supply of two", t, func() {
		ctx := context.Background()
		led, _, ev := setup(t, 2)

		Convey("When two claims are issued", func() {
			a, err := led.Issue(ctx, ev.ID)
			So(err, ShouldBeNil)
			b, err := led.Issue(ctx, ev.ID)
			So(err, ShouldBeNil)

			Convey("Then the codes differ and both are issued", func() {
				So(a.Code, ShouldNotEqual, b.Code)
				got, err := led.Lookup(ctx, ev.ID, a.Code)
				So(err, ShouldBeNil)
				So(got.State, ShouldEqual, model.ClaimIssued)
			})

			Convey("Then a third is rejected", func() {
				_, err := led.Issue(ctx, ev.ID)
				So(errors.Is(err, model.ErrSupplyExhausted), ShouldBeTrue)
			})
		})

		Convey("Then unknown events are not found", func() {
			_, err := led.Issue(ctx, "nope")
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
		})
	})

	Convey("Given an event whose tree is still pending", t, func() {
		ctx := context.Background()
		s := repository.NewMemoryStore(ctx)
		defer s.Close()
		ev := storetest.NewEvent(5, time.Now().UTC())
		ev.Tree.State = model.TreePending
		So(s.CreateEvent(ctx, ev), ShouldBeNil)

		Convey("Then no claim can be issued", func() {
			_, err := claims.New(s).Issue(ctx, ev.ID)
			So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
		})
	})
}

func TestIssueCollisions(t *testing.T) {
	Convey("Given a code source that repeats itself", t, func() {
		ctx := context.Background()
		var n int
		src := func() (string, error) {
			n++
			if n <= 3 {
				return "same", nil
			}
			return fmt.Sprintf("code-%d", n), nil
		}
		led, _, ev := setup(t, 5, claims.WithCodeSource(src))

		Convey("Then a colliding code is regenerated", func() {
			first, err := led.Issue(ctx, ev.ID)
			So(err, ShouldBeNil)
			So(first.Code, ShouldEqual, "same")

			second, err := led.Issue(ctx, ev.ID)
			So(err, ShouldBeNil)
			So(second.Code, ShouldEqual, "code-4")
		})
	})

	Convey("Given a code source that never changes", t, func() {
		ctx := context.Background()
		led, _, ev := setup(t, 5, claims.WithCodeSource(func() (string, error) { return "fixed", nil }))
		_, err := led.Issue(ctx, ev.ID)
		So(err, ShouldBeNil)

		Convey("Then issuing gives up after bounded retries", func() {
			_, err := led.Issue(ctx, ev.ID)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "no unique code")
		})
	})
}

func TestIssueBatch(t *testing.T) {
	Convey("Given an event with a supply of five", t, func() {
		ctx := context.Background()
		led, _, ev := setup(t, 5, claims.WithMaxBatch(10))

		Convey("When three are requested", func() {
			out, err := led.IssueBatch(ctx, ev.ID, 3)
			So(err, ShouldBeNil)
			So(out, ShouldHaveLength, 3)

			Convey("Then a larger batch stops at the supply", func() {
				more, err := led.IssueBatch(ctx, ev.ID, 4)
				So(errors.Is(err, model.ErrSupplyExhausted), ShouldBeTrue)
				So(more, ShouldHaveLength, 2)

				list, err := led.List(ctx, ev.ID, 0)
				So(err, ShouldBeNil)
				So(list, ShouldHaveLength, 5)
			})
		})

		Convey("Then counts outside the batch bounds are invalid", func() {
			for _, n := range []int{0, -1, 11} {
				_, err := led.IssueBatch(ctx, ev.ID, n)
				So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
			}
		})
	})
}

func TestConsume(t *testing.T) {
	Convey("Given an issued claim", t, func() {
		ctx := context.Background()
		at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
		led, s, ev := setup(t, 3, claims.WithClock(clock.NewFixed(at)))
		c, err := led.Issue(ctx, ev.ID)
		So(err, ShouldBeNil)

		Convey("When it is consumed", func() {
			rec, err := led.Consume(ctx, ev.ID, c.Code, "wallet", "sig-1")
			So(err, ShouldBeNil)
			So(rec.Signature, ShouldEqual, "sig-1")
			So(rec.MintedAt, ShouldEqual, at)

			Convey("Then the lookup shows it consumed", func() {
				got, err := led.Lookup(ctx, ev.ID, c.Code)
				So(err, ShouldBeNil)
				So(got.Consumed(), ShouldBeTrue)
				So(got.Signature, ShouldEqual, "sig-1")
			})

			Convey("Then a repeat returns the original record", func() {
				again, err := led.Consume(ctx, ev.ID, c.Code, "wallet", "sig-1")
				So(errors.Is(err, model.ErrAlreadyConsumed), ShouldBeTrue)
				So(again.Signature, ShouldEqual, "sig-1")
			})

			Convey("Then a repeat with another signature is an integrity violation", func() {
				again, err := led.Consume(ctx, ev.ID, c.Code, "other", "sig-2")
				So(errors.Is(err, model.ErrIntegrity), ShouldBeTrue)
				So(again.Signature, ShouldEqual, "sig-1")
			})

			Convey("Then the mint is recorded once", func() {
				recs, err := led.Records(ctx, ev.ID, 0)
				So(err, ShouldBeNil)
				So(recs, ShouldHaveLength, 1)
				got, err := s.GetEvent(ctx, ev.ID)
				So(err, ShouldBeNil)
				So(got.Minted, ShouldEqual, 1)
			})
		})

		Convey("When many goroutines consume it at once", func() {
			const workers = 32
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				settled int
			)
			for i := range workers {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := led.Consume(ctx, ev.ID, c.Code, "wallet", fmt.Sprintf("sig-%d", i))
					if err == nil {
						mu.Lock()
						settled++
						mu.Unlock()
					}
				}(i)
			}
			wg.Wait()

			Convey("Then exactly one wins", func() {
				So(settled, ShouldEqual, 1)
				recs, err := led.Records(ctx, ev.ID, 0)
				So(err, ShouldBeNil)
				So(recs, ShouldHaveLength, 1)
			})
		})
	})
}

func TestLeases(t *testing.T) {
	Convey("Given an issued claim", t, func() {
		ctx := context.Background()
		led, _, ev := setup(t, 3)
		c, err := led.Issue(ctx, ev.ID)
		So(err, ShouldBeNil)

		Convey("When an attempt begins", func() {
			a, _, err := led.Begin(ctx, ev.ID, c.Code, "wallet")
			So(err, ShouldBeNil)
			So(a.ID, ShouldNotBeEmpty)

			Convey("Then a second attempt is pending", func() {
				_, cur, err := led.Begin(ctx, ev.ID, c.Code, "wallet")
				So(errors.Is(err, model.ErrClaimPending), ShouldBeTrue)
				So(cur.Attempt.ID, ShouldEqual, a.ID)
			})

			Convey("Then an unconfirmed attempt is listed as pending", func() {
				So(led.RecordSubmission(ctx, ev.ID, c.Code, a.ID, "sig"), ShouldBeNil)
				So(led.MarkUnconfirmed(ctx, ev.ID, c.Code, a.ID), ShouldBeNil)
				pending, err := led.Pending(ctx, 10)
				So(err, ShouldBeNil)
				So(pending, ShouldHaveLength, 1)
				So(pending[0].NeedsReconciliation(), ShouldBeTrue)
			})

			Convey("Then releasing allows a retry", func() {
				So(led.Release(ctx, ev.ID, c.Code, a.ID), ShouldBeNil)
				_, _, err := led.Begin(ctx, ev.ID, c.Code, "wallet")
				So(err, ShouldBeNil)
			})
		})
	})
}

func TestClaimLink(t *testing.T) {
	Convey("Given a claim base url", t, func() {
		Convey("Then links carry the event and escaped code", func() {
			So(claims.Link("https://ctoken.pop/claim", "e1", "abc"), ShouldEqual, "https://ctoken.pop/claim/e1?code=abc")
			So(claims.Link("https://ctoken.pop/claim/", "e 1", "a+b"), ShouldEqual, "https://ctoken.pop/claim/e%201?code=a%2Bb")
		})
	})
}
