// Package storetest holds the behaviour every repository.Store must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/popclaim/internal/adapters/repository"
	"github.com/okian/popclaim/internal/domain/model"
)

// Factory returns an empty store.
type Factory func(t *testing.T) repository.Store

// NewEvent returns a ready event with the given supply.
func NewEvent(maxSupply int, createdAt time.Time) model.Event {
	return model.Event{
		ID:        uuid.NewString(),
		Metadata:  model.EventMetadata{Name: "Gopher Meetup", Organizer: "gophers", Image: "https://img/1.png"},
		MaxSupply: maxSupply,
		Tree: model.TreeRef{
			Address: "Tree" + uuid.NewString()[:8],
			State:   model.TreeReady,
			Params:  model.TreeParams{MaxDepth: 7, MaxBufferSize: 64, Capacity: 128},
		},
		CreatedAt: createdAt,
	}
}

func issue(ctx context.Context, s repository.Store, eventID, code string, at time.Time) error {
	return s.InsertClaim(ctx, model.Claim{EventID: eventID, Code: code, IssuedAt: at})
}

// Run exercises the Store contract.
func Run(t *testing.T, newStore Factory) { //nolint:funlen,gocognit // one contract
	now := time.Now().UTC().Truncate(time.Microsecond)

	Convey("Given an empty store", t, func() {
		ctx := context.Background()
		s := newStore(t)

		Convey("When an event is created", func() {
			ev := NewEvent(3, now)
			ev.Tree.State = model.TreePending
			ev.Tree.Address = ""
			So(s.CreateEvent(ctx, ev), ShouldBeNil)

			Convey("Then it can be read back", func() {
				got, err := s.GetEvent(ctx, ev.ID)
				So(err, ShouldBeNil)
				So(got.Metadata.Name, ShouldEqual, "Gopher Meetup")
				So(got.MaxSupply, ShouldEqual, 3)
				So(got.Tree.State, ShouldEqual, model.TreePending)
			})

			Convey("Then creating it again is a duplicate", func() {
				So(errors.Is(s.CreateEvent(ctx, ev), repository.ErrDuplicate), ShouldBeTrue)
			})

			Convey("Then it is listed as pending until the tree is ready", func() {
				pending, err := s.ListPendingTrees(ctx, 10)
				So(err, ShouldBeNil)
				So(pending, ShouldHaveLength, 1)

				ready := ev.Tree
				ready.State = model.TreeReady
				ready.Address = "TreeAddr"
				So(s.UpdateTree(ctx, ev.ID, ready), ShouldBeNil)

				pending, err = s.ListPendingTrees(ctx, 10)
				So(err, ShouldBeNil)
				So(pending, ShouldBeEmpty)

				got, _ := s.GetEvent(ctx, ev.ID)
				So(got.Tree.Address, ShouldEqual, "TreeAddr")

				Convey("And a ready tree is never reassigned", func() {
					other := ready
					other.Address = "OtherTree"
					So(errors.Is(s.UpdateTree(ctx, ev.ID, other), repository.ErrTreeFinal), ShouldBeTrue)
				})
			})
		})

		Convey("Then unknown events are not found", func() {
			_, err := s.GetEvent(ctx, uuid.NewString())
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			So(errors.Is(issue(ctx, s, uuid.NewString(), "c", now), model.ErrNotFound), ShouldBeTrue)
		})

		Convey("When events are listed", func() {
			older := NewEvent(1, now.Add(-time.Hour))
			newer := NewEvent(1, now)
			So(s.CreateEvent(ctx, older), ShouldBeNil)
			So(s.CreateEvent(ctx, newer), ShouldBeNil)

			Convey("Then the newest comes first and the limit applies", func() {
				evs, err := s.ListEvents(ctx, 10)
				So(err, ShouldBeNil)
				So(evs, ShouldHaveLength, 2)
				So(evs[0].ID, ShouldEqual, newer.ID)

				evs, err = s.ListEvents(ctx, 1)
				So(err, ShouldBeNil)
				So(evs, ShouldHaveLength, 1)
			})
		})

		Convey("When claims are issued up to the supply", func() {
			ev := NewEvent(2, now)
			So(s.CreateEvent(ctx, ev), ShouldBeNil)
			So(issue(ctx, s, ev.ID, "code-a", now), ShouldBeNil)
			So(issue(ctx, s, ev.ID, "code-b", now.Add(time.Second)), ShouldBeNil)

			Convey("Then one more claim exhausts the supply", func() {
				So(errors.Is(issue(ctx, s, ev.ID, "code-c", now), model.ErrSupplyExhausted), ShouldBeTrue)
				got, _ := s.GetEvent(ctx, ev.ID)
				So(got.Issued, ShouldEqual, 2)
			})

			Convey("Then a taken code is a duplicate", func() {
				err := issue(ctx, s, ev.ID, "code-a", now)
				So(errors.Is(err, repository.ErrDuplicate) || errors.Is(err, model.ErrSupplyExhausted), ShouldBeTrue)
			})

			Convey("Then claims are listed in issue order", func() {
				cs, err := s.ListClaims(ctx, ev.ID, 0)
				So(err, ShouldBeNil)
				So(cs, ShouldHaveLength, 2)
				So(cs[0].Code, ShouldEqual, "code-a")
				So(cs[0].State, ShouldEqual, model.ClaimIssued)
			})
		})

		Convey("When an attempt leases a claim", func() {
			ev := NewEvent(5, now)
			So(s.CreateEvent(ctx, ev), ShouldBeNil)
			So(issue(ctx, s, ev.ID, "code-1", now), ShouldBeNil)

			att := model.Attempt{ID: uuid.NewString(), Recipient: "wallet-1", StartedAt: now}
			c, err := s.BeginAttempt(ctx, ev.ID, "code-1", att)
			So(err, ShouldBeNil)
			So(c.Attempt, ShouldNotBeNil)
			So(c.Attempt.Status, ShouldEqual, model.AttemptInFlight)

			Convey("Then a second attempt is refused with the holder visible", func() {
				c2, err := s.BeginAttempt(ctx, ev.ID, "code-1", model.Attempt{ID: uuid.NewString(), StartedAt: now})
				So(errors.Is(err, repository.ErrAttemptExists), ShouldBeTrue)
				So(c2.Attempt.ID, ShouldEqual, att.ID)
			})

			Convey("Then the submission and reconciliation flag are recorded", func() {
				So(s.RecordSubmission(ctx, ev.ID, "code-1", att.ID, "sig-1", now), ShouldBeNil)
				So(s.MarkUnconfirmed(ctx, ev.ID, "code-1", att.ID), ShouldBeNil)

				got, err := s.GetClaim(ctx, ev.ID, "code-1")
				So(err, ShouldBeNil)
				So(got.NeedsReconciliation(), ShouldBeTrue)
				So(got.Attempt.Signature, ShouldEqual, "sig-1")
				So(got.State, ShouldEqual, model.ClaimIssued)

				open, err := s.ListAttempts(ctx, 10)
				So(err, ShouldBeNil)
				So(open, ShouldHaveLength, 1)

				st, err := s.Stats(ctx)
				So(err, ShouldBeNil)
				So(st.Unreconciled, ShouldEqual, 1)
			})

			Convey("Then a foreign attempt cannot touch the lease", func() {
				err := s.RecordSubmission(ctx, ev.ID, "code-1", "someone-else", "sig-x", now)
				So(errors.Is(err, repository.ErrAttemptMismatch), ShouldBeTrue)
			})

			Convey("Then releasing makes the claim retryable", func() {
				So(s.ReleaseAttempt(ctx, ev.ID, "code-1", att.ID), ShouldBeNil)
				So(s.ReleaseAttempt(ctx, ev.ID, "code-1", att.ID), ShouldBeNil)
				got, _ := s.GetClaim(ctx, ev.ID, "code-1")
				So(got.Attempt, ShouldBeNil)

				_, err := s.BeginAttempt(ctx, ev.ID, "code-1", model.Attempt{ID: uuid.NewString(), StartedAt: now})
				So(err, ShouldBeNil)
			})

			Convey("When the claim is consumed", func() {
				rec, err := s.Consume(ctx, ev.ID, "code-1", "wallet-1", "sig-1", now)
				So(err, ShouldBeNil)

				Convey("Then it is permanent and the record is immutable", func() {
					So(rec.Signature, ShouldEqual, "sig-1")
					So(rec.MintedAt.Equal(now), ShouldBeTrue)

					got, _ := s.GetClaim(ctx, ev.ID, "code-1")
					So(got.Consumed(), ShouldBeTrue)
					So(got.Attempt, ShouldBeNil)

					again, err := s.Consume(ctx, ev.ID, "code-1", "wallet-2", "sig-1", now.Add(time.Minute))
					So(errors.Is(err, model.ErrAlreadyConsumed), ShouldBeTrue)
					So(again.Recipient, ShouldEqual, "wallet-1")

					_, err = s.Consume(ctx, ev.ID, "code-1", "wallet-2", "sig-2", now)
					So(errors.Is(err, model.ErrIntegrity), ShouldBeTrue)

					c, err := s.BeginAttempt(ctx, ev.ID, "code-1", model.Attempt{ID: uuid.NewString(), StartedAt: now})
					So(errors.Is(err, model.ErrAlreadyConsumed), ShouldBeTrue)
					So(c.Signature, ShouldEqual, "sig-1")
				})

				Convey("Then the event counts the mint and the audit log has one record", func() {
					got, _ := s.GetEvent(ctx, ev.ID)
					So(got.Minted, ShouldEqual, 1)

					recs, err := s.ListMintRecords(ctx, ev.ID, 0)
					So(err, ShouldBeNil)
					So(recs, ShouldHaveLength, 1)
					So(recs[0].ClaimCode, ShouldEqual, "code-1")
				})
			})
		})

		Convey("When the mint limit is reached", func() {
			ev := NewEvent(1, now)
			So(s.CreateEvent(ctx, ev), ShouldBeNil)
			So(issue(ctx, s, ev.ID, "only", now), ShouldBeNil)
			_, err := s.Consume(ctx, ev.ID, "only", "w", "sig", now)
			So(err, ShouldBeNil)

			Convey("Then no further attempt can start", func() {
				got, _ := s.GetEvent(ctx, ev.ID)
				So(got.Remaining(), ShouldEqual, 0)
			})
		})

		Convey("When many goroutines consume the same claim", func() {
			ev := NewEvent(10, now)
			So(s.CreateEvent(ctx, ev), ShouldBeNil)
			So(issue(ctx, s, ev.ID, "hot", now), ShouldBeNil)

			const n = 16
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				settled  int
				repeated int
				sigs     = map[string]int{}
			)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					rec, err := s.Consume(ctx, ev.ID, "hot", fmt.Sprintf("w-%d", i), "sig-hot", now)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						settled++
					case errors.Is(err, model.ErrAlreadyConsumed):
						repeated++
					}
					sigs[rec.Signature]++
				}()
			}
			wg.Wait()

			Convey("Then exactly one transition happens", func() {
				So(settled, ShouldEqual, 1)
				So(repeated, ShouldEqual, n-1)
				So(sigs["sig-hot"], ShouldEqual, n)
				got, _ := s.GetEvent(ctx, ev.ID)
				So(got.Minted, ShouldEqual, 1)
			})
		})
	})
}
