package model_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	model "github.com/okian/popclaim/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestEventLimits(t *testing.T) {
	convey.Convey("Given an event with a provisioned tree", t, func() {
		ev := model.Event{
			ID:        "event-1",
			MaxSupply: 100,
			Tree: model.TreeRef{
				Address: "tree",
				State:   model.TreeReady,
				Params:  model.TreeParams{MaxDepth: 7, MaxBufferSize: 64, Capacity: 128},
			},
		}

		convey.Convey("Then the mint limit is the declared supply when the tree is larger", func() {
			convey.So(ev.MintLimit(), convey.ShouldEqual, 100)
			convey.So(ev.Remaining(), convey.ShouldEqual, 100)
			convey.So(ev.Tree.Ready(), convey.ShouldBeTrue)
		})

		convey.Convey("When the tree is smaller than the declared supply", func() {
			ev.Tree.Params.Capacity = 64
			ev.Minted = 60

			convey.Convey("Then the tree capacity bounds the mints", func() {
				convey.So(ev.MintLimit(), convey.ShouldEqual, 64)
				convey.So(ev.Remaining(), convey.ShouldEqual, 4)
			})
		})

		convey.Convey("When more tokens were minted than the limit", func() {
			ev.Minted = 150

			convey.Convey("Then remaining never goes negative", func() {
				convey.So(ev.Remaining(), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When the tree is still pending", func() {
			ev.Tree.State = model.TreePending

			convey.Convey("Then it is not ready", func() {
				convey.So(ev.Tree.Ready(), convey.ShouldBeFalse)
			})
		})
	})
}

func TestEventMetadataValidate(t *testing.T) {
	convey.Convey("Given event metadata", t, func() {
		meta := model.EventMetadata{Name: "GopherCon", Organizer: "gophers", Image: "https://img"}

		convey.Convey("Then complete metadata validates", func() {
			convey.So(meta.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then a missing name is invalid input", func() {
			meta.Name = "  "
			err := meta.Validate()
			convey.So(errors.Is(err, model.ErrInvalidInput), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "missing name")
		})

		convey.Convey("Then a name longer than the metadata limit is invalid input", func() {
			meta.Name = fmt.Sprintf("%040d", 1)
			convey.So(errors.Is(meta.Validate(), model.ErrInvalidInput), convey.ShouldBeTrue)
		})
	})
}

func TestClaimHelpers(t *testing.T) {
	convey.Convey("Given an issued claim", t, func() {
		now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		c := model.Claim{EventID: "e", Code: "c", State: model.ClaimIssued, IssuedAt: now}

		convey.Convey("Then it needs no reconciliation and has no job", func() {
			convey.So(c.NeedsReconciliation(), convey.ShouldBeFalse)
			_, ok := model.JobFor(c)
			convey.So(ok, convey.ShouldBeFalse)
		})

		convey.Convey("When an attempt submitted a transaction", func() {
			c.Attempt = &model.Attempt{ID: "a1", Status: model.AttemptUnconfirmed, Signature: "sig", Recipient: "r", SubmittedAt: now}

			convey.Convey("Then it needs reconciliation and yields a job", func() {
				convey.So(c.NeedsReconciliation(), convey.ShouldBeTrue)
				job, ok := model.JobFor(c)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(job.Signature, convey.ShouldEqual, "sig")
				convey.So(job.AttemptID, convey.ShouldEqual, "a1")
			})
		})

		convey.Convey("When an in-flight lease is old", func() {
			c.Attempt = &model.Attempt{ID: "a2", Status: model.AttemptInFlight, StartedAt: now}

			convey.Convey("Then the lease is expired only after the ttl", func() {
				convey.So(c.LeaseExpired(now.Add(time.Second), time.Minute), convey.ShouldBeFalse)
				convey.So(c.LeaseExpired(now.Add(2*time.Minute), time.Minute), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the claim is consumed", func() {
			c.State = model.ClaimConsumed
			c.Signature = "sig-final"
			c.Recipient = "wallet"
			c.ConsumedAt = now

			convey.Convey("Then its record carries the signature", func() {
				rec := c.Record()
				convey.So(rec.Signature, convey.ShouldEqual, "sig-final")
				convey.So(rec.ClaimCode, convey.ShouldEqual, "c")
				convey.So(rec.MintedAt, convey.ShouldEqual, now)
			})
		})
	})
}

func TestErrorKinds(t *testing.T) {
	convey.Convey("Given wrapped domain errors", t, func() {
		cause := errors.New("rpc down")
		err := model.WrapKind("mint.submit", model.ErrMintSubmissionFailed, cause)

		convey.Convey("Then both the kind and the cause match", func() {
			convey.So(errors.Is(err, model.ErrMintSubmissionFailed), convey.ShouldBeTrue)
			convey.So(errors.Is(err, cause), convey.ShouldBeTrue)
			convey.So(model.KindOf(err), convey.ShouldEqual, model.ErrMintSubmissionFailed)
			convey.So(err.Error(), convey.ShouldEqual, "mint.submit: mint submission failed: rpc down")
		})

		convey.Convey("Then the more specific kind wins when stacked", func() {
			inner := model.NewKind("store.consume", model.ErrAlreadyConsumed)
			outer := model.WrapKind("mint.settle", model.ErrIntegrity, inner)
			convey.So(model.KindOf(outer), convey.ShouldEqual, model.ErrIntegrity)
		})

		convey.Convey("Then unknown errors have no kind", func() {
			convey.So(model.KindOf(errors.New("boom")), convey.ShouldBeNil)
		})
	})
}
