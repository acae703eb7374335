package tree_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/popclaim/internal/clock"
	"github.com/okian/popclaim/internal/domain/model"
	"github.com/okian/popclaim/internal/domain/tree"
)

type fakeLedger struct {
	created tree.Created
	err     error
	status  model.TxStatus
	calls   int
}

func (f *fakeLedger) ProvisionTree(_ context.Context, _ model.TreeParams) (tree.Created, error) {
	f.calls++
	return f.created, f.err
}

func (f *fakeLedger) Status(_ context.Context, _ string) (model.TxStatus, error) {
	return f.status, nil
}

type recorder struct {
	mu      sync.Mutex
	history []model.TreeRef
}

func (r *recorder) UpdateTree(_ context.Context, _ string, ref model.TreeRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, ref)
	return nil
}

func (r *recorder) states() []model.TreeState {
	out := make([]model.TreeState, 0, len(r.history))
	for _, h := range r.history {
		out = append(out, h.State)
	}
	return out
}

func TestPlanner(t *testing.T) {
	Convey("Given the default planner", t, func() {
		p := tree.NewPlanner(tree.DefaultMinDepth, tree.DefaultMaxDepth, tree.DefaultBuffer)

		Convey("Then it picks the smallest sufficient depth", func() {
			params, err := p.Plan(100)
			So(err, ShouldBeNil)
			So(params.MaxDepth, ShouldEqual, 7)
			So(params.Capacity, ShouldEqual, 128)
			So(params.MaxBufferSize, ShouldEqual, 64)

			params, err = p.Plan(128)
			So(err, ShouldBeNil)
			So(params.MaxDepth, ShouldEqual, 7)
		})

		Convey("Then small supplies use the minimum depth", func() {
			params, err := p.Plan(1)
			So(err, ShouldBeNil)
			So(params.MaxDepth, ShouldEqual, tree.DefaultMinDepth)
		})

		Convey("Then the maximum depth capacity is accepted", func() {
			params, err := p.Plan(16384)
			So(err, ShouldBeNil)
			So(params.MaxDepth, ShouldEqual, 14)
		})

		Convey("Then a supply of 20000 exceeds the 16384 leaf capacity", func() {
			_, err := p.Plan(20000)
			So(errors.Is(err, model.ErrCapacityExceeded), ShouldBeTrue)
		})

		Convey("Then a non-positive supply is invalid input", func() {
			_, err := p.Plan(0)
			So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
		})

		Convey("When restricted to the shapes a ledger accepts", func() {
			only := p.Restrict(func(depth, buffer int) bool { return buffer == 64 && (depth == 5 || depth == 14) })

			Convey("Then it skips unsupported depths", func() {
				params, err := only.Plan(1)
				So(err, ShouldBeNil)
				So(params.MaxDepth, ShouldEqual, 5)

				params, err = only.Plan(100)
				So(err, ShouldBeNil)
				So(params.MaxDepth, ShouldEqual, 14)
				So(only.MaxCapacity(), ShouldEqual, 16384)
			})

			Convey("Then no accepted shape means the supply exceeds capacity", func() {
				none := p.Restrict(func(int, int) bool { return false })
				_, err := none.Plan(1)
				So(errors.Is(err, model.ErrCapacityExceeded), ShouldBeTrue)
				So(none.MaxCapacity(), ShouldEqual, 0)
			})
		})
	})
}

func TestProvisioner(t *testing.T) {
	Convey("Given a provisioner", t, func() {
		ctx := context.Background()
		ledger := &fakeLedger{created: tree.Created{Address: "Tree111", Signature: "sig-1"}}
		rec := &recorder{}
		clk := clock.NewManual(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
		p := tree.NewProvisioner(ledger, rec, tree.WithClock(clk), tree.WithResolveAfter(time.Minute))

		Convey("When provisioning a supply above the capacity", func() {
			_, err := p.Provision(ctx, "e1", 20000)

			Convey("Then it fails with CapacityExceeded without side effects", func() {
				So(errors.Is(err, model.ErrCapacityExceeded), ShouldBeTrue)
				So(ledger.calls, ShouldEqual, 0)
				So(rec.history, ShouldBeEmpty)
			})
		})

		Convey("When the ledger creates the tree", func() {
			ref, err := p.Provision(ctx, "e1", 100)

			Convey("Then the tree goes pending then ready", func() {
				So(err, ShouldBeNil)
				So(ref.Ready(), ShouldBeTrue)
				So(ref.Address, ShouldEqual, "Tree111")
				So(rec.states(), ShouldResemble, []model.TreeState{model.TreePending, model.TreeReady})
			})
		})

		Convey("When the ledger rejects the provisioning transaction", func() {
			ledger.err = errors.New("insufficient funds")
			ledger.created = tree.Created{}
			ref, err := p.Provision(ctx, "e1", 100)

			Convey("Then it fails with ProvisioningFailed and the tree is failed", func() {
				So(errors.Is(err, model.ErrProvisioningFailed), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "insufficient funds")
				So(ref.State, ShouldEqual, model.TreeFailed)
				So(rec.states(), ShouldResemble, []model.TreeState{model.TreePending, model.TreeFailed})
			})
		})

		Convey("When confirmation of the provisioning transaction is ambiguous", func() {
			ledger.err = model.WrapKind("chain.provision", model.ErrConfirmationUnknown, context.DeadlineExceeded)
			ref, err := p.Provision(ctx, "e1", 100)

			Convey("Then it fails with ProvisioningFailed and the tree stays pending", func() {
				So(model.KindOf(err), ShouldEqual, model.ErrProvisioningFailed)
				So(ref.State, ShouldEqual, model.TreePending)
				So(ref.Signature, ShouldEqual, "sig-1")
			})

			Convey("And resolving after the transaction landed makes it ready", func() {
				ledger.status = model.TxStatus{State: model.TxConfirmed}
				resolved, rerr := p.Resolve(ctx, "e1", ref)
				So(rerr, ShouldBeNil)
				So(resolved.State, ShouldEqual, model.TreeReady)
			})

			Convey("And resolving an unseen transaction waits before failing it", func() {
				ledger.status = model.TxStatus{State: model.TxUnseen}
				resolved, rerr := p.Resolve(ctx, "e1", ref)
				So(rerr, ShouldBeNil)
				So(resolved.State, ShouldEqual, model.TreePending)

				clk.Advance(2 * time.Minute)
				resolved, rerr = p.Resolve(ctx, "e1", ref)
				So(rerr, ShouldBeNil)
				So(resolved.State, ShouldEqual, model.TreeFailed)
			})
		})

		Convey("When resolving a tree that is not pending", func() {
			_, err := p.Resolve(ctx, "e1", model.TreeRef{State: model.TreeReady})

			Convey("Then it reports ErrNotPending", func() {
				So(errors.Is(err, tree.ErrNotPending), ShouldBeTrue)
			})
		})
	})
}
