package tree

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/popclaim/internal/clock"
	"github.com/okian/popclaim/internal/domain/model"
	"github.com/okian/popclaim/pkg/logger"
	"github.com/okian/popclaim/pkg/metrics"
)

const (
	defaultTimeout      = time.Minute
	defaultResolveAfter = 3 * time.Minute
)

// Created identifies a tree allocated on the ledger. Address and Signature
// may be set even when provisioning returns an error, once the transaction
// has been signed.
type Created struct {
	Address   string
	Signature string
}

// Ledger is the provisioning capability of the external ledger. A single
// ProvisionTree call allocates and initialises the tree atomically.
type Ledger interface {
	ProvisionTree(ctx context.Context, params model.TreeParams) (Created, error)
	Status(ctx context.Context, signature string) (model.TxStatus, error)
}

// Recorder persists the tree state of an event.
type Recorder interface {
	UpdateTree(ctx context.Context, eventID string, ref model.TreeRef) error
}

// Option applies a configuration option to the Provisioner.
type Option func(*Provisioner)

// WithPlanner sets the depth and buffer bounds.
func WithPlanner(p Planner) Option {
	return func(pr *Provisioner) { pr.planner = p }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(pr *Provisioner) {
		if l != nil {
			pr.log = l
		}
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(pr *Provisioner) {
		if c != nil {
			pr.clock = c
		}
	}
}

// WithTimeout bounds a single provisioning call.
func WithTimeout(d time.Duration) Option {
	return func(pr *Provisioner) {
		if d > 0 {
			pr.timeout = d
		}
	}
}

// WithResolveAfter sets how long a pending tree whose transaction the
// ledger never saw is kept before it is marked failed.
func WithResolveAfter(d time.Duration) Option {
	return func(pr *Provisioner) {
		if d > 0 {
			pr.resolveAfter = d
		}
	}
}

// Provisioner creates one tree per event and tracks its state.
type Provisioner struct {
	planner      Planner
	ledger       Ledger
	recorder     Recorder
	log          logger.Logger
	clock        clock.Clock
	timeout      time.Duration
	resolveAfter time.Duration
}

// NewProvisioner creates a provisioner over the given ledger and recorder.
func NewProvisioner(ledger Ledger, recorder Recorder, opts ...Option) *Provisioner {
	p := &Provisioner{
		planner:      NewPlanner(DefaultMinDepth, DefaultMaxDepth, DefaultBuffer),
		ledger:       ledger,
		recorder:     recorder,
		log:          logger.Nop(),
		clock:        clock.NewSystem(),
		timeout:      defaultTimeout,
		resolveAfter: defaultResolveAfter,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan validates maxSupply against the supported tree shapes.
func (p *Provisioner) Plan(maxSupply int) (model.TreeParams, error) {
	return p.planner.Plan(maxSupply)
}

// Provision plans, records and creates the tree of an event. The tree is
// recorded as pending before the ledger is called. A definitive failure marks
// it failed; an ambiguous failure after signing leaves it pending. Provisioning is never retried
// here.
func (p *Provisioner) Provision(ctx context.Context, eventID string, maxSupply int) (model.TreeRef, error) {
	const op = "tree.provision"

	params, err := p.planner.Plan(maxSupply)
	if err != nil {
		return model.TreeRef{}, err
	}

	ref := model.TreeRef{Params: params, State: model.TreePending, UpdatedAt: p.clock.Now()}
	if err := p.recorder.UpdateTree(ctx, eventID, ref); err != nil {
		return model.TreeRef{}, fmt.Errorf("%s: record pending tree: %w", op, err)
	}

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	created, err := p.ledger.ProvisionTree(cctx, params)
	ref.Address = created.Address
	ref.Signature = created.Signature
	ref.UpdatedAt = p.clock.Now()

	outcome := string(model.TreeReady)
	switch {
	case err == nil:
		ref.State = model.TreeReady
	case ambiguous(err) && created.Signature != "":
		ref.State = model.TreePending
		ref.Error = err.Error()
		outcome = string(model.TreePending)
	default:
		ref.State = model.TreeFailed
		ref.Error = err.Error()
		outcome = string(model.TreeFailed)
	}
	metrics.RecordTreeProvisioned(outcome, metrics.Since(start))

	// The ledger call already happened; the outcome must be recorded even if
	// the caller went away.
	if rerr := p.recorder.UpdateTree(context.WithoutCancel(ctx), eventID, ref); rerr != nil {
		p.log.Error(ctx, "failed to record tree state",
			logger.String("eventID", eventID),
			logger.String("state", string(ref.State)),
			logger.String("address", ref.Address),
			logger.Error(rerr))
		if err == nil {
			return ref, fmt.Errorf("%s: record tree: %w", op, rerr)
		}
	}

	if err != nil {
		p.log.Warn(ctx, "tree provisioning failed",
			logger.String("eventID", eventID),
			logger.String("state", string(ref.State)),
			logger.String("signature", ref.Signature),
			logger.Error(err))
		metrics.RecordErrorByComponent("tree", outcome)
		return ref, model.WrapKind(op, model.ErrProvisioningFailed, err)
	}

	p.log.Info(ctx, "tree provisioned",
		logger.String("eventID", eventID),
		logger.String("address", ref.Address),
		logger.Int("depth", params.MaxDepth),
		logger.Int("buffer", params.MaxBufferSize))
	return ref, nil
}

// Resolve settles a pending tree by asking the ledger about its creation
// transaction. It returns the tree unchanged while the outcome is still open.
func (p *Provisioner) Resolve(ctx context.Context, eventID string, ref model.TreeRef) (model.TreeRef, error) {
	const op = "tree.resolve"
	if ref.State != model.TreePending {
		return ref, ErrNotPending
	}

	now := p.clock.Now()
	if ref.Signature == "" {
		// Nothing was signed, so nothing can land.
		if now.Sub(ref.UpdatedAt) < p.resolveAfter {
			return ref, nil
		}
		ref.State = model.TreeFailed
		ref.Error = "provisioning never submitted"
	} else {
		st, err := p.ledger.Status(ctx, ref.Signature)
		if err != nil {
			return ref, fmt.Errorf("%s: %w", op, err)
		}
		switch {
		case st.State == model.TxConfirmed:
			ref.State = model.TreeReady
			ref.Error = ""
		case st.State == model.TxFailed:
			ref.State = model.TreeFailed
			ref.Error = st.Err
		case st.State == model.TxUnseen && now.Sub(ref.UpdatedAt) >= p.resolveAfter:
			ref.State = model.TreeFailed
			ref.Error = "creation transaction expired"
		default:
			return ref, nil
		}
	}
	ref.UpdatedAt = now

	if err := p.recorder.UpdateTree(ctx, eventID, ref); err != nil {
		return ref, fmt.Errorf("%s: %w", op, err)
	}
	metrics.RecordTreeProvisioned(string(ref.State), 0)
	p.log.Info(ctx, "pending tree resolved",
		logger.String("eventID", eventID),
		logger.String("state", string(ref.State)),
		logger.String("address", ref.Address))
	return ref, nil
}

func ambiguous(err error) bool {
	return errors.Is(err, model.ErrConfirmationUnknown) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
