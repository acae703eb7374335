// Package simulated is an in-memory ledger with configurable latency and
// failure injection. It stands in for the real chain in local runs and
// tests.
package simulated

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	mrand "math/rand/v2"
	"sync"
	"time"

	"github.com/mr-tron/base58"

	"github.com/okian/popclaim/internal/clock"
	"github.com/okian/popclaim/internal/domain/mint"
	"github.com/okian/popclaim/internal/domain/model"
	"github.com/okian/popclaim/internal/domain/tree"
	"github.com/okian/popclaim/pkg/logger"
)

const defaultPoll = 10 * time.Millisecond

// ErrTransport is returned when a simulated response is lost.
var ErrTransport = errors.New("simulated transport failure")

var _ mint.Chain = (*Chain)(nil)

type txRecord struct {
	state     model.TxState
	slot      uint64
	err       string
	settleAt  time.Time
	finalizes model.TxState
}

type treeRecord struct {
	capacity int
	leaves   int
}

// Chain is a simulated ledger.
type Chain struct {
	latencyMin        time.Duration
	latencyMax        time.Duration
	submitFailRate    float64
	unknownRate       float64
	provisionFailRate float64
	poll              time.Duration
	seed              uint64
	clock             clock.Clock
	log               logger.Logger

	mu    sync.Mutex
	rng   *mrand.Rand
	slot  uint64
	txs   map[string]*txRecord
	built map[string]mint.Request
	trees map[string]*treeRecord
}

// New creates a simulated chain.
func New(opts ...Option) *Chain {
	c := &Chain{
		poll:  defaultPoll,
		clock: clock.NewSystem(),
		log:   logger.Nop(),
		txs:   make(map[string]*txRecord),
		built: make(map[string]mint.Request),
		trees: make(map[string]*treeRecord),
	}
	for _, opt := range opts {
		opt(c)
	}
	seed := c.seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	c.rng = mrand.New(mrand.NewPCG(seed, seed>>1|1))
	return c
}

// ProvisionTree allocates and initialises a tree in one step.
func (c *Chain) ProvisionTree(ctx context.Context, params model.TreeParams) (tree.Created, error) {
	if err := c.wait(ctx); err != nil {
		return tree.Created{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roll() < c.provisionFailRate {
		return tree.Created{}, errors.New("simulated: tree allocation rejected")
	}
	addr, sig := randomKey(32), randomKey(64)
	c.trees[addr] = &treeRecord{capacity: params.Capacity}
	c.slot++
	c.txs[sig] = &txRecord{state: model.TxConfirmed, slot: c.slot}
	c.log.Debug(ctx, "simulated tree created", logger.String("address", addr), logger.Int("capacity", params.Capacity))
	return tree.Created{Address: addr, Signature: sig}, nil
}

// BuildMint signs a mint transaction without sending it.
func (c *Chain) BuildMint(_ context.Context, req mint.Request) (mint.Tx, error) {
	if req.Tree.Address == "" {
		return mint.Tx{}, errors.New("simulated: missing tree address")
	}
	sig := randomKey(64)
	c.mu.Lock()
	c.built[sig] = req
	c.mu.Unlock()
	return mint.Tx{Signature: sig}, nil
}

// Submit sends a built transaction.
func (c *Chain) Submit(ctx context.Context, tx mint.Tx) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	// A landed transaction is no longer in built; resending it is a no-op.
	if _, sent := c.txs[tx.Signature]; sent {
		return nil
	}
	req, ok := c.built[tx.Signature]
	if !ok {
		return fmt.Errorf("%w: unknown transaction", mint.ErrRejected)
	}

	r := c.roll()
	switch {
	case r < c.submitFailRate:
		delete(c.built, tx.Signature)
		return fmt.Errorf("%w: simulated preflight failure", mint.ErrRejected)
	case r < c.submitFailRate+c.unknownRate:
		if c.roll() < 0.5 {
			delete(c.built, tx.Signature)
			return ErrTransport
		}
		c.land(tx.Signature, req)
		return ErrTransport
	}
	c.land(tx.Signature, req)
	return nil
}

// land records a transaction that reached the ledger. Callers hold mu.
func (c *Chain) land(sig string, req mint.Request) {
	delete(c.built, sig)
	t, ok := c.trees[req.Tree.Address]
	if !ok {
		t = &treeRecord{capacity: req.Tree.Params.Capacity}
		c.trees[req.Tree.Address] = t
	}
	c.slot++
	rec := &txRecord{
		state:     model.TxProcessing,
		slot:      c.slot,
		settleAt:  c.clock.Now().Add(c.latency()),
		finalizes: model.TxConfirmed,
	}
	if t.capacity > 0 && t.leaves >= t.capacity {
		rec.finalizes = model.TxFailed
		rec.err = "tree is full"
	} else {
		t.leaves++
	}
	c.txs[sig] = rec
}

// Status reports the ledger's view of sig.
func (c *Chain) Status(_ context.Context, sig string) (model.TxStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.txs[sig]
	if !ok {
		return model.TxStatus{State: model.TxUnseen}, nil
	}
	if rec.state == model.TxProcessing && !c.clock.Now().Before(rec.settleAt) {
		rec.state = rec.finalizes
	}
	return model.TxStatus{State: rec.state, Slot: rec.slot, Err: rec.err}, nil
}

// Confirm polls Status until the transaction is final or ctx ends.
func (c *Chain) Confirm(ctx context.Context, sig string) (model.TxStatus, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		st, err := c.Status(ctx, sig)
		if err != nil {
			return st, err
		}
		if st.State == model.TxConfirmed || st.State == model.TxFailed {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Leaves returns how many leaves were minted into a tree.
func (c *Chain) Leaves(address string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.trees[address]; ok {
		return t.leaves
	}
	return 0
}

func (c *Chain) wait(ctx context.Context) error {
	c.mu.Lock()
	d := c.latency()
	c.mu.Unlock()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// latency and roll use the shared rng; callers hold mu.
func (c *Chain) latency() time.Duration {
	span := c.latencyMax - c.latencyMin
	if span <= 0 {
		return c.latencyMin
	}
	return c.latencyMin + time.Duration(c.rng.Int64N(int64(span)))
}

func (c *Chain) roll() float64 { return c.rng.Float64() }

func randomKey(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return base58.Encode(b)
}
