package mint_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/mr-tron/base58"

	"github.com/okian/popclaim/internal/domain/mint"
	"github.com/okian/popclaim/internal/domain/model"
	"github.com/okian/popclaim/internal/domain/tree"
)

// fakeChain is a scriptable ledger. Submitted transactions confirm unless
// told otherwise.
type fakeChain struct {
	mu        sync.Mutex
	n         int
	buildErr  error
	submitErr error
	confirm   *model.TxStatus // nil confirms
	confirmFn func(ctx context.Context) error
	gate      chan struct{} // when set, Submit waits on it
	entered   chan struct{} // when set, Submit signals it first
	submitted []string
	statuses  map[string]model.TxStatus
	requests  []mint.Request
}

func newFakeChain() *fakeChain {
	return &fakeChain{statuses: make(map[string]model.TxStatus)}
}

func (f *fakeChain) ProvisionTree(context.Context, model.TreeParams) (tree.Created, error) {
	return tree.Created{Address: "Tree", Signature: "tree-sig"}, nil
}

func (f *fakeChain) Status(_ context.Context, sig string) (model.TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[sig]
	if !ok {
		return model.TxStatus{State: model.TxUnseen}, nil
	}
	return st, nil
}

func (f *fakeChain) BuildMint(_ context.Context, req mint.Request) (mint.Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buildErr != nil {
		return mint.Tx{}, f.buildErr
	}
	f.n++
	f.requests = append(f.requests, req)
	return mint.Tx{Signature: fmt.Sprintf("sig-%d", f.n)}, nil
}

func (f *fakeChain) Submit(ctx context.Context, tx mint.Tx) error {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, tx.Signature)
	return nil
}

func (f *fakeChain) Confirm(ctx context.Context, sig string) (model.TxStatus, error) {
	if f.confirmFn != nil {
		if err := f.confirmFn(ctx); err != nil {
			return model.TxStatus{State: model.TxProcessing}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.confirm != nil {
		return *f.confirm, nil
	}
	st := model.TxStatus{State: model.TxConfirmed, Slot: 1}
	f.statuses[sig] = st
	return st, nil
}

func (f *fakeChain) setStatus(sig string, st model.TxState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[sig] = model.TxStatus{State: st}
}

func (f *fakeChain) submits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []model.ReconcileJob
}

func (q *recordingQueue) Enqueue(_ context.Context, job model.ReconcileJob) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return true
}

func (q *recordingQueue) last() model.ReconcileJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs[len(q.jobs)-1]
}

func wallet(seed byte) string {
	b := make([]byte, 32)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return base58.Encode(b)
}
