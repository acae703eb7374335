package mint

import (
	"context"

	"github.com/okian/popclaim/internal/domain/model"
	"github.com/okian/popclaim/internal/domain/tree"
)

// TokenMetadata is the on-chain metadata of one minted token.
type TokenMetadata struct {
	Name                 string
	Symbol               string
	URI                  string
	SellerFeeBasisPoints uint16
}

// Request describes one token leaf to mint.
type Request struct {
	Tree      model.TreeRef
	Recipient string
	Metadata  TokenMetadata
}

// Tx is a signed mint transaction. Its signature is known before it is sent.
type Tx struct {
	Signature string
	Raw       []byte
}

// Chain is the capability set of the external ledger.
type Chain interface {
	tree.Ledger

	// BuildMint builds and signs the mint transaction without sending it.
	BuildMint(ctx context.Context, req Request) (Tx, error)
	// Submit sends a signed transaction. A definitive rejection wraps
	// ErrRejected; any other error leaves the outcome unknown.
	Submit(ctx context.Context, tx Tx) error
	// Confirm waits until the transaction is confirmed or failed, or ctx
	// ends, and returns the last status observed.
	Confirm(ctx context.Context, signature string) (model.TxStatus, error)
}

// Enqueuer hands unconfirmed attempts to the reconcile workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, job model.ReconcileJob) bool
}
