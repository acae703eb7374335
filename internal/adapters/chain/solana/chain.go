// Package solana mints compressed tokens through the bubblegum program.
package solana

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/program/system"
	"github.com/blocto/solana-go-sdk/types"
	"github.com/mr-tron/base58"

	"github.com/okian/popclaim/internal/domain/mint"
	"github.com/okian/popclaim/internal/domain/model"
	"github.com/okian/popclaim/internal/domain/tree"
	"github.com/okian/popclaim/pkg/logger"
)

const (
	commitmentConfirmed = "confirmed"
	commitmentFinalized = "finalized"
	defaultPoll         = 500 * time.Millisecond
)

var _ mint.Chain = (*Chain)(nil)

// Chain talks to a Solana cluster. The payer funds and signs every
// transaction and is the tree creator and verified token creator.
type Chain struct {
	rpc        *client.Client
	raw        *jsonRPC
	httpClient *http.Client
	payer      types.Account
	commitment string
	poll       time.Duration
	log        logger.Logger
}

// New creates a chain client for the RPC endpoint.
func New(endpoint string, payer types.Account, opts ...Option) *Chain {
	c := &Chain{
		rpc:        client.NewClient(endpoint),
		payer:      payer,
		commitment: commitmentConfirmed,
		poll:       defaultPoll,
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.raw = newJSONRPC(endpoint, c.httpClient)
	return c
}

// Payer returns the payer address.
func (c *Chain) Payer() string { return c.payer.PublicKey.ToBase58() }

// ProvisionTree allocates and initialises the tree in a single transaction.
func (c *Chain) ProvisionTree(ctx context.Context, params model.TreeParams) (tree.Created, error) {
	const op = "solana.provision_tree"
	if !Supported(params.MaxDepth, params.MaxBufferSize) {
		return tree.Created{}, fmt.Errorf("%s: unsupported tree shape depth=%d buffer=%d", op, params.MaxDepth, params.MaxBufferSize)
	}

	treeAcc := types.NewAccount()
	authority, err := treeAuthority(treeAcc.PublicKey)
	if err != nil {
		return tree.Created{}, fmt.Errorf("%s: %w", op, err)
	}
	space := TreeAccountSize(params.MaxDepth, params.MaxBufferSize)
	rent, err := c.rpc.GetMinimumBalanceForRentExemption(ctx, space)
	if err != nil {
		return tree.Created{}, fmt.Errorf("%s: rent: %w", op, err)
	}
	initIx, err := createTreeInstruction(createTreeParam{
		Tree:      treeAcc.PublicKey,
		Authority: authority,
		Payer:     c.payer.PublicKey,
		MaxDepth:  params.MaxDepth,
		Buffer:    params.MaxBufferSize,
	})
	if err != nil {
		return tree.Created{}, fmt.Errorf("%s: %w", op, err)
	}
	allocIx := system.CreateAccount(system.CreateAccountParam{
		From:     c.payer.PublicKey,
		New:      treeAcc.PublicKey,
		Owner:    CompressionProgramID,
		Lamports: rent,
		Space:    space,
	})

	tx, err := c.sign(ctx, []types.Account{c.payer, treeAcc}, allocIx, initIx)
	if err != nil {
		return tree.Created{}, fmt.Errorf("%s: %w", op, err)
	}
	created := tree.Created{Address: treeAcc.PublicKey.ToBase58(), Signature: tx.Signature}

	if err := c.Submit(ctx, tx); err != nil {
		if errors.Is(err, mint.ErrRejected) {
			return created, fmt.Errorf("%s: %w", op, err)
		}
		return created, model.WrapKind(op, model.ErrConfirmationUnknown, err)
	}
	st, err := c.Confirm(ctx, tx.Signature)
	switch {
	case err != nil:
		return created, model.WrapKind(op, model.ErrConfirmationUnknown, err)
	case st.State == model.TxFailed:
		return created, fmt.Errorf("%s: creation failed on chain: %s", op, st.Err)
	}
	c.log.Info(ctx, "tree created",
		logger.String("address", created.Address),
		logger.String("signature", created.Signature),
		logger.Int64("rent", int64(rent))) //nolint:gosec // lamports of one account
	return created, nil
}

// BuildMint builds and signs a bubblegum mint_v1 transaction.
func (c *Chain) BuildMint(ctx context.Context, req mint.Request) (mint.Tx, error) {
	const op = "solana.build_mint"
	owner, err := publicKey(req.Recipient)
	if err != nil {
		return mint.Tx{}, fmt.Errorf("%s: recipient: %w", op, err)
	}
	treeKey, err := publicKey(req.Tree.Address)
	if err != nil {
		return mint.Tx{}, fmt.Errorf("%s: tree: %w", op, err)
	}
	authority, err := treeAuthority(treeKey)
	if err != nil {
		return mint.Tx{}, fmt.Errorf("%s: %w", op, err)
	}
	ix, err := mintInstruction(mintParam{
		Tree:      treeKey,
		Authority: authority,
		Payer:     c.payer.PublicKey,
		Owner:     owner,
		Name:      req.Metadata.Name,
		Symbol:    req.Metadata.Symbol,
		URI:       req.Metadata.URI,
		FeeBPS:    req.Metadata.SellerFeeBasisPoints,
	})
	if err != nil {
		return mint.Tx{}, fmt.Errorf("%s: %w", op, err)
	}
	tx, err := c.sign(ctx, []types.Account{c.payer}, ix)
	if err != nil {
		return mint.Tx{}, fmt.Errorf("%s: %w", op, err)
	}
	return tx, nil
}

func (c *Chain) sign(ctx context.Context, signers []types.Account, ixs ...types.Instruction) (mint.Tx, error) {
	recent, err := c.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return mint.Tx{}, fmt.Errorf("latest blockhash: %w", err)
	}
	tx, err := types.NewTransaction(types.NewTransactionParam{
		Signers: signers,
		Message: types.NewMessage(types.NewMessageParam{
			FeePayer:        c.payer.PublicKey,
			RecentBlockhash: recent.Blockhash,
			Instructions:    ixs,
		}),
	})
	if err != nil {
		return mint.Tx{}, fmt.Errorf("NewTransaction: %w", err)
	}
	raw, err := tx.Serialize()
	if err != nil {
		return mint.Tx{}, fmt.Errorf("serialize: %w", err)
	}
	return mint.Tx{Signature: base58.Encode(tx.Signatures[0]), Raw: raw}, nil
}

// Submit sends a signed transaction. Only errors that prove the node refused
// it, such as a failed preflight, are definitive.
func (c *Chain) Submit(ctx context.Context, tx mint.Tx) error {
	if len(tx.Raw) == 0 {
		return fmt.Errorf("%w: empty transaction", mint.ErrRejected)
	}
	if _, err := c.raw.sendRaw(ctx, tx.Raw, c.commitment); err != nil {
		if isRejection(err) {
			return fmt.Errorf("%w: %w", mint.ErrRejected, err)
		}
		return err
	}
	return nil
}

// Status reports the cluster's view of sig.
func (c *Chain) Status(ctx context.Context, sig string) (model.TxStatus, error) {
	st, err := c.raw.status(ctx, sig)
	if err != nil {
		return model.TxStatus{}, err
	}
	return c.toStatus(st), nil
}

func (c *Chain) toStatus(st *signatureStatus) model.TxStatus {
	if st == nil {
		return model.TxStatus{State: model.TxUnseen}
	}
	out := model.TxStatus{Slot: st.Slot, State: model.TxProcessing}
	switch {
	case len(st.Err) > 0 && string(st.Err) != "null":
		out.State = model.TxFailed
		out.Err = string(st.Err)
	case st.ConfirmationStatus == commitmentFinalized,
		st.ConfirmationStatus == commitmentConfirmed && c.commitment == commitmentConfirmed:
		out.State = model.TxConfirmed
	}
	return out
}

// Confirm polls the signature until it is final or ctx ends.
func (c *Chain) Confirm(ctx context.Context, sig string) (model.TxStatus, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	var last model.TxStatus
	for {
		st, err := c.Status(ctx, sig)
		if err == nil {
			last = st
			if st.State == model.TxConfirmed || st.State == model.TxFailed {
				return st, nil
			}
		} else {
			c.log.Debug(ctx, "signature status failed", logger.String("signature", sig), logger.Error(err))
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

func publicKey(s string) (common.PublicKey, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return common.PublicKey{}, err
	}
	if len(raw) != common.PublicKeyLength {
		return common.PublicKey{}, fmt.Errorf("want %d bytes, got %d", common.PublicKeyLength, len(raw))
	}
	return common.PublicKeyFromBytes(raw), nil
}
