package model

// TxState is the ledger's view of a submitted transaction. TxUnseen means
// the ledger has no record of the signature; TxProcessing means it landed but
// is not final yet.
type TxState string

// Transaction states.
const (
	TxUnseen     TxState = "unseen"
	TxProcessing TxState = "processing"
	TxConfirmed  TxState = "confirmed"
	TxFailed     TxState = "failed"
)

// TxStatus is the result of a signature status query.
type TxStatus struct {
	State TxState
	Slot  uint64
	Err   string
}
