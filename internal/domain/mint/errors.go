package mint

import "errors"

// ErrRejected marks a submission the ledger definitively refused: the
// transaction can never land, so the claim may be retried.
var ErrRejected = errors.New("transaction rejected")
