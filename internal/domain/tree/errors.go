package tree

import "errors"

// ErrNotPending is returned when resolving a tree that is not pending.
var ErrNotPending = errors.New("tree is not pending")
