package claimdrill

import "time"

// Worker configuration constants.
const (
	WorkerChannelMultiplier = 2
)

// Runner configuration constants.
const (
	SettlePollInterval   = 500 * time.Millisecond
	PercentageMultiplier = 100
	addressBytes         = 32
)
