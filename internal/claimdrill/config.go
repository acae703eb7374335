package claimdrill

import "time"

// Config holds configuration for the claim drill.
type Config struct {
	BaseURL    string        // Base URL of the service
	Token      string        // Organizer bearer token, if the service requires one
	Supply     int           // Max supply of the drill event
	Codes      int           // Number of claim codes to issue
	Duplicates int           // Concurrent claims fired per code
	Workers    int           // Number of concurrent workers
	Timeout    time.Duration // HTTP request timeout
	Settle     time.Duration // How long to wait for unconfirmed mints to settle
	OutputFile string        // Output file for the drill report
	Verbose    bool          // Enable verbose logging
}

// createEventRequest is the body of POST /events.
type createEventRequest struct {
	Name      string `json:"name"`
	Organizer string `json:"organizer"`
	Date      string `json:"date"`
	MaxSupply int    `json:"max_supply"`
}

// Event is the service's view of an event.
type Event struct {
	EventID   string `json:"event_id"`
	MaxSupply int    `json:"max_supply"`
	Issued    int    `json:"issued"`
	Minted    int    `json:"minted"`
	Tree      struct {
		Address string `json:"address"`
		State   string `json:"state"`
	} `json:"tree"`
}

type createEventResponse struct {
	EventID string `json:"event_id"`
	Event   Event  `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IssuedClaim is one issued claim code.
type IssuedClaim struct {
	Code string `json:"claim_code"`
	Link string `json:"claim_link"`
}

type issueResponse struct {
	Claims  []IssuedClaim `json:"claims"`
	Code    string        `json:"code"`
	Message string        `json:"message"`
}

type claimRequest struct {
	EventID          string `json:"event_id"`
	ClaimCode        string `json:"claim_code"`
	RecipientAddress string `json:"recipient_address"`
}

type claimResponse struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Mint is one settled mint of the drill event.
type Mint struct {
	Signature string `json:"signature"`
	Recipient string `json:"recipient"`
	ClaimCode string `json:"claim_code"`
}

type mintsResponse struct {
	Mints []Mint `json:"mints"`
}

// Outcome classifies a single claim attempt.
type Outcome string

// Claim outcomes as observed by the caller.
const (
	OutcomeMinted    Outcome = "minted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomePending   Outcome = "pending"
	OutcomeUnknown   Outcome = "unknown"
	OutcomeFailed    Outcome = "failed"
)

// Attempt is one claim request and what the service answered.
type Attempt struct {
	Code      string  `json:"claim_code"`
	Recipient string  `json:"recipient"`
	Outcome   Outcome `json:"outcome"`
	Status    int     `json:"status"`
	Signature string  `json:"signature,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Stats holds drill statistics.
type Stats struct {
	CodesIssued     int
	ClaimsSubmitted int
	Minted          int
	Duplicate       int
	Pending         int
	Unknown         int
	Failed          int
	MintsListed     int
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
}

// Report is what a drill run produced.
type Report struct {
	EventID  string    `json:"event_id"`
	Attempts []Attempt `json:"attempts"`
	Mints    []Mint    `json:"mints"`
	Event    Event     `json:"event"`
	Stats    Stats     `json:"-"`
}
