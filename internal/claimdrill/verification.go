package claimdrill

import (
	"errors"
	"fmt"
)

// ErrDoubleMint is returned when a claim code produced more than one token.
var ErrDoubleMint = errors.New("claim code minted more than once")

// verifyReport checks that no claim code minted more than once, whatever the
// outcome each caller observed.
func verifyReport(report *Report, codes []string) error {
	if len(codes) == 0 {
		return errors.New("no claim codes to verify")
	}
	issued := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		issued[c] = struct{}{}
	}

	signatures := make(map[string]string)
	minted := make(map[string]int)
	for _, a := range report.Attempts {
		if a.Outcome == OutcomeMinted {
			minted[a.Code]++
			if minted[a.Code] > 1 {
				return fmt.Errorf("%w: %s answered success %d times", ErrDoubleMint, a.Code, minted[a.Code])
			}
		}
		if a.Signature == "" || (a.Outcome != OutcomeMinted && a.Outcome != OutcomeDuplicate) {
			continue
		}
		if prev, ok := signatures[a.Code]; ok && prev != a.Signature {
			return fmt.Errorf("%w: %s reported signatures %s and %s", ErrDoubleMint, a.Code, prev, a.Signature)
		}
		signatures[a.Code] = a.Signature
	}

	seenCode := make(map[string]struct{}, len(report.Mints))
	seenSig := make(map[string]struct{}, len(report.Mints))
	for _, m := range report.Mints {
		if _, ok := issued[m.ClaimCode]; !ok {
			return fmt.Errorf("mint %s for unknown claim code %s", m.Signature, m.ClaimCode)
		}
		if _, dup := seenCode[m.ClaimCode]; dup {
			return fmt.Errorf("%w: %s appears twice in the mint history", ErrDoubleMint, m.ClaimCode)
		}
		if _, dup := seenSig[m.Signature]; dup {
			return fmt.Errorf("signature %s appears twice in the mint history", m.Signature)
		}
		if sig, ok := signatures[m.ClaimCode]; ok && sig != m.Signature {
			return fmt.Errorf("%w: %s minted as %s but callers saw %s", ErrDoubleMint, m.ClaimCode, m.Signature, sig)
		}
		seenCode[m.ClaimCode] = struct{}{}
		seenSig[m.Signature] = struct{}{}
	}

	ev := report.Event
	switch {
	case ev.Minted > len(codes):
		return fmt.Errorf("%w: event minted %d tokens for %d codes", ErrDoubleMint, ev.Minted, len(codes))
	case ev.MaxSupply > 0 && ev.Issued > ev.MaxSupply:
		return fmt.Errorf("event issued %d codes beyond max supply %d", ev.Issued, ev.MaxSupply)
	}

	// A history shorter than the settled count was truncated by the list limit.
	if len(report.Mints) < ev.Minted {
		return nil
	}
	for code := range minted {
		if _, ok := seenCode[code]; !ok {
			return fmt.Errorf("claim code %s answered success but has no mint record", code)
		}
	}
	return nil
}
