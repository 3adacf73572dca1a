// Package ledger tracks the last known lamport balance of every watched
// account within one stream session and classifies each new reading.
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrAmountOutOfRange is returned when a SOL amount does not fit in int64 lamports.
var ErrAmountOutOfRange = errors.New("amount out of lamport range")

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL int64 = 1_000_000_000

// DefaultThresholdLamports mirrors the historic 20 SOL alert threshold.
const DefaultThresholdLamports = 20 * LamportsPerSOL

// Kind distinguishes a seeding reading from a comparable one.
type Kind int

const (
	// Baseline is the first reading for an account in the current session.
	Baseline Kind = iota
	// Delta is every later reading; Classification.Delta carries the signed change.
	Delta
)

func (k Kind) String() string {
	switch k {
	case Baseline:
		return "baseline"
	case Delta:
		return "delta"
	default:
		return "unknown"
	}
}

// Classification is the result of a single observation.
type Classification struct {
	Kind  Kind
	Delta int64
}

// Ledger holds per-account balance state. It is not safe for concurrent use;
// the owning session's read loop is its only caller.
type Ledger struct {
	last map[string]*int64
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{last: make(map[string]*int64)}
}

// Track (re)initialises the account to the unset state.
func (l *Ledger) Track(account string) {
	l.last[account] = nil
}

// Observe records lamports for account and returns how the reading relates to
// the previous one. The stored balance is always advanced.
func (l *Ledger) Observe(account string, lamports int64) Classification {
	prev := l.last[account]
	current := lamports
	l.last[account] = &current
	if prev == nil {
		return Classification{Kind: Baseline}
	}
	return Classification{Kind: Delta, Delta: lamports - *prev}
}

// Last returns the last recorded balance for account, if any.
func (l *Ledger) Last(account string) (int64, bool) {
	v := l.last[account]
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Policy decides which classifications are alert worthy.
type Policy struct {
	ThresholdLamports int64
}

// ShouldAlert reports whether c is an outbound movement of at least the threshold.
func (p Policy) ShouldAlert(c Classification) bool {
	if c.Kind != Delta || c.Delta >= 0 {
		return false
	}
	return -c.Delta >= p.ThresholdLamports
}

// FormatSOL renders a lamport amount as SOL with two decimals, for display only.
func FormatSOL(lamports int64) string {
	return ToSOL(lamports).StringFixed(2)
}

// ToSOL converts lamports to a decimal SOL amount.
func ToSOL(lamports int64) decimal.Decimal {
	return decimal.New(lamports, -9)
}

// FromSOL converts a SOL amount to lamports, truncating sub-lamport precision.
func FromSOL(sol decimal.Decimal) (int64, error) {
	lamports := sol.Shift(9).Truncate(0)
	if !lamports.BigInt().IsInt64() {
		return 0, fmt.Errorf("%s SOL: %w", sol.String(), ErrAmountOutOfRange)
	}
	return lamports.IntPart(), nil
}
