package models

import "fmt"

// Currency is one of the portal's two virtual currencies.
type Currency string

const (
	CurrencyOranges Currency = "oranges"
	CurrencyGems    Currency = "gems"
)

// Currencies lists every currency in ledger order.
var Currencies = []Currency{CurrencyOranges, CurrencyGems}

// ParseCurrency maps a request value onto a known currency.
func ParseCurrency(s string) (Currency, error) {
	switch Currency(s) {
	case CurrencyOranges:
		return CurrencyOranges, nil
	case CurrencyGems:
		return CurrencyGems, nil
	}
	return "", fmt.Errorf("unknown currency %q", s)
}

// Direction tells whether a transaction credits or debits.
type Direction string

const (
	DirectionEarn  Direction = "earn"
	DirectionSpend Direction = "spend"
)

// Source tags the event that produced a transaction.
type Source string

const (
	SourceGameplay     Source = "gameplay"
	SourceDailyLogin   Source = "daily_login"
	SourceChallenge    Source = "challenge"
	SourceAchievement  Source = "achievement"
	SourceLeaderboard  Source = "leaderboard"
	SourceGiftSent     Source = "gift_sent"
	SourceGiftReceived Source = "gift_received"
)

// Valid reports whether s is a known source tag.
func (s Source) Valid() bool {
	switch s {
	case SourceGameplay, SourceDailyLogin, SourceChallenge, SourceAchievement,
		SourceLeaderboard, SourceGiftSent, SourceGiftReceived:
		return true
	}
	return false
}

// Amounts is a per-currency quantity: a balance, a delta or a reward.
type Amounts struct {
	Oranges int64 `json:"oranges"`
	Gems    int64 `json:"gems"`
}

// Get returns the amount held for c.
func (a Amounts) Get(c Currency) int64 {
	switch c {
	case CurrencyOranges:
		return a.Oranges
	case CurrencyGems:
		return a.Gems
	}
	return 0
}

// With returns a copy of a with the amount for c replaced by v.
func (a Amounts) With(c Currency, v int64) Amounts {
	switch c {
	case CurrencyOranges:
		a.Oranges = v
	case CurrencyGems:
		a.Gems = v
	}
	return a
}

// Add returns the per-currency sum of a and b.
func (a Amounts) Add(b Amounts) Amounts {
	return Amounts{Oranges: a.Oranges + b.Oranges, Gems: a.Gems + b.Gems}
}

// IsZero reports whether every currency is zero.
func (a Amounts) IsZero() bool {
	return a.Oranges == 0 && a.Gems == 0
}

// Single builds an Amounts holding v of currency c only.
func Single(c Currency, v int64) Amounts {
	return Amounts{}.With(c, v)
}
