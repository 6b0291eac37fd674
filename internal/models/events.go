package models

import "time"

// WalletEvent is pushed to connected clients after a committed balance change.
type WalletEvent struct {
	AccountID string    `json:"account_id"`
	Source    Source    `json:"source"`
	Balance   Amounts   `json:"balance"`
	Delta     Amounts   `json:"delta"`
	At        time.Time `json:"at"`
}
