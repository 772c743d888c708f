package model

import "time"

// LedgerEntry is one signed movement of a user's points.
type LedgerEntry struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"userId"`
	Kind          string    `json:"kind"`
	Amount        int       `json:"amount"`
	Reason        string    `json:"reason,omitempty"`
	SwapRequestID *int64    `json:"swapRequestId,omitempty"`
	ItemID        *int64    `json:"itemId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Ledger entry kinds. Award and credit are positive, debit is negative.
const (
	LedgerAward  = "award"
	LedgerDebit  = "debit"
	LedgerCredit = "credit"
)

// Reconciliation compares the cached balance with the ledger sum.
type Reconciliation struct {
	UserID  int64 `json:"userId"`
	Cached  int   `json:"cached"`
	Ledger  int   `json:"ledger"`
	InSync  bool  `json:"inSync"`
	Entries int   `json:"entries"`
}
