package domain

import "time"

// StatementRow is one line of a user's booking statement: a booking seen from
// the user's side, with the amount they paid or were credited.
type StatementRow struct {
	TransactionID string     `json:"transaction_id"`
	TripID        string     `json:"trip_id"`
	Role          string     `json:"role"`
	Status        string     `json:"status"`
	Weight        string     `json:"package_weight"`
	Amount        int64      `json:"amount"`
	ServiceFee    int64      `json:"service_fee"`
	Credited      int64      `json:"credited"`
	Currency      string     `json:"currency"`
	CreatedAt     time.Time  `json:"created_at"`
	ReleasedAt    *time.Time `json:"released_at,omitempty"`
}
