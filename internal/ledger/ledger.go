// Package ledger is the account-credit bookkeeping boundary. The pipeline
// only ever checks balances and commits charges; pricing and selling of
// credits live elsewhere.
package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountNotFound   = errors.New("account not found")
	// ErrConflict marks an optimistic-concurrency collision; charges are
	// retried a bounded number of times on it.
	ErrConflict = errors.New("serialization conflict")
)

// Transaction is one committed balance change.
type Transaction struct {
	ID        string
	AccountID string
	Credits   int64
	Balance   int64
	Reason    string
	CreatedAt time.Time
}

// Ledger is the external credit store. Charge must be idempotent by
// (accountID, idempotencyKey): replaying a committed key returns the original
// outcome without moving the balance again.
type Ledger interface {
	Balance(ctx context.Context, accountID string) (int64, error)
	Charge(ctx context.Context, accountID string, credits int64, idempotencyKey, reason string) (newBalance int64, err error)
}

// StatementReader is implemented by ledgers that can enumerate an account's
// transactions for export.
type StatementReader interface {
	Statement(ctx context.Context, accountID string) ([]Transaction, error)
}
