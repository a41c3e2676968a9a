package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

type account struct {
	balance int64
	version int64
}

// MemoryLedger keeps accounts in memory with a version counter per account.
// Charges go through an optimistic compare-and-swap retried with backoff, the
// same shape a database-backed ledger uses for serialization conflicts.
type MemoryLedger struct {
	mu           sync.Mutex
	accounts     map[string]*account
	committed    map[string]Transaction // idempotency key -> outcome
	transactions []Transaction
	maxRetries   int
}

func NewMemoryLedger(maxRetries int) *MemoryLedger {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &MemoryLedger{
		accounts:   make(map[string]*account),
		committed:  make(map[string]Transaction),
		maxRetries: maxRetries,
	}
}

// Credit funds an account, creating it on first use.
func (l *MemoryLedger) Credit(accountID string, credits int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc := l.accounts[accountID]
	if acc == nil {
		acc = &account{}
		l.accounts[accountID] = acc
	}
	acc.balance += credits
	acc.version++
}

func (l *MemoryLedger) Balance(ctx context.Context, accountID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acc := l.accounts[accountID]
	if acc == nil {
		return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	return acc.balance, nil
}

func (l *MemoryLedger) Charge(ctx context.Context, accountID string, credits int64, idempotencyKey, reason string) (int64, error) {
	var balance int64

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(l.maxRetries)), ctx)
	op := func() error {
		b, err := l.tryCharge(accountID, credits, idempotencyKey, reason)
		if err != nil {
			if err == ErrConflict {
				return err // retryable
			}
			return backoff.Permanent(err)
		}
		balance = b
		return nil
	}
	if err := backoff.Retry(op, bo); err != nil {
		return 0, err
	}
	return balance, nil
}

func (l *MemoryLedger) tryCharge(accountID string, credits int64, idempotencyKey, reason string) (int64, error) {
	l.mu.Lock()
	snapshot, exists := l.accounts[accountID]
	if tx, done := l.committed[idempotencyKey]; done {
		l.mu.Unlock()
		return tx.Balance, nil
	}
	if !exists {
		l.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	readBalance, readVersion := snapshot.balance, snapshot.version
	l.mu.Unlock()

	if readBalance < credits {
		return 0, fmt.Errorf("%w: need %d, have %d", ErrInsufficientFunds, credits, readBalance)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	acc := l.accounts[accountID]
	if acc.version != readVersion {
		return 0, ErrConflict
	}
	acc.balance = readBalance - credits
	acc.version++
	tx := Transaction{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Credits:   -credits,
		Balance:   acc.balance,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	l.committed[idempotencyKey] = tx
	l.transactions = append(l.transactions, tx)
	return acc.balance, nil
}

func (l *MemoryLedger) Statement(ctx context.Context, accountID string) ([]Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.accounts[accountID] == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	var out []Transaction
	for _, tx := range l.transactions {
		if tx.AccountID == accountID {
			out = append(out, tx)
		}
	}
	return out, nil
}
