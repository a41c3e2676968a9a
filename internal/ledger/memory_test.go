package ledger

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMemoryLedger_BalanceUnknownAccount(t *testing.T) {
	l := NewMemoryLedger(3)
	if _, err := l.Balance(context.Background(), "nobody"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestMemoryLedger_ChargeAndBalance(t *testing.T) {
	l := NewMemoryLedger(3)
	l.Credit("acct", 50)

	nb, err := l.Charge(context.Background(), "acct", 30, "key-1", "transcription")
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if nb != 20 {
		t.Errorf("new balance = %d, want 20", nb)
	}

	b, err := l.Balance(context.Background(), "acct")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if b != 20 {
		t.Errorf("balance = %d, want 20", b)
	}
}

func TestMemoryLedger_InsufficientFunds(t *testing.T) {
	l := NewMemoryLedger(3)
	l.Credit("acct", 10)

	if _, err := l.Charge(context.Background(), "acct", 30, "key-1", "transcription"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	// A denied charge must not move the balance.
	b, _ := l.Balance(context.Background(), "acct")
	if b != 10 {
		t.Errorf("balance = %d, want 10", b)
	}
}

func TestMemoryLedger_ChargeIdempotent(t *testing.T) {
	l := NewMemoryLedger(3)
	l.Credit("acct", 100)

	first, err := l.Charge(context.Background(), "acct", 30, "job-42", "transcription")
	if err != nil {
		t.Fatalf("first charge: %v", err)
	}
	replay, err := l.Charge(context.Background(), "acct", 30, "job-42", "transcription")
	if err != nil {
		t.Fatalf("replayed charge: %v", err)
	}
	if first != replay {
		t.Errorf("replay balance = %d, want %d", replay, first)
	}
	if b, _ := l.Balance(context.Background(), "acct"); b != 70 {
		t.Errorf("balance = %d, want 70 after one effective charge", b)
	}
}

func TestMemoryLedger_ConcurrentCharges(t *testing.T) {
	l := NewMemoryLedger(10)
	l.Credit("acct", 1000)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i))
			if _, err := l.Charge(context.Background(), "acct", 10, key, "chunk"); err != nil {
				t.Errorf("charge %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if b, _ := l.Balance(context.Background(), "acct"); b != 800 {
		t.Errorf("balance = %d, want 800", b)
	}
}

func TestWriteStatement(t *testing.T) {
	l := NewMemoryLedger(3)
	l.Credit("acct", 100)
	if _, err := l.Charge(context.Background(), "acct", 30, "k1", "transcription"); err != nil {
		t.Fatalf("charge: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteStatement(context.Background(), l, "acct", &buf); err != nil {
		t.Fatalf("write statement: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("expected non-empty workbook")
	}

	if err := WriteStatement(context.Background(), l, "nobody", &buf); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("err = %v, want ErrAccountNotFound", err)
	}
}
