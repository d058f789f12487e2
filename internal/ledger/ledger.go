// Package ledger keeps prepaid print balances. Every account has its own
// lock, so operations on one account are serialized while different
// accounts never wait on each other.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/orrn/printdesk/internal/config"
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

type Op string

const (
	OpDebit  Op = "debit"
	OpCredit Op = "credit"
)

// Entry describes an accepted balance change.
type Entry struct {
	Account string
	Op      Op
	Amount  int64
	Balance int64
	At      time.Time
}

// Recorder receives accepted entries. It is called after the account lock is
// released, so it may do I/O.
type Recorder interface {
	RecordLedgerEntry(ctx context.Context, e Entry)
}

// Observer counts ledger outcomes.
type Observer interface {
	ObserveLedger(op, result string)
}

type account struct {
	mu      sync.Mutex
	balance int64
}

type Ledger struct {
	mu        sync.Mutex
	accounts  map[string]*account
	maxDebit  int64
	maxCredit int64
	recorder  Recorder
	observer  Observer
	now       func() time.Time
}

type Option func(*Ledger)

func WithRecorder(r Recorder) Option {
	return func(l *Ledger) { l.recorder = r }
}

func WithObserver(o Observer) Option {
	return func(l *Ledger) { l.observer = o }
}

func New(cfg *config.LedgerConfig, opts ...Option) *Ledger {
	if cfg == nil {
		cfg = &config.LedgerConfig{MaxDebit: 1000, MaxCredit: 10000}
	}

	l := &Ledger{
		accounts:  make(map[string]*account),
		maxDebit:  cfg.MaxDebit,
		maxCredit: cfg.MaxCredit,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	for key, balance := range cfg.Seed {
		if balance > 0 {
			l.acquire(key).balance = balance
		}
	}

	return l
}

// acquire returns the account for key, creating it with a zero balance on
// first reference. The map lock is held only for the lookup.
func (l *Ledger) acquire(key string) *account {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.accounts[key]
	if !ok {
		a = &account{}
		l.accounts[key] = a
	}
	return a
}

func (l *Ledger) lookup(key string) (*account, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.accounts[key]
	return a, ok
}

// GetBalance returns the balance of key; unknown accounts have 0.
func (l *Ledger) GetBalance(key string) int64 {
	a, ok := l.lookup(key)
	if !ok {
		return 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance
}

// Debit subtracts amount from key. When the balance is too low it returns
// ok=false with the unchanged balance and a nil error.
func (l *Ledger) Debit(ctx context.Context, key string, amount int64) (int64, bool, error) {
	if amount <= 0 || amount > l.maxDebit {
		l.observe(OpDebit, "invalid")
		return l.GetBalance(key), false, fmt.Errorf("%w: debit must be between 1 and %d, got %d", ErrInvalidAmount, l.maxDebit, amount)
	}

	a := l.acquire(key)

	a.mu.Lock()
	if a.balance < amount {
		balance := a.balance
		a.mu.Unlock()
		l.observe(OpDebit, "insufficient")
		return balance, false, nil
	}
	a.balance -= amount
	balance := a.balance
	a.mu.Unlock()

	l.observe(OpDebit, "ok")
	l.record(ctx, Entry{Account: key, Op: OpDebit, Amount: amount, Balance: balance, At: l.now()})

	return balance, true, nil
}

// Credit adds amount to key and returns the new balance.
func (l *Ledger) Credit(ctx context.Context, key string, amount int64) (int64, error) {
	if amount <= 0 || amount > l.maxCredit {
		l.observe(OpCredit, "invalid")
		return l.GetBalance(key), fmt.Errorf("%w: credit must be between 1 and %d, got %d", ErrInvalidAmount, l.maxCredit, amount)
	}

	a := l.acquire(key)

	a.mu.Lock()
	a.balance += amount
	balance := a.balance
	a.mu.Unlock()

	l.observe(OpCredit, "ok")
	l.record(ctx, Entry{Account: key, Op: OpCredit, Amount: amount, Balance: balance, At: l.now()})

	return balance, nil
}

// Accounts returns the number of accounts the ledger has seen.
func (l *Ledger) Accounts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.accounts)
}

func (l *Ledger) observe(op Op, result string) {
	if l.observer != nil {
		l.observer.ObserveLedger(string(op), result)
	}
}

func (l *Ledger) record(ctx context.Context, e Entry) {
	if l.recorder != nil {
		l.recorder.RecordLedgerEntry(ctx, e)
	}
}
