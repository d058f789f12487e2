package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/orrn/printdesk/internal/config"
)

type recordingRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *recordingRecorder) RecordLedgerEntry(_ context.Context, e Entry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) ObserveLedger(op, result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[string]int)
	}
	o.counts[op+"/"+result]++
}

func newTestLedger(seed map[string]int64, opts ...Option) *Ledger {
	return New(&config.LedgerConfig{MaxDebit: 1000, MaxCredit: 10000, Seed: seed}, opts...)
}

func TestGetBalance_UnknownAccountIsZero(t *testing.T) {
	l := newTestLedger(nil)

	if got := l.GetBalance("nobody"); got != 0 {
		t.Fatalf("balance = %d, want 0", got)
	}
	if l.Accounts() != 0 {
		t.Fatalf("reading a balance must not create an account")
	}
}

func TestDebit_InsufficientFundsLeavesBalance(t *testing.T) {
	l := newTestLedger(map[string]int64{"acct": 50})

	balance, ok, err := l.Debit(context.Background(), "acct", 75)
	if err != nil {
		t.Fatalf("insufficient funds is not an error: %v", err)
	}
	if ok || balance != 50 {
		t.Fatalf("got (%d, %v), want (50, false)", balance, ok)
	}
	if got := l.GetBalance("acct"); got != 50 {
		t.Fatalf("balance after failed debit = %d", got)
	}
}

func TestDebitCredit_Sequence(t *testing.T) {
	rec := &recordingRecorder{}
	l := newTestLedger(map[string]int64{"acct1": 100}, WithRecorder(rec))
	ctx := context.Background()

	balance, ok, err := l.Debit(ctx, "acct1", 30)
	if err != nil || !ok || balance != 70 {
		t.Fatalf("debit = (%d, %v, %v), want (70, true, nil)", balance, ok, err)
	}

	balance, err = l.Credit(ctx, "acct1", 5)
	if err != nil || balance != 75 {
		t.Fatalf("credit = (%d, %v), want (75, nil)", balance, err)
	}

	balance, ok, err = l.Debit(ctx, "acct1", 75)
	if err != nil || !ok || balance != 0 {
		t.Fatalf("debit to zero = (%d, %v, %v)", balance, ok, err)
	}

	if len(rec.entries) != 3 {
		t.Fatalf("recorded %d entries, want 3", len(rec.entries))
	}
	if rec.entries[0].Op != OpDebit || rec.entries[0].Balance != 70 || rec.entries[1].Op != OpCredit {
		t.Fatalf("entries = %+v", rec.entries)
	}
}

func TestInvalidAmounts(t *testing.T) {
	obs := &countingObserver{}
	l := newTestLedger(map[string]int64{"acct": 500}, WithObserver(obs))
	ctx := context.Background()

	for _, amount := range []int64{0, -1, 1001} {
		if _, ok, err := l.Debit(ctx, "acct", amount); !errors.Is(err, ErrInvalidAmount) || ok {
			t.Fatalf("Debit(%d) = (%v, %v), want ErrInvalidAmount", amount, ok, err)
		}
	}
	for _, amount := range []int64{0, -10, 10001} {
		if _, err := l.Credit(ctx, "acct", amount); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("Credit(%d) err = %v, want ErrInvalidAmount", amount, err)
		}
	}

	if got := l.GetBalance("acct"); got != 500 {
		t.Fatalf("balance changed by invalid operations: %d", got)
	}
	if obs.counts["debit/invalid"] != 3 || obs.counts["credit/invalid"] != 3 {
		t.Fatalf("observer counts = %v", obs.counts)
	}

	if _, ok, err := l.Debit(ctx, "acct", 1000); err != nil || !ok {
		t.Fatalf("debit at ceiling = (%v, %v)", ok, err)
	}
	if _, err := l.Credit(ctx, "acct", 10000); err != nil {
		t.Fatalf("credit at ceiling: %v", err)
	}
}

func TestConcurrentOperationsAreSerializable(t *testing.T) {
	const (
		start    = 500
		workers  = 50
		perGroup = 20
	)
	l := newTestLedger(map[string]int64{"acct": start})
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		debited   int64
		credited  int64
		minSeenOK int64 = start
	)

	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < perGroup; j++ {
				balance, ok, err := l.Debit(ctx, "acct", 7)
				if err != nil {
					t.Errorf("debit: %v", err)
					return
				}
				if balance < 0 {
					t.Errorf("negative balance observed: %d", balance)
				}
				if ok {
					mu.Lock()
					debited += 7
					if balance < minSeenOK {
						minSeenOK = balance
					}
					mu.Unlock()
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < perGroup; j++ {
				if _, err := l.Credit(ctx, "acct", 3); err != nil {
					t.Errorf("credit: %v", err)
					return
				}
				mu.Lock()
				credited += 3
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	want := start - debited + credited
	if got := l.GetBalance("acct"); got != want {
		t.Fatalf("final balance = %d, want %d (debited %d, credited %d)", got, want, debited, credited)
	}
	if minSeenOK < 0 {
		t.Fatalf("balance went negative: %d", minSeenOK)
	}
}

func TestDistinctAccountsDoNotBlock(t *testing.T) {
	l := newTestLedger(map[string]int64{"busy": 10})

	busy := l.acquire("busy")
	busy.mu.Lock()
	defer busy.mu.Unlock()

	done := make(chan int64, 1)
	go func() {
		balance, _ := l.Credit(context.Background(), "free", 40)
		done <- balance
	}()

	select {
	case balance := <-done:
		if balance != 40 {
			t.Fatalf("balance = %d, want 40", balance)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("credit on an unrelated account blocked behind a held lock")
	}
}
