package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newMember(t *testing.T, s *InMemory, doc string) Member {
	t.Helper()
	m, err := s.CreateMember(context.Background(), MemberParams{
		IdentityDocument: doc,
		FirstName:        "Maria",
		LastName:         "Lopez",
		Email:            doc + "@example.org",
		BirthDate:        time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC),
	}, "teller-1")
	if err != nil {
		t.Fatalf("CreateMember: %v", err)
	}
	return m
}

func TestCreateMemberNumberAndDuplicates(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	m := newMember(t, s, "001-1234567-8")
	want := fmt.Sprintf("SOCIO-%d-00001", time.Now().UTC().Year())
	if m.Number != want {
		t.Fatalf("member number = %q, want %q", m.Number, want)
	}
	if m.Status != MemberActive {
		t.Fatalf("status = %q, want ACTIVE", m.Status)
	}

	_, err := s.CreateMember(ctx, MemberParams{
		IdentityDocument: "001-1234567-8",
		FirstName:        "Ana",
		LastName:         "Perez",
		Email:            "ana@example.org",
	}, "teller-1")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate document: got %v, want ErrConflict", err)
	}

	m2 := newMember(t, s, "001-7654321-9")
	if m2.Number == m.Number {
		t.Fatalf("member numbers must be unique, both %q", m.Number)
	}
}

func TestCreateMemberValidation(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	cases := []MemberParams{
		{FirstName: "A", LastName: "B", Email: "a@b.c"},
		{IdentityDocument: "doc-1", LastName: "B", Email: "a@b.c"},
		{IdentityDocument: "doc-1", FirstName: "A", LastName: "B", Email: "not-an-email"},
	}
	for i, p := range cases {
		if _, err := s.CreateMember(ctx, p, "teller-1"); !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d: got %v, want ErrValidation", i, err)
		}
	}
}

func TestOpenAccountMinimumDeposit(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	m := newMember(t, s, "doc-min")

	// 999.99 is one centavo short of the CHECKING floor.
	if _, err := s.OpenAccount(ctx, m.ID, AccountChecking, 99999, "teller-1"); !errors.Is(err, ErrValidation) {
		t.Fatalf("below minimum: got %v, want ErrValidation", err)
	}
	acc, err := s.OpenAccount(ctx, m.ID, AccountChecking, 100000, "teller-1")
	if err != nil {
		t.Fatalf("exact minimum: %v", err)
	}
	if acc.Balance != 100000 {
		t.Fatalf("balance = %d, want 100000", acc.Balance)
	}
	if !strings.HasPrefix(acc.Number, "CC-") {
		t.Fatalf("account number = %q, want CC- prefix", acc.Number)
	}

	txs, _ := s.ListTransactions(ctx, TransactionFilter{AccountID: acc.ID})
	if len(txs) != 1 || txs[0].Type != TxOpening {
		t.Fatalf("expected exactly one OPENING entry, got %v", txs)
	}
	if txs[0].BalanceBefore != 0 || txs[0].BalanceAfter != 100000 {
		t.Fatalf("opening entry balances: before=%d after=%d", txs[0].BalanceBefore, txs[0].BalanceAfter)
	}
}

func TestOpenAccountPerProductFloors(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	m := newMember(t, s, "doc-floors")

	floors := map[AccountType]Money{
		AccountScheduled: 500000,
		AccountHoliday:   200000,
		AccountSchool:    100000,
	}
	for typ, floor := range floors {
		if _, err := s.OpenAccount(ctx, m.ID, typ, floor-1, "teller-1"); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s below floor: got %v, want ErrValidation", typ, err)
		}
		if _, err := s.OpenAccount(ctx, m.ID, typ, floor, "teller-1"); err != nil {
			t.Fatalf("%s at floor: %v", typ, err)
		}
	}
}

func TestOpenAccountDuplicateTypeAndUnknowns(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	m := newMember(t, s, "doc-dup")

	if _, err := s.OpenAccount(ctx, m.ID, AccountChecking, 100000, "teller-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.OpenAccount(ctx, m.ID, AccountChecking, 100000, "teller-1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("second CHECKING: got %v, want ErrConflict", err)
	}
	if _, err := s.OpenAccount(ctx, m.ID, AccountType("PREMIUM"), 100000, "teller-1"); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown type: got %v, want ErrValidation", err)
	}
	if _, err := s.OpenAccount(ctx, "missing", AccountChecking, 100000, "teller-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing member: got %v, want ErrNotFound", err)
	}
}

func TestDepositWithdrawalAndInsufficientFunds(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	m := newMember(t, s, "doc-flow")
	acc, err := s.OpenAccount(ctx, m.ID, AccountChecking, 100000, "teller-1")
	if err != nil {
		t.Fatal(err)
	}

	tx, err := s.Apply(ctx, acc.ID, TxWithdrawal, 40000, "", "teller-1")
	if err != nil {
		t.Fatalf("withdrawal: %v", err)
	}
	if tx.BalanceBefore != 100000 || tx.BalanceAfter != 60000 {
		t.Fatalf("withdrawal balances: before=%d after=%d", tx.BalanceBefore, tx.BalanceAfter)
	}

	// 700.00 exceeds the remaining 600.00 and must not move the balance.
	if _, err := s.Apply(ctx, acc.ID, TxWithdrawal, 70000, "", "teller-1"); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("overdraft: got %v, want ErrInsufficientFunds", err)
	}
	got, _ := s.GetAccount(ctx, acc.ID)
	if got.Balance != 60000 {
		t.Fatalf("balance after rejected withdrawal = %d, want 60000", got.Balance)
	}

	txs, _ := s.ListTransactions(ctx, TransactionFilter{AccountID: acc.ID})
	if len(txs) != 2 {
		t.Fatalf("rejected withdrawal must not append, got %d entries", len(txs))
	}
}

func TestApplyRejectsOpeningAndBadAmounts(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	m := newMember(t, s, "doc-bad")
	acc, _ := s.OpenAccount(ctx, m.ID, AccountChecking, 100000, "teller-1")

	if _, err := s.Apply(ctx, acc.ID, TxOpening, 100, "", "teller-1"); !errors.Is(err, ErrValidation) {
		t.Fatalf("external OPENING: got %v, want ErrValidation", err)
	}
	if _, err := s.Apply(ctx, acc.ID, TxDeposit, 0, "", "teller-1"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: got %v, want ErrInvalidAmount", err)
	}
	if _, err := s.Apply(ctx, acc.ID, TxDeposit, -500, "", "teller-1"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative amount: got %v, want ErrInvalidAmount", err)
	}
	if _, err := s.Apply(ctx, acc.ID, TransactionType("TRANSFER"), 100, "", "teller-1"); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown type: got %v, want ErrValidation", err)
	}
}

func TestDepositOverflowRejected(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	m := newMember(t, s, "doc-overflow")
	acc, _ := s.OpenAccount(ctx, m.ID, AccountChecking, 100000, "teller-1")

	// A credit that would wrap the balance past the int64 ceiling must fail
	// and leave the account untouched.
	if _, err := s.Apply(ctx, acc.ID, TxDeposit, Money(math.MaxInt64), "", "teller-1"); !errors.Is(err, ErrValidation) {
		t.Fatalf("overflowing deposit: got %v, want ErrValidation", err)
	}
	got, _ := s.GetAccount(ctx, acc.ID)
	if got.Balance != 100000 {
		t.Fatalf("balance after rejected deposit = %d, want 100000", got.Balance)
	}
	txs, _ := s.ListTransactions(ctx, TransactionFilter{AccountID: acc.ID})
	if len(txs) != 1 {
		t.Fatalf("rejected deposit must not append, got %d entries", len(txs))
	}
}

func TestBlockedAccountRejectsMovements(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	m := newMember(t, s, "doc-block")
	acc, _ := s.OpenAccount(ctx, m.ID, AccountChecking, 100000, "teller-1")

	if _, err := s.SetAccountBlocked(ctx, acc.ID, true, "admin-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Apply(ctx, acc.ID, TxDeposit, 100, "", "teller-1"); !errors.Is(err, ErrAccountBlocked) {
		t.Fatalf("deposit on blocked: got %v, want ErrAccountBlocked", err)
	}
	if _, err := s.Apply(ctx, acc.ID, TxWithdrawal, 100, "", "teller-1"); !errors.Is(err, ErrAccountBlocked) {
		t.Fatalf("withdrawal on blocked: got %v, want ErrAccountBlocked", err)
	}

	if _, err := s.SetAccountBlocked(ctx, acc.ID, false, "admin-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Apply(ctx, acc.ID, TxDeposit, 100, "", "teller-1"); err != nil {
		t.Fatalf("deposit after unblock: %v", err)
	}
}

func TestReferencesUniqueAndMonotonic(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	m := newMember(t, s, "doc-refs")
	a1, _ := s.OpenAccount(ctx, m.ID, AccountChecking, 100000, "teller-1")
	a2, _ := s.OpenAccount(ctx, m.ID, AccountHoliday, 200000, "teller-1")

	var refs []string
	for i := 0; i < 5; i++ {
		tx1, err := s.Apply(ctx, a1.ID, TxDeposit, 100, "", "teller-1")
		if err != nil {
			t.Fatal(err)
		}
		tx2, err := s.Apply(ctx, a2.ID, TxDeposit, 100, "", "teller-1")
		if err != nil {
			t.Fatal(err)
		}
		refs = append(refs, tx1.Reference, tx2.Reference)
	}

	seen := make(map[string]bool)
	for i, ref := range refs {
		if seen[ref] {
			t.Fatalf("duplicate reference %q", ref)
		}
		seen[ref] = true
		if !strings.HasPrefix(ref, "TXN-") {
			t.Fatalf("reference %q lacks TXN prefix", ref)
		}
		if i > 0 && refs[i-1] >= ref {
			t.Fatalf("references not increasing: %q then %q", refs[i-1], ref)
		}
	}
}

func TestConcurrentWithdrawalsConserveBalance(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	m := newMember(t, s, "doc-race")
	acc, _ := s.OpenAccount(ctx, m.ID, AccountChecking, 100000, "teller-1")

	const (
		workers = 50
		amount  = Money(3000)
	)
	var (
		wg        sync.WaitGroup
		succeeded int64
		mu        sync.Mutex
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Apply(ctx, acc.ID, TxWithdrawal, amount, "", "teller-1"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, _ := s.GetAccount(ctx, acc.ID)
	want := Money(100000) - amount*Money(succeeded)
	if got.Balance != want {
		t.Fatalf("balance = %d, want %d (%d withdrawals succeeded)", got.Balance, want, succeeded)
	}
	if got.Balance < 0 {
		t.Fatalf("balance went negative: %d", got.Balance)
	}

	txs, _ := s.ListTransactions(ctx, TransactionFilter{AccountID: acc.ID, Limit: 1000})
	if int64(len(txs)) != succeeded+1 {
		t.Fatalf("ledger has %d entries, want %d", len(txs), succeeded+1)
	}
}

func TestListTransactionsFilterAndOrder(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	m1 := newMember(t, s, "doc-l1")
	m2 := newMember(t, s, "doc-l2")
	a1, _ := s.OpenAccount(ctx, m1.ID, AccountChecking, 100000, "teller-1")
	a2, _ := s.OpenAccount(ctx, m2.ID, AccountChecking, 100000, "teller-1")

	last, err := s.Apply(ctx, a1.ID, TxDeposit, 500, "", "teller-1")
	if err != nil {
		t.Fatal(err)
	}

	byAccount, _ := s.ListTransactions(ctx, TransactionFilter{AccountID: a1.ID})
	if len(byAccount) != 2 {
		t.Fatalf("account filter: got %d entries, want 2", len(byAccount))
	}
	if byAccount[0].Reference != last.Reference {
		t.Fatalf("expected newest first, got %q", byAccount[0].Reference)
	}

	byMember, _ := s.ListTransactions(ctx, TransactionFilter{MemberID: m2.ID})
	if len(byMember) != 1 || byMember[0].AccountID != a2.ID {
		t.Fatalf("member filter: got %v", byMember)
	}
}

func TestContributionsStampPeriodAndAllowRepeats(t *testing.T) {
	s := NewInMemory()
	s.now = func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	m := newMember(t, s, "doc-contrib")

	c1, err := s.RecordContribution(ctx, m.ID, 5000, "teller-1")
	if err != nil {
		t.Fatal(err)
	}
	if c1.Month != 3 || c1.Year != 2026 {
		t.Fatalf("period = %d/%d, want 3/2026", c1.Month, c1.Year)
	}

	// Same member, same period: legal.
	if _, err := s.RecordContribution(ctx, m.ID, 5000, "teller-1"); err != nil {
		t.Fatalf("repeat contribution: %v", err)
	}

	if _, err := s.RecordContribution(ctx, "missing", 5000, "teller-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing member: got %v, want ErrNotFound", err)
	}
	if _, err := s.RecordContribution(ctx, m.ID, 0, "teller-1"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: got %v, want ErrInvalidAmount", err)
	}
}

func TestAidRequestTenureBoundary(t *testing.T) {
	s := NewInMemory()
	registered := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return registered }
	ctx := context.Background()
	m := newMember(t, s, "doc-tenure")

	s.now = func() time.Time { return registered.Add(179 * 24 * time.Hour) }
	if _, err := s.FileAidRequest(ctx, m.ID, 10000, "medical", "teller-1"); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("179 days: got %v, want ErrNotEligible", err)
	}

	s.now = func() time.Time { return registered.Add(181 * 24 * time.Hour) }
	r, err := s.FileAidRequest(ctx, m.ID, 10000, "medical", "teller-1")
	if err != nil {
		t.Fatalf("181 days: %v", err)
	}
	if r.Status != AidPending {
		t.Fatalf("status = %q, want PENDING", r.Status)
	}
}

func TestDecideAidRequestIsOneShot(t *testing.T) {
	s := NewInMemory()
	registered := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return registered }
	ctx := context.Background()
	m := newMember(t, s, "doc-decide")

	s.now = func() time.Time { return registered.Add(365 * 24 * time.Hour) }
	r, err := s.FileAidRequest(ctx, m.ID, 10000, "school fees", "teller-1")
	if err != nil {
		t.Fatal(err)
	}

	decided, err := s.DecideAidRequest(ctx, r.ID, true, "approved in committee", "supervisor-1")
	if err != nil {
		t.Fatal(err)
	}
	if decided.Status != AidApproved || decided.DecidedAt == nil {
		t.Fatalf("decision not recorded: %+v", decided)
	}

	// Terminal state: any further decision is rejected, including flipping
	// an approval to a rejection.
	if _, err := s.DecideAidRequest(ctx, r.ID, false, "", "supervisor-1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("re-decide: got %v, want ErrInvalidState", err)
	}
	if _, err := s.DecideAidRequest(ctx, "missing", true, "", "supervisor-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing request: got %v, want ErrNotFound", err)
	}

	pending, _ := s.ListAidRequests(ctx, AidPending, 0, 0)
	if len(pending) != 0 {
		t.Fatalf("expected no pending requests, got %d", len(pending))
	}
	approved, _ := s.ListAidRequests(ctx, AidApproved, 0, 0)
	if len(approved) != 1 {
		t.Fatalf("expected one approved request, got %d", len(approved))
	}
}

func TestStats(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	m1 := newMember(t, s, "doc-s1")
	m2 := newMember(t, s, "doc-s2")
	_, _ = s.OpenAccount(ctx, m1.ID, AccountChecking, 100000, "teller-1")
	_, _ = s.OpenAccount(ctx, m2.ID, AccountHoliday, 200000, "teller-1")

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.ActiveMembers != 2 || st.TotalAccounts != 2 {
		t.Fatalf("stats = %+v", st)
	}
	if st.TotalSavings != 300000 {
		t.Fatalf("total savings = %d, want 300000", st.TotalSavings)
	}
	if st.TodayTransactions != 2 {
		t.Fatalf("today transactions = %d, want 2", st.TodayTransactions)
	}
}

func TestMoneyDecimalBoundary(t *testing.T) {
	if got := Money(100050).String(); got != "1000.50" {
		t.Fatalf("String() = %q, want 1000.50", got)
	}
	d := Money(99999).Decimal()
	m, err := MoneyFromDecimal(d)
	if err != nil || m != 99999 {
		t.Fatalf("round trip: %v %v", m, err)
	}
	if _, err := MoneyFromDecimal(decimal.RequireFromString("10.005")); err == nil {
		t.Fatal("expected error for more than two decimal places")
	}

	// The int64 minor-unit ceiling is 92233720368547758.07; anything past it
	// must be rejected, not wrapped.
	m, err = MoneyFromDecimal(decimal.RequireFromString("92233720368547758.07"))
	if err != nil || m != Money(math.MaxInt64) {
		t.Fatalf("ceiling amount: %v %v", m, err)
	}
	if _, err := MoneyFromDecimal(decimal.RequireFromString("92233720368547758.08")); !errors.Is(err, ErrValidation) {
		t.Fatalf("past ceiling: got %v, want ErrValidation", err)
	}
	if _, err := MoneyFromDecimal(decimal.RequireFromString("99999999999999999999.00")); !errors.Is(err, ErrValidation) {
		t.Fatalf("far past ceiling: got %v, want ErrValidation", err)
	}
}
