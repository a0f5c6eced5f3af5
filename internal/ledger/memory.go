package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"cajards.org/internal/ids"
)

// aidMinimumTenure is the membership age required before an aid request may
// be filed.
const aidMinimumTenure = 180 * 24 * time.Hour

// InMemory implements Service with in-process concurrency safety. Balance
// mutations on one account are serialized by a per-account mutex held for the
// whole read-validate-write step; distinct accounts proceed in parallel.
type InMemory struct {
	mu       sync.RWMutex
	members  map[string]*Member
	accounts map[string]*Account
	txs      []Transaction
	contribs []Contribution
	requests map[string]*AidRequest

	acctMu  sync.Mutex
	acctLks map[string]*sync.Mutex

	seqMu sync.Mutex
	seqs  map[string]uint64

	now func() time.Time
}

var _ Service = (*InMemory)(nil)

// NewInMemory creates an empty ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		members:  make(map[string]*Member),
		accounts: make(map[string]*Account),
		requests: make(map[string]*AidRequest),
		acctLks:  make(map[string]*sync.Mutex),
		seqs:     make(map[string]uint64),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// nextSeq is an atomic fetch-and-increment over a named counter. Counters are
// independent of account-level locking.
func (s *InMemory) nextSeq(name string) uint64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.seqs[name]++
	return s.seqs[name]
}

func (s *InMemory) accountLock(id string) *sync.Mutex {
	s.acctMu.Lock()
	defer s.acctMu.Unlock()
	lk, ok := s.acctLks[id]
	if !ok {
		lk = &sync.Mutex{}
		s.acctLks[id] = lk
	}
	return lk
}

// --- member directory ---

func (s *InMemory) CreateMember(ctx context.Context, p MemberParams, actor string) (Member, error) {
	doc := strings.TrimSpace(p.IdentityDocument)
	if doc == "" {
		return Member{}, fmt.Errorf("%w: identity_document is required", ErrValidation)
	}
	if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" {
		return Member{}, fmt.Errorf("%w: first_name and last_name are required", ErrValidation)
	}
	email := strings.TrimSpace(strings.ToLower(p.Email))
	if email == "" || !strings.Contains(email, "@") {
		return Member{}, fmt.Errorf("%w: valid email is required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.IdentityDocument == doc || m.Email == email {
			return Member{}, fmt.Errorf("%w: member with this identity document or email already exists", ErrConflict)
		}
	}
	now := s.now()
	m := &Member{
		ID:               ids.New(),
		Number:           MemberNumber(now, s.nextSeq(SeqMembers)),
		IdentityDocument: doc,
		FirstName:        strings.TrimSpace(p.FirstName),
		LastName:         strings.TrimSpace(p.LastName),
		Email:            email,
		Phone:            strings.TrimSpace(p.Phone),
		Address:          strings.TrimSpace(p.Address),
		BirthDate:        p.BirthDate,
		Status:           MemberActive,
		RegisteredAt:     now,
	}
	s.members[m.ID] = m
	return *m, nil
}

func (s *InMemory) GetMember(ctx context.Context, id string) (Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return Member{}, fmt.Errorf("member %w", ErrNotFound)
	}
	return *m, nil
}

func (s *InMemory) ListMembers(ctx context.Context, limit, offset int) ([]Member, error) {
	limit = clampLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]Member, 0, len(s.members))
	for _, m := range s.members {
		all = append(all, *m)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Number < all[j].Number })
	return window(all, limit, offset), nil
}

// --- account registry ---

func (s *InMemory) OpenAccount(ctx context.Context, memberID string, t AccountType, initialDeposit Money, actor string) (Account, error) {
	min, ok := MinimumDeposit(t)
	if !ok {
		return Account{}, fmt.Errorf("%w: unknown account type %q", ErrValidation, t)
	}

	s.mu.RLock()
	m, found := s.members[memberID]
	s.mu.RUnlock()
	if !found {
		return Account{}, fmt.Errorf("member %w", ErrNotFound)
	}
	if m.Status == MemberSuspended {
		return Account{}, fmt.Errorf("%w: member %s is suspended", ErrValidation, m.Number)
	}
	if initialDeposit < min {
		return Account{}, fmt.Errorf("%w: minimum deposit for %s is %s", ErrValidation, t, min)
	}

	acc := &Account{
		ID:             ids.New(),
		MemberID:       memberID,
		Type:           t,
		MinimumBalance: min,
		CreatedAt:      s.now(),
	}
	lk := s.accountLock(acc.ID)
	lk.Lock()
	defer lk.Unlock()

	s.mu.Lock()
	for _, existing := range s.accounts {
		if existing.MemberID == memberID && existing.Type == t {
			s.mu.Unlock()
			return Account{}, fmt.Errorf("%w: member already holds a %s account", ErrConflict, t)
		}
	}
	acc.Number = AccountNumber(t, s.nextSeq(SeqAccounts(t)))
	s.accounts[acc.ID] = acc
	s.mu.Unlock()

	// The opening balance lands through the same apply path as any other
	// credit, so the OPENING entry records balance_before = 0.
	if _, err := s.apply(acc, TxOpening, initialDeposit, "Account opening "+string(t), actor); err != nil {
		return Account{}, err
	}
	return *acc, nil
}

func (s *InMemory) GetAccount(ctx context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return Account{}, fmt.Errorf("account %w", ErrNotFound)
	}
	return *acc, nil
}

func (s *InMemory) ListAccounts(ctx context.Context, memberID string) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Account
	for _, acc := range s.accounts {
		if memberID != "" && acc.MemberID != memberID {
			continue
		}
		res = append(res, *acc)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Number < res[j].Number })
	return res, nil
}

func (s *InMemory) SetAccountBlocked(ctx context.Context, id string, blocked bool, actor string) (Account, error) {
	lk := s.accountLock(id)
	lk.Lock()
	defer lk.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return Account{}, fmt.Errorf("account %w", ErrNotFound)
	}
	acc.Blocked = blocked
	return *acc, nil
}

// --- transaction ledger ---

func (s *InMemory) Apply(ctx context.Context, accountID string, t TransactionType, amount Money, description, actor string) (Transaction, error) {
	if t == TxOpening {
		return Transaction{}, fmt.Errorf("%w: opening entries are created by account opening", ErrValidation)
	}
	if !t.IsCredit() && !t.IsDebit() {
		return Transaction{}, fmt.Errorf("%w: unknown transaction type %q", ErrValidation, t)
	}

	lk := s.accountLock(accountID)
	lk.Lock()
	defer lk.Unlock()

	s.mu.RLock()
	acc, ok := s.accounts[accountID]
	s.mu.RUnlock()
	if !ok {
		return Transaction{}, fmt.Errorf("account %w", ErrNotFound)
	}
	if description == "" {
		description = fmt.Sprintf("%s - %s", t, amount)
	}
	return s.apply(acc, t, amount, description, actor)
}

// apply performs the read-validate-write step. The caller must hold the
// per-account lock; the balance write and the ledger append happen under the
// store mutex so readers only ever observe the pair committed together.
func (s *InMemory) apply(acc *Account, t TransactionType, amount Money, description, actor string) (Transaction, error) {
	if acc.Blocked {
		return Transaction{}, ErrAccountBlocked
	}
	if !amount.IsPositive() {
		return Transaction{}, ErrInvalidAmount
	}
	before := acc.Balance
	var after Money
	if t.IsDebit() {
		if before < amount {
			return Transaction{}, ErrInsufficientFunds
		}
		after = before - amount
	} else {
		after = before + amount
		if after < before {
			return Transaction{}, fmt.Errorf("%w: credit overflows account balance", ErrValidation)
		}
	}

	now := s.now()
	tx := Transaction{
		ID:            ids.New(),
		Reference:     TransactionReference(now, s.nextSeq(SeqTransactions)),
		AccountID:     acc.ID,
		MemberID:      acc.MemberID,
		Type:          t,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Description:   description,
		CreatedBy:     actor,
		CreatedAt:     now,
	}

	s.mu.Lock()
	acc.Balance = after
	s.txs = append(s.txs, tx)
	s.mu.Unlock()
	return tx, nil
}

func (s *InMemory) ListTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, error) {
	limit := clampLimit(f.Limit)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		res     []Transaction
		skipped int
	)
	// Newest first.
	for i := len(s.txs) - 1; i >= 0; i-- {
		tx := s.txs[i]
		if f.AccountID != "" && tx.AccountID != f.AccountID {
			continue
		}
		if f.MemberID != "" && tx.MemberID != f.MemberID {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		res = append(res, tx)
		if len(res) >= limit {
			break
		}
	}
	return res, nil
}

// --- mutual aid engine ---

func (s *InMemory) RecordContribution(ctx context.Context, memberID string, amount Money, actor string) (Contribution, error) {
	if !amount.IsPositive() {
		return Contribution{}, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[memberID]; !ok {
		return Contribution{}, fmt.Errorf("member %w", ErrNotFound)
	}
	now := s.now()
	// Several contributions inside the same (member, month, year) are legal.
	c := Contribution{
		ID:        ids.New(),
		MemberID:  memberID,
		Amount:    amount,
		Month:     int(now.Month()),
		Year:      now.Year(),
		CreatedBy: actor,
		CreatedAt: now,
	}
	s.contribs = append(s.contribs, c)
	return c, nil
}

func (s *InMemory) FileAidRequest(ctx context.Context, memberID string, amount Money, reason, actor string) (AidRequest, error) {
	if !amount.IsPositive() {
		return AidRequest{}, ErrInvalidAmount
	}
	if strings.TrimSpace(reason) == "" {
		return AidRequest{}, fmt.Errorf("%w: reason is required", ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok {
		return AidRequest{}, fmt.Errorf("member %w", ErrNotFound)
	}
	if s.now().Sub(m.RegisteredAt) < aidMinimumTenure {
		return AidRequest{}, fmt.Errorf("%w: membership of at least 180 days is required", ErrNotEligible)
	}
	r := &AidRequest{
		ID:          ids.New(),
		MemberID:    memberID,
		Amount:      amount,
		Reason:      strings.TrimSpace(reason),
		Status:      AidPending,
		RequestedAt: s.now(),
	}
	s.requests[r.ID] = r
	return *r, nil
}

func (s *InMemory) DecideAidRequest(ctx context.Context, requestID string, approve bool, notes, actor string) (AidRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestID]
	if !ok {
		return AidRequest{}, fmt.Errorf("aid request %w", ErrNotFound)
	}
	if r.Status != AidPending {
		return AidRequest{}, fmt.Errorf("%w: request already %s", ErrInvalidState, r.Status)
	}
	if approve {
		r.Status = AidApproved
	} else {
		r.Status = AidRejected
	}
	now := s.now()
	r.DecidedBy = actor
	r.DecidedAt = &now
	r.Notes = strings.TrimSpace(notes)
	return *r, nil
}

func (s *InMemory) ListAidRequests(ctx context.Context, status AidRequestStatus, limit, offset int) ([]AidRequest, error) {
	limit = clampLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]AidRequest, 0, len(s.requests))
	for _, r := range s.requests {
		if status != "" && r.Status != status {
			continue
		}
		all = append(all, *r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].RequestedAt.After(all[j].RequestedAt) })
	return window(all, limit, offset), nil
}

// --- dashboard ---

func (s *InMemory) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st Stats
	for _, m := range s.members {
		if m.Status == MemberActive {
			st.ActiveMembers++
		}
	}
	for _, acc := range s.accounts {
		st.TotalAccounts++
		st.TotalSavings += acc.Balance
	}
	dayStart := s.now().Truncate(24 * time.Hour)
	for _, tx := range s.txs {
		if !tx.CreatedAt.Before(dayStart) {
			st.TodayTransactions++
		}
	}
	return st, nil
}

// --- helpers ---

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

func window[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}
