package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Money is an amount in minor units (centavos). No floats anywhere in the
// balance arithmetic; the two-decimal boundary representation lives in
// decimal.Decimal conversions only.
type Money int64

func (m Money) IsPositive() bool { return m > 0 }

// Decimal renders the amount with two decimal places.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

func (m Money) String() string { return m.Decimal().StringFixed(2) }

// MarshalJSON renders the amount as a fixed two-decimal string. Raw minor
// units never cross the API boundary.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return err
	}
	parsed, err := MoneyFromDecimal(d)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MoneyFromDecimal converts a boundary amount into minor units. Amounts with
// more than two decimal places are rejected rather than rounded, and amounts
// whose minor-unit value does not fit int64 are rejected rather than wrapped.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	if !d.Equal(d.Truncate(2)) {
		return 0, fmt.Errorf("%w: amount supports at most two decimal places", ErrValidation)
	}
	minor := d.Shift(2).BigInt()
	if !minor.IsInt64() {
		return 0, fmt.Errorf("%w: amount out of range", ErrValidation)
	}
	return Money(minor.Int64()), nil
}

// MemberStatus values mirror the cooperative's member lifecycle.
type MemberStatus string

const (
	MemberActive    MemberStatus = "ACTIVE"
	MemberInactive  MemberStatus = "INACTIVE"
	MemberSuspended MemberStatus = "SUSPENDED"
)

// Member is an enrolled person. The ledger core references members but never
// mutates their biographical data.
type Member struct {
	ID               string       `json:"id"`
	Number           string       `json:"member_number"`
	IdentityDocument string       `json:"identity_document"`
	FirstName        string       `json:"first_name"`
	LastName         string       `json:"last_name"`
	Email            string       `json:"email"`
	Phone            string       `json:"phone"`
	Address          string       `json:"address"`
	BirthDate        time.Time    `json:"birth_date"`
	Status           MemberStatus `json:"status"`
	RegisteredAt     time.Time    `json:"registered_at"`
}

// AccountType is one of the fixed savings products.
type AccountType string

const (
	AccountChecking  AccountType = "CHECKING"
	AccountScheduled AccountType = "SCHEDULED"
	AccountHoliday   AccountType = "HOLIDAY"
	AccountSchool    AccountType = "SCHOOL"
)

// minimumDeposits is the policy floor per product, in minor units.
var minimumDeposits = map[AccountType]Money{
	AccountChecking:  100000,
	AccountScheduled: 500000,
	AccountHoliday:   200000,
	AccountSchool:    100000,
}

// MinimumDeposit returns the opening floor for the given product.
func MinimumDeposit(t AccountType) (Money, bool) {
	m, ok := minimumDeposits[t]
	return m, ok
}

// Account is a typed, balance-bearing record owned by one member.
// A member holds at most one account per type.
type Account struct {
	ID             string      `json:"id"`
	Number         string      `json:"account_number"`
	MemberID       string      `json:"member_id"`
	Type           AccountType `json:"account_type"`
	Balance        Money       `json:"balance"`
	MinimumBalance Money       `json:"minimum_balance"`
	Blocked        bool        `json:"blocked"`
	CreatedAt      time.Time   `json:"created_at"`
}

// TransactionType tags a balance-affecting event.
type TransactionType string

const (
	TxDeposit         TransactionType = "DEPOSIT"
	TxWithdrawal      TransactionType = "WITHDRAWAL"
	TxOpening         TransactionType = "OPENING"
	TxAidContribution TransactionType = "AID_CONTRIBUTION"
	TxAidDisbursement TransactionType = "AID_DISBURSEMENT"
)

// IsCredit reports whether the type increases the account balance.
func (t TransactionType) IsCredit() bool {
	switch t {
	case TxDeposit, TxOpening, TxAidContribution:
		return true
	}
	return false
}

// IsDebit reports whether the type decreases the account balance.
func (t TransactionType) IsDebit() bool {
	switch t {
	case TxWithdrawal, TxAidDisbursement:
		return true
	}
	return false
}

// Transaction is an immutable record of one balance mutation. BalanceAfter
// always equals the account balance at the moment the record was committed;
// the two are written as a single unit.
type Transaction struct {
	ID            string          `json:"id"`
	Reference     string          `json:"reference"`
	AccountID     string          `json:"account_id"`
	MemberID      string          `json:"member_id"`
	Type          TransactionType `json:"transaction_type"`
	Amount        Money           `json:"amount"`
	BalanceBefore Money           `json:"balance_before"`
	BalanceAfter  Money           `json:"balance_after"`
	Description   string          `json:"description"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Contribution is a solidarity-fund payment stamped with the period it
// applies to. Multiple contributions per (member, month, year) are legal.
type Contribution struct {
	ID        string    `json:"id"`
	MemberID  string    `json:"member_id"`
	Amount    Money     `json:"amount"`
	Month     int       `json:"month"`
	Year      int       `json:"year"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// AidRequestStatus is the aid workflow state. PENDING transitions to either
// terminal state exactly once.
type AidRequestStatus string

const (
	AidPending  AidRequestStatus = "PENDING"
	AidApproved AidRequestStatus = "APPROVED"
	AidRejected AidRequestStatus = "REJECTED"
)

// AidRequest is a member's petition against the solidarity fund.
type AidRequest struct {
	ID          string           `json:"id"`
	MemberID    string           `json:"member_id"`
	Amount      Money            `json:"amount"`
	Reason      string           `json:"reason"`
	Status      AidRequestStatus `json:"status"`
	RequestedAt time.Time        `json:"requested_at"`
	DecidedBy   string           `json:"decided_by,omitempty"`
	DecidedAt   *time.Time       `json:"decided_at,omitempty"`
	Notes       string           `json:"notes,omitempty"`
}

// Stats aggregates already-committed data for the dashboard.
type Stats struct {
	ActiveMembers     int   `json:"active_members"`
	TotalAccounts     int   `json:"total_accounts"`
	TotalSavings      Money `json:"total_savings"`
	TodayTransactions int   `json:"today_transactions"`
}
