package ledger

import (
	"fmt"
	"time"
)

// Sequence names for human-readable reference generation. One counter per
// member roll and per account product, one global counter for transactions.
const (
	SeqMembers      = "members"
	SeqTransactions = "transactions"
)

// SeqAccounts returns the sequence name for the given account product.
func SeqAccounts(t AccountType) string {
	return "accounts." + string(t)
}

var accountPrefixes = map[AccountType]string{
	AccountChecking:  "CC",
	AccountScheduled: "AP",
	AccountHoliday:   "AN",
	AccountSchool:    "AE",
}

// MemberNumber formats the member roll number, e.g. SOCIO-2026-00042.
func MemberNumber(at time.Time, n uint64) string {
	return fmt.Sprintf("SOCIO-%d-%05d", at.Year(), n)
}

// AccountNumber formats the account number for the product, e.g. CC-00000007.
func AccountNumber(t AccountType, n uint64) string {
	return fmt.Sprintf("%s-%08d", accountPrefixes[t], n)
}

// TransactionReference formats a ledger reference, e.g. TXN-20260829-000193.
// The counter is global, so references are strictly increasing in creation
// order regardless of the date component.
func TransactionReference(at time.Time, n uint64) string {
	return fmt.Sprintf("TXN-%s-%06d", at.Format("20060102"), n)
}
