package ledger

import (
	"context"
	"time"
)

// MemberParams carries the biographical fields supplied by the directory
// collaborator when enrolling a member.
type MemberParams struct {
	IdentityDocument string
	FirstName        string
	LastName         string
	Email            string
	Phone            string
	Address          string
	BirthDate        time.Time
}

// TransactionFilter narrows ListTransactions. Zero values mean "no filter".
type TransactionFilter struct {
	AccountID string
	MemberID  string
	Limit     int
	Offset    int
}

// Service defines the ledger core: member directory lookups, the account
// registry, the transaction ledger, and the mutual aid engine. Authorization
// happens before any of these are reached; actor is the principal id recorded
// on every mutation.
type Service interface {
	CreateMember(ctx context.Context, p MemberParams, actor string) (Member, error)
	GetMember(ctx context.Context, id string) (Member, error)
	ListMembers(ctx context.Context, limit, offset int) ([]Member, error)

	OpenAccount(ctx context.Context, memberID string, t AccountType, initialDeposit Money, actor string) (Account, error)
	GetAccount(ctx context.Context, id string) (Account, error)
	ListAccounts(ctx context.Context, memberID string) ([]Account, error)
	SetAccountBlocked(ctx context.Context, id string, blocked bool, actor string) (Account, error)

	Apply(ctx context.Context, accountID string, t TransactionType, amount Money, description, actor string) (Transaction, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, error)

	RecordContribution(ctx context.Context, memberID string, amount Money, actor string) (Contribution, error)
	FileAidRequest(ctx context.Context, memberID string, amount Money, reason, actor string) (AidRequest, error)
	DecideAidRequest(ctx context.Context, requestID string, approve bool, notes, actor string) (AidRequest, error)
	ListAidRequests(ctx context.Context, status AidRequestStatus, limit, offset int) ([]AidRequest, error)

	Stats(ctx context.Context) (Stats, error)
}
