// Package pg implements the ledger service on PostgreSQL. The balance write
// and the transaction append always commit as one database transaction, and
// human-readable numbers come from an atomically incremented sequences table.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"cajards.org/internal/ids"
	"cajards.org/internal/ledger"
)

// applyRetries caps optimistic retries on serialization conflicts before the
// operation surfaces ErrConcurrency.
const applyRetries = 3

type Store struct {
	db *sql.DB
}

var _ ledger.Service = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// nextSeq is the fetch-and-increment primitive behind every human-readable
// number. Run inside the caller's transaction so a failed creation never
// consumes state outside the aborted unit.
func nextSeq(ctx context.Context, q querier, name string) (uint64, error) {
	var value uint64
	err := q.QueryRowContext(ctx, `
		insert into sequences(name, value) values ($1, 1)
		on conflict (name) do update set value = sequences.value + 1
		returning value
	`, name).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("sequence %s: %w", name, err)
	}
	return value, nil
}

// --- member directory ---

func (s *Store) CreateMember(ctx context.Context, p ledger.MemberParams, actor string) (ledger.Member, error) {
	doc := strings.TrimSpace(p.IdentityDocument)
	if doc == "" {
		return ledger.Member{}, fmt.Errorf("%w: identity_document is required", ledger.ErrValidation)
	}
	if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" {
		return ledger.Member{}, fmt.Errorf("%w: first_name and last_name are required", ledger.ErrValidation)
	}
	email := strings.TrimSpace(strings.ToLower(p.Email))
	if email == "" || !strings.Contains(email, "@") {
		return ledger.Member{}, fmt.Errorf("%w: valid email is required", ledger.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Member{}, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	n, err := nextSeq(ctx, tx, ledger.SeqMembers)
	if err != nil {
		return ledger.Member{}, err
	}
	m := ledger.Member{
		ID:               ids.New(),
		Number:           ledger.MemberNumber(now, n),
		IdentityDocument: doc,
		FirstName:        strings.TrimSpace(p.FirstName),
		LastName:         strings.TrimSpace(p.LastName),
		Email:            email,
		Phone:            strings.TrimSpace(p.Phone),
		Address:          strings.TrimSpace(p.Address),
		BirthDate:        p.BirthDate,
		Status:           ledger.MemberActive,
		RegisteredAt:     now,
	}
	_, err = tx.ExecContext(ctx, `
		insert into members(id, number, identity_document, first_name, last_name, email, phone, address, birth_date, status, registered_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, m.ID, m.Number, m.IdentityDocument, m.FirstName, m.LastName, m.Email, m.Phone, m.Address, m.BirthDate, m.Status, m.RegisteredAt)
	if isUniqueViolation(err) {
		return ledger.Member{}, fmt.Errorf("%w: member with this identity document or email already exists", ledger.ErrConflict)
	}
	if err != nil {
		return ledger.Member{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Member{}, err
	}
	return m, nil
}

const memberColumns = `id, number, identity_document, first_name, last_name, email, phone, address, birth_date, status, registered_at`

func scanMember(row interface{ Scan(...any) error }) (ledger.Member, error) {
	var m ledger.Member
	err := row.Scan(&m.ID, &m.Number, &m.IdentityDocument, &m.FirstName, &m.LastName,
		&m.Email, &m.Phone, &m.Address, &m.BirthDate, &m.Status, &m.RegisteredAt)
	return m, err
}

func (s *Store) GetMember(ctx context.Context, id string) (ledger.Member, error) {
	m, err := scanMember(s.db.QueryRowContext(ctx,
		`select `+memberColumns+` from members where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Member{}, fmt.Errorf("member %w", ledger.ErrNotFound)
	}
	if err != nil {
		return ledger.Member{}, err
	}
	return m, nil
}

func (s *Store) ListMembers(ctx context.Context, limit, offset int) ([]ledger.Member, error) {
	limit = clampLimit(limit)
	rows, err := s.db.QueryContext(ctx,
		`select `+memberColumns+` from members order by number asc limit $1 offset $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []ledger.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// --- account registry ---

func (s *Store) OpenAccount(ctx context.Context, memberID string, t ledger.AccountType, initialDeposit ledger.Money, actor string) (ledger.Account, error) {
	min, ok := ledger.MinimumDeposit(t)
	if !ok {
		return ledger.Account{}, fmt.Errorf("%w: unknown account type %q", ledger.ErrValidation, t)
	}
	if initialDeposit < min {
		return ledger.Account{}, fmt.Errorf("%w: minimum deposit for %s is %s", ledger.ErrValidation, t, min)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Account{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		memberNumber string
		memberStatus ledger.MemberStatus
	)
	err = tx.QueryRowContext(ctx, `select number, status from members where id=$1`, memberID).
		Scan(&memberNumber, &memberStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("member %w", ledger.ErrNotFound)
	}
	if err != nil {
		return ledger.Account{}, err
	}
	if memberStatus == ledger.MemberSuspended {
		return ledger.Account{}, fmt.Errorf("%w: member %s is suspended", ledger.ErrValidation, memberNumber)
	}

	now := time.Now().UTC()
	n, err := nextSeq(ctx, tx, ledger.SeqAccounts(t))
	if err != nil {
		return ledger.Account{}, err
	}
	acc := ledger.Account{
		ID:             ids.New(),
		Number:         ledger.AccountNumber(t, n),
		MemberID:       memberID,
		Type:           t,
		Balance:        initialDeposit,
		MinimumBalance: min,
		CreatedAt:      now,
	}
	_, err = tx.ExecContext(ctx, `
		insert into accounts(id, number, member_id, type, balance, minimum_balance, blocked, created_at)
		values ($1,$2,$3,$4,$5,$6,false,$7)
	`, acc.ID, acc.Number, acc.MemberID, acc.Type, int64(acc.Balance), int64(acc.MinimumBalance), acc.CreatedAt)
	if isUniqueViolation(err) {
		return ledger.Account{}, fmt.Errorf("%w: member already holds a %s account", ledger.ErrConflict, t)
	}
	if err != nil {
		return ledger.Account{}, err
	}

	// The OPENING entry commits in the same unit as the account row, so the
	// ledger and the stored balance can never disagree.
	if _, err := insertTransaction(ctx, tx, acc, ledger.TxOpening, initialDeposit, 0, initialDeposit,
		"Account opening "+string(t), actor, now); err != nil {
		return ledger.Account{}, err
	}

	if err := tx.Commit(); err != nil {
		return ledger.Account{}, err
	}
	return acc, nil
}

const accountColumns = `id, number, member_id, type, balance, minimum_balance, blocked, created_at`

func scanAccount(row interface{ Scan(...any) error }) (ledger.Account, error) {
	var (
		acc     ledger.Account
		balance int64
		minBal  int64
	)
	err := row.Scan(&acc.ID, &acc.Number, &acc.MemberID, &acc.Type, &balance, &minBal, &acc.Blocked, &acc.CreatedAt)
	acc.Balance = ledger.Money(balance)
	acc.MinimumBalance = ledger.Money(minBal)
	return acc, err
}

func (s *Store) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	acc, err := scanAccount(s.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("account %w", ledger.ErrNotFound)
	}
	if err != nil {
		return ledger.Account{}, err
	}
	return acc, nil
}

func (s *Store) ListAccounts(ctx context.Context, memberID string) ([]ledger.Account, error) {
	query := `select ` + accountColumns + ` from accounts`
	var args []any
	if memberID != "" {
		query += ` where member_id=$1`
		args = append(args, memberID)
	}
	query += ` order by number asc`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []ledger.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, acc)
	}
	return res, rows.Err()
}

func (s *Store) SetAccountBlocked(ctx context.Context, id string, blocked bool, actor string) (ledger.Account, error) {
	acc, err := scanAccount(s.db.QueryRowContext(ctx, `
		update accounts set blocked=$2 where id=$1
		returning `+accountColumns, id, blocked))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, fmt.Errorf("account %w", ledger.ErrNotFound)
	}
	if err != nil {
		return ledger.Account{}, err
	}
	return acc, nil
}

// --- transaction ledger ---

func (s *Store) Apply(ctx context.Context, accountID string, t ledger.TransactionType, amount ledger.Money, description, actor string) (ledger.Transaction, error) {
	if t == ledger.TxOpening {
		return ledger.Transaction{}, fmt.Errorf("%w: opening entries are created by account opening", ledger.ErrValidation)
	}
	if !t.IsCredit() && !t.IsDebit() {
		return ledger.Transaction{}, fmt.Errorf("%w: unknown transaction type %q", ledger.ErrValidation, t)
	}
	if !amount.IsPositive() {
		return ledger.Transaction{}, ledger.ErrInvalidAmount
	}
	if description == "" {
		description = fmt.Sprintf("%s - %s", t, amount)
	}

	var lastErr error
	for attempt := 0; attempt < applyRetries; attempt++ {
		tx, err := s.applyOnce(ctx, accountID, t, amount, description, actor)
		if isSerializationFailure(err) {
			lastErr = err
			continue
		}
		return tx, err
	}
	return ledger.Transaction{}, fmt.Errorf("%w: %v", ledger.ErrConcurrency, lastErr)
}

// applyOnce runs the read-validate-write step against a row-locked account.
// Either the new balance and the ledger entry both commit, or neither does.
func (s *Store) applyOnce(ctx context.Context, accountID string, t ledger.TransactionType, amount ledger.Money, description, actor string) (ledger.Transaction, error) {
	dbTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer func() { _ = dbTx.Rollback() }()

	var (
		memberID string
		balance  int64
		blocked  bool
	)
	err = dbTx.QueryRowContext(ctx,
		`select member_id, balance, blocked from accounts where id=$1 for update`, accountID).
		Scan(&memberID, &balance, &blocked)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, fmt.Errorf("account %w", ledger.ErrNotFound)
	}
	if err != nil {
		return ledger.Transaction{}, err
	}
	if blocked {
		return ledger.Transaction{}, ledger.ErrAccountBlocked
	}

	before := ledger.Money(balance)
	var after ledger.Money
	if t.IsDebit() {
		if before < amount {
			return ledger.Transaction{}, ledger.ErrInsufficientFunds
		}
		after = before - amount
	} else {
		after = before + amount
		if after < before {
			return ledger.Transaction{}, fmt.Errorf("%w: credit overflows account balance", ledger.ErrValidation)
		}
	}

	acc := ledger.Account{ID: accountID, MemberID: memberID}
	now := time.Now().UTC()
	tx, err := insertTransaction(ctx, dbTx, acc, t, amount, before, after, description, actor, now)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if _, err := dbTx.ExecContext(ctx,
		`update accounts set balance=$2 where id=$1`, accountID, int64(after)); err != nil {
		return ledger.Transaction{}, err
	}
	if err := dbTx.Commit(); err != nil {
		return ledger.Transaction{}, err
	}
	return tx, nil
}

func insertTransaction(ctx context.Context, q querier, acc ledger.Account, t ledger.TransactionType, amount, before, after ledger.Money, description, actor string, now time.Time) (ledger.Transaction, error) {
	n, err := nextSeq(ctx, q, ledger.SeqTransactions)
	if err != nil {
		return ledger.Transaction{}, err
	}
	tx := ledger.Transaction{
		ID:            ids.New(),
		Reference:     ledger.TransactionReference(now, n),
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
	_, err = q.ExecContext(ctx, `
		insert into transactions(id, reference, account_id, member_id, type, amount, balance_before, balance_after, description, created_by, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, tx.ID, tx.Reference, tx.AccountID, tx.MemberID, tx.Type, int64(tx.Amount),
		int64(tx.BalanceBefore), int64(tx.BalanceAfter), tx.Description, tx.CreatedBy, tx.CreatedAt)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	limit := clampLimit(f.Limit)

	query := `select id, reference, account_id, member_id, type, amount, balance_before, balance_after, description, created_by, created_at
		from transactions`
	var (
		conds []string
		args  []any
	)
	if f.AccountID != "" {
		args = append(args, f.AccountID)
		conds = append(conds, fmt.Sprintf("account_id=$%d", len(args)))
	}
	if f.MemberID != "" {
		args = append(args, f.MemberID)
		conds = append(conds, fmt.Sprintf("member_id=$%d", len(args)))
	}
	if len(conds) > 0 {
		query += " where " + strings.Join(conds, " and ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" order by created_at desc, reference desc limit $%d", len(args))
	args = append(args, f.Offset)
	query += fmt.Sprintf(" offset $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []ledger.Transaction
	for rows.Next() {
		var (
			tx                    ledger.Transaction
			amount, before, after int64
		)
		if err := rows.Scan(&tx.ID, &tx.Reference, &tx.AccountID, &tx.MemberID, &tx.Type,
			&amount, &before, &after, &tx.Description, &tx.CreatedBy, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.Amount = ledger.Money(amount)
		tx.BalanceBefore = ledger.Money(before)
		tx.BalanceAfter = ledger.Money(after)
		res = append(res, tx)
	}
	return res, rows.Err()
}

// --- helpers ---

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
