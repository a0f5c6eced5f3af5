package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cajards.org/internal/ids"
	"cajards.org/internal/ledger"
)

func (s *Store) RecordContribution(ctx context.Context, memberID string, amount ledger.Money, actor string) (ledger.Contribution, error) {
	if !amount.IsPositive() {
		return ledger.Contribution{}, ledger.ErrInvalidAmount
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from members where id=$1)`, memberID).Scan(&exists); err != nil {
		return ledger.Contribution{}, err
	}
	if !exists {
		return ledger.Contribution{}, fmt.Errorf("member %w", ledger.ErrNotFound)
	}

	now := time.Now().UTC()
	// No uniqueness constraint per (member, month, year): repeated
	// contributions inside one period are legal.
	c := ledger.Contribution{
		ID:        ids.New(),
		MemberID:  memberID,
		Amount:    amount,
		Month:     int(now.Month()),
		Year:      now.Year(),
		CreatedBy: actor,
		CreatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		insert into contributions(id, member_id, amount, month, year, created_by, created_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, c.ID, c.MemberID, int64(c.Amount), c.Month, c.Year, c.CreatedBy, c.CreatedAt)
	if err != nil {
		return ledger.Contribution{}, err
	}
	return c, nil
}

func (s *Store) FileAidRequest(ctx context.Context, memberID string, amount ledger.Money, reason, actor string) (ledger.AidRequest, error) {
	if !amount.IsPositive() {
		return ledger.AidRequest{}, ledger.ErrInvalidAmount
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ledger.AidRequest{}, fmt.Errorf("%w: reason is required", ledger.ErrValidation)
	}

	var registeredAt time.Time
	err := s.db.QueryRowContext(ctx,
		`select registered_at from members where id=$1`, memberID).Scan(&registeredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.AidRequest{}, fmt.Errorf("member %w", ledger.ErrNotFound)
	}
	if err != nil {
		return ledger.AidRequest{}, err
	}
	now := time.Now().UTC()
	if now.Sub(registeredAt) < 180*24*time.Hour {
		return ledger.AidRequest{}, fmt.Errorf("%w: membership of at least 180 days is required", ledger.ErrNotEligible)
	}

	r := ledger.AidRequest{
		ID:          ids.New(),
		MemberID:    memberID,
		Amount:      amount,
		Reason:      reason,
		Status:      ledger.AidPending,
		RequestedAt: now,
	}
	_, err = s.db.ExecContext(ctx, `
		insert into aid_requests(id, member_id, amount, reason, status, requested_at)
		values ($1,$2,$3,$4,$5,$6)
	`, r.ID, r.MemberID, int64(r.Amount), r.Reason, r.Status, r.RequestedAt)
	if err != nil {
		return ledger.AidRequest{}, err
	}
	return r, nil
}

func (s *Store) DecideAidRequest(ctx context.Context, requestID string, approve bool, notes, actor string) (ledger.AidRequest, error) {
	status := ledger.AidRejected
	if approve {
		status = ledger.AidApproved
	}
	now := time.Now().UTC()

	// The status predicate makes the transition one-shot: a second decision
	// matches zero rows.
	row := s.db.QueryRowContext(ctx, `
		update aid_requests
		set status=$2, decided_by=$3, decided_at=$4, notes=$5
		where id=$1 and status=$6
		returning id, member_id, amount, reason, status, requested_at, decided_by, decided_at, notes
	`, requestID, status, actor, now, strings.TrimSpace(notes), ledger.AidPending)

	r, err := scanAidRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		var current ledger.AidRequestStatus
		lookupErr := s.db.QueryRowContext(ctx,
			`select status from aid_requests where id=$1`, requestID).Scan(&current)
		if errors.Is(lookupErr, sql.ErrNoRows) {
			return ledger.AidRequest{}, fmt.Errorf("aid request %w", ledger.ErrNotFound)
		}
		if lookupErr != nil {
			return ledger.AidRequest{}, lookupErr
		}
		return ledger.AidRequest{}, fmt.Errorf("%w: request already %s", ledger.ErrInvalidState, current)
	}
	if err != nil {
		return ledger.AidRequest{}, err
	}
	return r, nil
}

func (s *Store) ListAidRequests(ctx context.Context, status ledger.AidRequestStatus, limit, offset int) ([]ledger.AidRequest, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	query := `select id, member_id, amount, reason, status, requested_at, decided_by, decided_at, notes
		from aid_requests`
	var args []any
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" where status=$%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" order by requested_at desc limit $%d", len(args))
	args = append(args, offset)
	query += fmt.Sprintf(" offset $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []ledger.AidRequest
	for rows.Next() {
		r, err := scanAidRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func scanAidRequest(row interface{ Scan(...any) error }) (ledger.AidRequest, error) {
	var (
		r         ledger.AidRequest
		amount    int64
		decidedBy sql.NullString
		decidedAt sql.NullTime
		notes     sql.NullString
	)
	err := row.Scan(&r.ID, &r.MemberID, &amount, &r.Reason, &r.Status, &r.RequestedAt,
		&decidedBy, &decidedAt, &notes)
	if err != nil {
		return ledger.AidRequest{}, err
	}
	r.Amount = ledger.Money(amount)
	if decidedBy.Valid {
		r.DecidedBy = decidedBy.String
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		r.DecidedAt = &t
	}
	if notes.Valid {
		r.Notes = notes.String
	}
	return r, nil
}

func (s *Store) Stats(ctx context.Context) (ledger.Stats, error) {
	var st ledger.Stats
	err := s.db.QueryRowContext(ctx, `
		select
			(select count(*) from members where status=$1),
			(select count(*) from accounts),
			(select coalesce(sum(balance), 0) from accounts),
			(select count(*) from transactions where created_at >= date_trunc('day', now() at time zone 'utc'))
	`, ledger.MemberActive).Scan(&st.ActiveMembers, &st.TotalAccounts, &st.TotalSavings, &st.TodayTransactions)
	if err != nil {
		return ledger.Stats{}, err
	}
	return st, nil
}
