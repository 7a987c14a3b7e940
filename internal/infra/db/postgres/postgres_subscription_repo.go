package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"careercraft-billing/internal/domain"
	"careercraft-billing/internal/domain/model"
	"careercraft-billing/internal/domain/ports/repository"
)

var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct{ pool *pgxpool.Pool }

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, user_id, plan, status, cycle, start_date, expiry_date, next_billing_at, auto_renew, is_trial, trial_start, trial_end, trial_used, credits_total, credits_used, credits_remaining, credits_reset_at, usage_resumes, usage_analyses, usage_interviews, usage_portfolios, referral_code, referred_by, referral_credit, referral_count, last_payment_id, last_payment_at, last_payment_amount, cancelled_at, cancel_reason, upgrade_history, created_at, updated_at`

func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	history, err := json.Marshal(s.UpgradeHistory)
	if err != nil {
		return domain.ErrInvalidArgument
	}

	const q = `
INSERT INTO subscriptions (` + subscriptionColumns + `) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,NULLIF($22,''),$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33
) ON CONFLICT (user_id) DO UPDATE SET
  plan=$3, status=$4, cycle=$5, start_date=$6, expiry_date=$7, next_billing_at=$8, auto_renew=$9,
  is_trial=$10, trial_start=$11, trial_end=$12, trial_used=$13,
  credits_total=$14, credits_used=$15, credits_remaining=$16, credits_reset_at=$17,
  usage_resumes=$18, usage_analyses=$19, usage_interviews=$20, usage_portfolios=$21,
  referral_code=NULLIF($22,''), referred_by=$23, referral_credit=$24, referral_count=$25,
  last_payment_id=$26, last_payment_at=$27, last_payment_amount=$28,
  cancelled_at=$29, cancel_reason=$30, upgrade_history=$31, updated_at=$33;`

	_, err = execSQL(ctx, r.pool, tx, q,
		s.ID, s.UserID, s.Plan, s.Status, s.Cycle, s.StartDate, s.ExpiryDate, s.NextBillingAt, s.AutoRenew,
		s.IsTrial, s.TrialStart, s.TrialEnd, s.TrialUsed,
		s.Credits.Total, s.Credits.Used, s.Credits.Remaining, s.Credits.LastResetAt,
		s.Usage.ResumesCreated, s.Usage.AIAnalyses, s.Usage.InterviewSessions, s.Usage.Portfolios,
		s.ReferralCode, s.ReferredBy, s.ReferralCredit, s.ReferralCount,
		s.LastPaymentID, s.LastPaymentAt, s.LastPaymentAmount,
		s.CancelledAt, s.CancelReason, history, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return mapWriteErr(err)
	}
	return nil
}

func (r *subscriptionRepo) FindByUserID(ctx context.Context, tx repository.Tx, userID string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id=$1`
	return r.findOne(ctx, tx, q, userID)
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id=$1`
	return r.findOne(ctx, tx, q, id)
}

func (r *subscriptionRepo) FindByReferralCode(ctx context.Context, tx repository.Tx, code string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE referral_code=$1`
	return r.findOne(ctx, tx, q, code)
}

func (r *subscriptionRepo) findOne(ctx context.Context, tx repository.Tx, q string, arg interface{}) (*model.Subscription, error) {
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, arg)
	if err != nil {
		return nil, err
	}
	return scanSubscription(row)
}

func (r *subscriptionRepo) ListExpiredActive(ctx context.Context, tx repository.Tx, asOf time.Time, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 200
	}
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE status IN ('active','trial','cancelled') AND expiry_date IS NOT NULL AND expiry_date < $1 ORDER BY expiry_date ASC LIMIT $2;`
	return r.list(ctx, tx, q, asOf, limit)
}

func (r *subscriptionRepo) ListExpiringWithin(ctx context.Context, tx repository.Tx, asOf time.Time, within time.Duration, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 200
	}
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE status='active' AND expiry_date IS NOT NULL AND expiry_date >= $1 AND expiry_date < $2 ORDER BY expiry_date ASC LIMIT $3;`
	return r.list(ctx, tx, q, asOf, asOf.Add(within), limit)
}

func (r *subscriptionRepo) ListCreditResetDue(ctx context.Context, tx repository.Tx, monthStart time.Time, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 500
	}
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE status IN ('active','trial') AND credits_reset_at < $1 ORDER BY credits_reset_at ASC LIMIT $2;`
	return r.list(ctx, tx, q, monthStart, limit)
}

func (r *subscriptionRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Subscription, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *subscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	const q = `SELECT status, COUNT(*) FROM subscriptions GROUP BY status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	out := make(map[model.SubscriptionStatus]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out[model.SubscriptionStatus(st)] = n
	}
	return out, nil
}

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	s := &model.Subscription{}
	var referralCode *string
	var history []byte
	if err := row.Scan(
		&s.ID, &s.UserID, &s.Plan, &s.Status, &s.Cycle, &s.StartDate, &s.ExpiryDate, &s.NextBillingAt, &s.AutoRenew,
		&s.IsTrial, &s.TrialStart, &s.TrialEnd, &s.TrialUsed,
		&s.Credits.Total, &s.Credits.Used, &s.Credits.Remaining, &s.Credits.LastResetAt,
		&s.Usage.ResumesCreated, &s.Usage.AIAnalyses, &s.Usage.InterviewSessions, &s.Usage.Portfolios,
		&referralCode, &s.ReferredBy, &s.ReferralCredit, &s.ReferralCount,
		&s.LastPaymentID, &s.LastPaymentAt, &s.LastPaymentAmount,
		&s.CancelledAt, &s.CancelReason, &history, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if referralCode != nil {
		s.ReferralCode = *referralCode
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &s.UpgradeHistory); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return s, nil
}
