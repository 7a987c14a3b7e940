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

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, gateway_order_id, gateway_payment_id, gateway_signature, user_id, subscription_id, invoice_id, plan, cycle, amount, currency, discount_amount, discount_code, referral_credit, receipt, method, status, error_detail, refund_detail, attempts, webhook_received, webhook_received_at, captured_at, request_ip, request_user_agent, created_at, updated_at`

func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.PaymentRecord) error {
	errJSON, refundJSON, err := marshalAudit(p)
	if err != nil {
		return domain.ErrInvalidArgument
	}

	const q = `
INSERT INTO payment_records (` + paymentColumns + `) VALUES (
  $1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27
) ON CONFLICT (id) DO UPDATE SET
  gateway_payment_id=NULLIF($3,''), gateway_signature=$4, subscription_id=$6, invoice_id=$7,
  method=$16, status=$17, error_detail=$18, refund_detail=$19, attempts=$20,
  webhook_received=$21, webhook_received_at=$22, captured_at=$23, updated_at=$27;`

	_, err = execSQL(ctx, r.pool, tx, q,
		p.ID, p.GatewayOrderID, p.GatewayPaymentID, p.GatewaySignature, p.UserID, p.SubscriptionID, p.InvoiceID,
		p.Plan, p.Cycle, p.Amount, p.Currency, p.DiscountAmount, p.DiscountCode, p.ReferralCreditApplied,
		p.Receipt, p.Method, p.Status, errJSON, refundJSON, p.Attempts,
		p.WebhookReceived, p.WebhookReceivedAt, p.CapturedAt, p.RequestIP, p.RequestUserAgent,
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return mapWriteErr(err)
	}
	return nil
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentRecord, error) {
	q := `SELECT ` + paymentColumns + ` FROM payment_records WHERE id=$1`
	return r.findOne(ctx, tx, q, id)
}

func (r *paymentRepo) FindByOrderID(ctx context.Context, tx repository.Tx, orderID string) (*model.PaymentRecord, error) {
	q := `SELECT ` + paymentColumns + ` FROM payment_records WHERE gateway_order_id=$1`
	return r.findOne(ctx, tx, q, orderID)
}

func (r *paymentRepo) FindByGatewayPaymentID(ctx context.Context, tx repository.Tx, paymentID string) (*model.PaymentRecord, error) {
	q := `SELECT ` + paymentColumns + ` FROM payment_records WHERE gateway_payment_id=$1`
	return r.findOne(ctx, tx, q, paymentID)
}

func (r *paymentRepo) findOne(ctx context.Context, tx repository.Tx, q string, arg interface{}) (*model.PaymentRecord, error) {
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	row, err := pickRow(ctx, r.pool, tx, q, arg)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

// UpdateStatusIf is the compare-and-swap write: the whole document is
// rewritten only while the current status is still in fromStatuses, which is
// what keeps the webhook and the synchronous verify path from double-applying
// a terminal transition.
func (r *paymentRepo) UpdateStatusIf(ctx context.Context, tx repository.Tx, p *model.PaymentRecord, fromStatuses []model.PaymentStatus) (bool, error) {
	errJSON, refundJSON, err := marshalAudit(p)
	if err != nil {
		return false, domain.ErrInvalidArgument
	}
	from := make([]string, 0, len(fromStatuses))
	for _, s := range fromStatuses {
		from = append(from, string(s))
	}

	const q = `
UPDATE payment_records
   SET gateway_payment_id = NULLIF($2,''),
       gateway_signature  = $3,
       method             = $4,
       status             = $5,
       error_detail       = $6,
       refund_detail      = $7,
       attempts           = $8,
       webhook_received   = $9,
       webhook_received_at= $10,
       captured_at        = $11,
       updated_at         = NOW()
 WHERE id = $1
   AND status = ANY($12);`

	cmd, err := execSQL(ctx, r.pool, tx, q,
		p.ID, p.GatewayPaymentID, p.GatewaySignature, p.Method, p.Status,
		errJSON, refundJSON, p.Attempts, p.WebhookReceived, p.WebhookReceivedAt, p.CapturedAt, from)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return false, err
		}
		return false, domain.ErrOperationFailed
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *paymentRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.PaymentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + paymentColumns + ` FROM payment_records WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2;`
	return r.list(ctx, tx, q, userID, limit)
}

func (r *paymentRepo) ListStaleOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + paymentColumns + ` FROM payment_records WHERE status IN ('created','pending') AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	return r.list(ctx, tx, q, olderThan, limit)
}

func (r *paymentRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.PaymentRecord, error) {
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

	var out []*model.PaymentRecord
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *paymentRepo) SumCapturedByPeriod(ctx context.Context, tx repository.Tx, period string) (int64, error) {
	const q = `SELECT COALESCE(SUM(amount),0) FROM payment_records WHERE status='captured' AND captured_at >= DATE_TRUNC($1, NOW());`
	row, err := pickRow(ctx, r.pool, tx, q, period)
	if err != nil {
		return 0, err
	}
	var sum int64
	if err := row.Scan(&sum); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return sum, nil
}

func marshalAudit(p *model.PaymentRecord) ([]byte, []byte, error) {
	var errJSON, refundJSON []byte
	var err error
	if p.Error != nil {
		if errJSON, err = json.Marshal(p.Error); err != nil {
			return nil, nil, err
		}
	}
	if p.Refund != nil {
		if refundJSON, err = json.Marshal(p.Refund); err != nil {
			return nil, nil, err
		}
	}
	return errJSON, refundJSON, nil
}

func scanPayment(row pgx.Row) (*model.PaymentRecord, error) {
	p := &model.PaymentRecord{}
	var gatewayPaymentID *string
	var errJSON, refundJSON []byte
	if err := row.Scan(
		&p.ID, &p.GatewayOrderID, &gatewayPaymentID, &p.GatewaySignature, &p.UserID, &p.SubscriptionID, &p.InvoiceID,
		&p.Plan, &p.Cycle, &p.Amount, &p.Currency, &p.DiscountAmount, &p.DiscountCode, &p.ReferralCreditApplied,
		&p.Receipt, &p.Method, &p.Status, &errJSON, &refundJSON, &p.Attempts,
		&p.WebhookReceived, &p.WebhookReceivedAt, &p.CapturedAt, &p.RequestIP, &p.RequestUserAgent,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	if gatewayPaymentID != nil {
		p.GatewayPaymentID = *gatewayPaymentID
	}
	if len(errJSON) > 0 {
		p.Error = &model.PaymentError{}
		if err := json.Unmarshal(errJSON, p.Error); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	if len(refundJSON) > 0 {
		p.Refund = &model.PaymentRefund{}
		if err := json.Unmarshal(refundJSON, p.Refund); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return p, nil
}
