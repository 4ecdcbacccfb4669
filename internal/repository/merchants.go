package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/set-night/subhook/internal/domain"
)

const merchantColumns = `merchant_id, merchant_account, secret_key, domain_name, pay_url, api_url, verify_signature, bot_token`

func scanMerchant(row pgx.Row) (*domain.Merchant, error) {
	var m domain.Merchant
	err := row.Scan(&m.MerchantID, &m.Account, &m.SecretKey, &m.DomainName, &m.PayURL, &m.APIURL, &m.VerifySignature, &m.BotToken)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (q *Queries) GetMerchant(ctx context.Context, merchantID int64) (*domain.Merchant, error) {
	m, err := scanMerchant(q.db.QueryRow(ctx, `SELECT `+merchantColumns+` FROM merchant_configs WHERE merchant_id = $1`, merchantID))
	if err != nil {
		return nil, notFound(err, domain.ErrMerchantNotFound)
	}
	return m, nil
}

func (q *Queries) GetMerchantByAccount(ctx context.Context, account string) (*domain.Merchant, error) {
	m, err := scanMerchant(q.db.QueryRow(ctx, `SELECT `+merchantColumns+` FROM merchant_configs WHERE merchant_account = $1`, account))
	if err != nil {
		return nil, notFound(err, domain.ErrMerchantNotFound)
	}
	return m, nil
}

func (q *Queries) GetPlan(ctx context.Context, planID int64) (*domain.Plan, error) {
	var (
		p        domain.Plan
		duration int32
	)
	err := q.db.QueryRow(ctx, `
		SELECT id, merchant_id, name, price, currency, duration_days, enabled
		FROM subscription_plans WHERE id = $1`, planID,
	).Scan(&p.ID, &p.MerchantID, &p.Name, &p.Price, &p.Currency, &duration, &p.Enabled)
	if err != nil {
		return nil, notFound(err, domain.ErrPlanNotFound)
	}
	p.DurationDays = int(duration)
	return &p, nil
}
