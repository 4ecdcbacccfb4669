package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/set-night/subhook/internal/domain"
)

// Querier is the statement set used by the billing services.
type Querier interface {
	GetInvoice(ctx context.Context, orderReference string) (*domain.Invoice, error)
	GetInvoiceForUpdate(ctx context.Context, orderReference string) (*domain.Invoice, error)
	InsertInvoice(ctx context.Context, arg InsertInvoiceParams) (bool, error)
	ClaimInvoice(ctx context.Context, orderReference string) (bool, error)
	TransitionInvoice(ctx context.Context, arg TransitionInvoiceParams) (bool, error)
	MergeInvoiceAudit(ctx context.Context, orderReference string, a domain.InvoiceAudit) error
	RecordInvoiceSnapshot(ctx context.Context, orderReference string, raw []byte, notifiedAt time.Time) error
	SetInvoiceRequestPayload(ctx context.Context, orderReference string, raw []byte) error
	LinkInvoiceSubscription(ctx context.Context, orderReference string, subscriptionID int64) error
	HasRecentApproval(ctx context.Context, arg HasRecentApprovalParams) (bool, error)

	GetSubscriptionForUpdate(ctx context.Context, payerID, merchantID int64) (*domain.Subscription, error)
	InsertSubscription(ctx context.Context, s *domain.Subscription) (int64, bool, error)
	UpdateSubscription(ctx context.Context, s *domain.Subscription) error

	GetPlan(ctx context.Context, planID int64) (*domain.Plan, error)
	GetMerchant(ctx context.Context, merchantID int64) (*domain.Merchant, error)
	GetMerchantByAccount(ctx context.Context, account string) (*domain.Merchant, error)

	GetVerifiedPayerForUpdate(ctx context.Context, payerID, merchantID int64) (*domain.VerifiedPayer, error)
	InsertVerifiedPayer(ctx context.Context, v *domain.VerifiedPayer) (bool, error)
	UpdateVerifiedPayer(ctx context.Context, v *domain.VerifiedPayer) error

	CountNotifiedInvoices(ctx context.Context, f MonitoringFilter) (int64, int64, error)
	ListSuccessBursts(ctx context.Context, f MonitoringFilter, threshold int) ([]domain.SuccessBurst, error)
	ListNotifiedInvoices(ctx context.Context, f MonitoringFilter) ([]*domain.Invoice, error)
}

// Store adds transactions on top of Querier.
type Store interface {
	Querier
	// InTx runs fn in one transaction. Any error from fn rolls it back.
	InTx(ctx context.Context, fn func(q Querier) error) error
	Ping(ctx context.Context) error
}

type PgStore struct {
	*Queries
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{Queries: New(pool), pool: pool}
}

func (s *PgStore) InTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(s.Queries.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var _ Store = (*PgStore)(nil)
