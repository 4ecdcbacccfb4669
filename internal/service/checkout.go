package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/set-night/subhook/internal/config"
	"github.com/set-night/subhook/internal/domain"
	"github.com/set-night/subhook/internal/repository"
	"github.com/set-night/subhook/internal/wayforpay"
)

// InvoiceCreator posts a signed invoice request to the provider.
type InvoiceCreator interface {
	CreateInvoice(ctx context.Context, payload map[string]any) (string, error)
}

type CheckoutRequest struct {
	MerchantID int64
	PayerID    int64
	PlanID     int64
	Phone      string
	Email      string
}

type Checkout struct {
	OrderReference string
	InvoiceURL     string
	Amount         decimal.Decimal
	Currency       string
}

type CheckoutService struct {
	store     repository.Store
	codec     *wayforpay.Codec
	fallback  *domain.Merchant
	expansion wayforpay.ListExpansion
	newClient func(apiURL string) InvoiceCreator
	now       func() time.Time
}

func NewCheckoutService(store repository.Store, fallback *domain.Merchant, expansion wayforpay.ListExpansion) *CheckoutService {
	return &CheckoutService{
		store:     store,
		codec:     wayforpay.NewCodec(),
		fallback:  fallback,
		expansion: expansion,
		newClient: func(apiURL string) InvoiceCreator {
			return wayforpay.NewClient(apiURL, config.ProviderRequestTimeout)
		},
		now: time.Now,
	}
}

// CreateInvoice records a NEW invoice, asks the provider for a hosted
// checkout and moves the invoice to PENDING once a URL is returned.
func (s *CheckoutService) CreateInvoice(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	merchant, err := s.merchant(ctx, req.MerchantID)
	if err != nil {
		return nil, err
	}

	plan, err := s.store.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	if plan.MerchantID != req.MerchantID {
		return nil, fmt.Errorf("plan %d for merchant %d: %w", plan.ID, req.MerchantID, domain.ErrPlanNotFound)
	}
	if !plan.Enabled {
		return nil, fmt.Errorf("plan %d: %w", plan.ID, domain.ErrPlanDisabled)
	}
	if plan.DurationDays <= 0 {
		return nil, fmt.Errorf("plan %d: %w", plan.ID, domain.ErrInvalidDuration)
	}
	currency := plan.Currency
	if currency == "" {
		currency = config.DefaultCurrency
	}

	now := s.now()
	ref, err := s.codec.Encode(req.MerchantID, req.PayerID, plan.ID, now)
	if err != nil {
		return nil, err
	}

	signer := wayforpay.NewSigner(merchant.SecretKey, s.expansion)
	payload := wayforpay.BuildInvoicePayload(signer, wayforpay.InvoiceRequest{
		MerchantAccount: merchant.Account,
		DomainName:      merchant.DomainName,
		OrderReference:  ref,
		OrderDate:       now,
		Amount:          plan.Price,
		Currency:        currency,
		ProductName:     []string{plan.Name},
		ProductCount:    []int{1},
		ProductPrice:    []decimal.Decimal{plan.Price},
		ReturnURL:       merchant.ReturnURL(),
		ServiceURL:      merchant.ServiceURL(),
		ClientPhone:     req.Phone,
		ClientEmail:     req.Email,
	})
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal invoice request: %w", err)
	}

	duration := plan.DurationDays
	inserted, err := s.store.InsertInvoice(ctx, repository.InsertInvoiceParams{
		OrderReference:    ref,
		PayerID:           req.PayerID,
		PlanID:            plan.ID,
		MerchantID:        req.MerchantID,
		Amount:            plan.Price,
		Currency:          currency,
		Status:            domain.InvoiceStatusNew,
		PlanDurationDays:  &duration,
		RawRequestPayload: raw,
	})
	if err != nil {
		return nil, persistenceFault(err)
	}
	if !inserted {
		return nil, fmt.Errorf("%w: order reference %s already exists", domain.ErrPersistenceFault, ref)
	}

	url, err := s.newClient(merchant.APIURL).CreateInvoice(ctx, payload)
	if err != nil {
		slog.Warn("provider invoice creation failed", "order_reference", ref, "error", err)
		return nil, fmt.Errorf("create provider invoice: %w", err)
	}

	if _, err := s.store.TransitionInvoice(ctx, repository.TransitionInvoiceParams{
		OrderReference: ref,
		From:           domain.InvoiceStatusNew,
		To:             domain.InvoiceStatusPending,
	}); err != nil {
		return nil, persistenceFault(err)
	}

	slog.Info("invoice created",
		"order_reference", ref, "merchant_id", req.MerchantID, "payer_id", req.PayerID,
		"plan_id", plan.ID, "amount", plan.Price.String(), "currency", currency)
	return &Checkout{OrderReference: ref, InvoiceURL: url, Amount: plan.Price, Currency: currency}, nil
}

// InvoiceStatus backs the return page.
func (s *CheckoutService) InvoiceStatus(ctx context.Context, orderReference string) (domain.InvoiceStatus, error) {
	inv, err := s.store.GetInvoice(ctx, wayforpay.Normalize(orderReference))
	if err != nil {
		return "", err
	}
	return inv.Status, nil
}

func (s *CheckoutService) merchant(ctx context.Context, merchantID int64) (*domain.Merchant, error) {
	m, err := s.store.GetMerchant(ctx, merchantID)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, domain.ErrMerchantNotFound) {
		return nil, persistenceFault(err)
	}
	if s.fallback == nil || s.fallback.SecretKey == "" {
		return nil, fmt.Errorf("merchant %d: %w", merchantID, domain.ErrMerchantNotFound)
	}
	slog.Info("merchant config missing, using fallback account", "merchant_id", merchantID)
	return s.fallback, nil
}
