package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/set-night/subhook/internal/domain"
	"github.com/set-night/subhook/internal/repository"
)

type pairKey struct{ payer, merchant int64 }

type memState struct {
	invoices  map[string]*domain.Invoice
	subs      map[pairKey]*domain.Subscription
	payers    map[pairKey]*domain.VerifiedPayer
	plans     map[int64]*domain.Plan
	merchants map[int64]*domain.Merchant
	nextID    int64
}

func newMemState() *memState {
	return &memState{
		invoices:  map[string]*domain.Invoice{},
		subs:      map[pairKey]*domain.Subscription{},
		payers:    map[pairKey]*domain.VerifiedPayer{},
		plans:     map[int64]*domain.Plan{},
		merchants: map[int64]*domain.Merchant{},
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	c.nextID = s.nextID
	for k, v := range s.invoices {
		cp := *v
		c.invoices[k] = &cp
	}
	for k, v := range s.subs {
		cp := *v
		c.subs[k] = &cp
	}
	for k, v := range s.payers {
		cp := *v
		c.payers[k] = &cp
	}
	for k, v := range s.plans {
		cp := *v
		c.plans[k] = &cp
	}
	for k, v := range s.merchants {
		cp := *v
		c.merchants[k] = &cp
	}
	return c
}

// memStore is a transactional in-memory Store. Transactions run one at a
// time against a private copy that replaces the live state on commit.
type memStore struct {
	*memQuerier
	txMu    sync.Mutex
	mu      sync.Mutex
	live    *memState
	failOps map[string]error
	commits int
}

func newMemStore() *memStore {
	s := &memStore{live: newMemState(), failOps: map[string]error{}}
	s.memQuerier = &memQuerier{st: s.live, mu: &s.mu, store: s}
	return s
}

func (s *memStore) InTx(ctx context.Context, fn func(q repository.Querier) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	work := s.live.clone()
	s.mu.Unlock()

	if err := fn(&memQuerier{st: work, store: s}); err != nil {
		return err
	}

	s.mu.Lock()
	*s.live = *work
	s.commits++
	s.mu.Unlock()
	return nil
}

func (s *memStore) Ping(context.Context) error { return nil }

func (s *memStore) failOn(op string, err error) { s.failOps[op] = err }

// snapshot helpers for assertions

func (s *memStore) invoice(ref string) *domain.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.live.invoices[ref]
	if !ok {
		return nil
	}
	cp := *inv
	return &cp
}

func (s *memStore) subscription(payer, merchant int64) *domain.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.live.subs[pairKey{payer, merchant}]
	if !ok {
		return nil
	}
	cp := *sub
	return &cp
}

func (s *memStore) subscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live.subs)
}

func (s *memStore) verifiedPayer(payer, merchant int64) *domain.VerifiedPayer {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.live.payers[pairKey{payer, merchant}]
	if !ok {
		return nil
	}
	cp := *v
	return &cp
}

func (s *memStore) putInvoice(inv domain.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live.nextID++
	inv.ID = s.live.nextID
	s.live.invoices[inv.OrderReference] = &inv
}

func (s *memStore) putSubscription(sub domain.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live.nextID++
	sub.ID = s.live.nextID
	s.live.subs[pairKey{sub.PayerID, sub.MerchantID}] = &sub
}

func (s *memStore) putPlan(p domain.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live.plans[p.ID] = &p
}

func (s *memStore) putMerchant(m domain.Merchant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live.merchants[m.MerchantID] = &m
}

func (s *memStore) dropMerchant(merchantID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live.merchants, merchantID)
}

type memQuerier struct {
	st    *memState
	mu    *sync.Mutex
	store *memStore
}

func (q *memQuerier) enter(op string) (func(), error) {
	if err, ok := q.store.failOps[op]; ok {
		return func() {}, err
	}
	if q.mu == nil {
		return func() {}, nil
	}
	q.mu.Lock()
	return q.mu.Unlock, nil
}

func (q *memQuerier) GetInvoice(_ context.Context, ref string) (*domain.Invoice, error) {
	done, err := q.enter("GetInvoice")
	defer done()
	if err != nil {
		return nil, err
	}
	inv, ok := q.st.invoices[ref]
	if !ok {
		return nil, domain.ErrInvoiceNotFound
	}
	cp := *inv
	return &cp, nil
}

func (q *memQuerier) GetInvoiceForUpdate(ctx context.Context, ref string) (*domain.Invoice, error) {
	if err, ok := q.store.failOps["GetInvoiceForUpdate"]; ok {
		return nil, err
	}
	return q.GetInvoice(ctx, ref)
}

func (q *memQuerier) InsertInvoice(_ context.Context, arg repository.InsertInvoiceParams) (bool, error) {
	done, err := q.enter("InsertInvoice")
	defer done()
	if err != nil {
		return false, err
	}
	if _, ok := q.st.invoices[arg.OrderReference]; ok {
		return false, nil
	}
	q.st.nextID++
	now := time.Now()
	q.st.invoices[arg.OrderReference] = &domain.Invoice{
		ID:                q.st.nextID,
		OrderReference:    arg.OrderReference,
		PayerID:           arg.PayerID,
		PlanID:            arg.PlanID,
		MerchantID:        arg.MerchantID,
		Amount:            arg.Amount,
		Currency:          arg.Currency,
		Status:            arg.Status,
		PlanDurationDays:  arg.PlanDurationDays,
		RawRequestPayload: arg.RawRequestPayload,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	return true, nil
}

func (q *memQuerier) ClaimInvoice(_ context.Context, ref string) (bool, error) {
	done, err := q.enter("ClaimInvoice")
	defer done()
	if err != nil {
		return false, err
	}
	inv, ok := q.st.invoices[ref]
	if !ok || inv.Status != domain.InvoiceStatusPending {
		return false, nil
	}
	inv.Status = domain.InvoiceStatusProcessing
	return true, nil
}

func (q *memQuerier) TransitionInvoice(_ context.Context, arg repository.TransitionInvoiceParams) (bool, error) {
	done, err := q.enter("TransitionInvoice")
	defer done()
	if err != nil {
		return false, err
	}
	inv, ok := q.st.invoices[arg.OrderReference]
	if !ok || inv.Status != arg.From {
		return false, nil
	}
	inv.Status = arg.To
	if arg.PaidAt != nil {
		inv.PaidAt = arg.PaidAt
	}
	if arg.TransactionID != "" {
		inv.TransactionID = arg.TransactionID
	}
	if arg.RecToken != "" {
		inv.RecToken = arg.RecToken
	}
	if arg.RawResponse != nil {
		inv.RawResponsePayload = arg.RawResponse
	}
	if arg.NotifiedAt != nil {
		inv.NotifiedAt = arg.NotifiedAt
	}
	return true, nil
}

func (q *memQuerier) MergeInvoiceAudit(_ context.Context, ref string, a domain.InvoiceAudit) error {
	done, err := q.enter("MergeInvoiceAudit")
	defer done()
	if err != nil {
		return err
	}
	if inv, ok := q.st.invoices[ref]; ok {
		a.IssuerCountry = domain.NormalizeIssuerCountry(a.IssuerCountry)
		inv.Audit = inv.Audit.MergeIfEmpty(a)
	}
	return nil
}

func (q *memQuerier) RecordInvoiceSnapshot(_ context.Context, ref string, raw []byte, notifiedAt time.Time) error {
	done, err := q.enter("RecordInvoiceSnapshot")
	defer done()
	if err != nil {
		return err
	}
	if inv, ok := q.st.invoices[ref]; ok && inv.Status != domain.InvoiceStatusApproved {
		inv.RawResponsePayload = raw
		inv.NotifiedAt = &notifiedAt
	}
	return nil
}

func (q *memQuerier) SetInvoiceRequestPayload(_ context.Context, ref string, raw []byte) error {
	done, err := q.enter("SetInvoiceRequestPayload")
	defer done()
	if err != nil {
		return err
	}
	if inv, ok := q.st.invoices[ref]; ok {
		inv.RawRequestPayload = raw
	}
	return nil
}

func (q *memQuerier) LinkInvoiceSubscription(_ context.Context, ref string, subscriptionID int64) error {
	done, err := q.enter("LinkInvoiceSubscription")
	defer done()
	if err != nil {
		return err
	}
	if inv, ok := q.st.invoices[ref]; ok {
		id := subscriptionID
		inv.SubscriptionID = &id
	}
	return nil
}

func (q *memQuerier) HasRecentApproval(_ context.Context, arg repository.HasRecentApprovalParams) (bool, error) {
	done, err := q.enter("HasRecentApproval")
	defer done()
	if err != nil {
		return false, err
	}
	for _, inv := range q.st.invoices {
		if inv.PayerID == arg.PayerID && inv.MerchantID == arg.MerchantID &&
			inv.Status == domain.InvoiceStatusApproved && inv.PaidAt != nil &&
			!inv.PaidAt.Before(arg.Since) && inv.OrderReference != arg.ExcludeRef {
			return true, nil
		}
	}
	return false, nil
}

func (q *memQuerier) GetSubscriptionForUpdate(_ context.Context, payerID, merchantID int64) (*domain.Subscription, error) {
	done, err := q.enter("GetSubscriptionForUpdate")
	defer done()
	if err != nil {
		return nil, err
	}
	sub, ok := q.st.subs[pairKey{payerID, merchantID}]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (q *memQuerier) InsertSubscription(_ context.Context, s *domain.Subscription) (int64, bool, error) {
	done, err := q.enter("InsertSubscription")
	defer done()
	if err != nil {
		return 0, false, err
	}
	key := pairKey{s.PayerID, s.MerchantID}
	if _, ok := q.st.subs[key]; ok {
		return 0, false, nil
	}
	q.st.nextID++
	cp := *s
	cp.ID = q.st.nextID
	q.st.subs[key] = &cp
	return cp.ID, true, nil
}

func (q *memQuerier) UpdateSubscription(_ context.Context, s *domain.Subscription) error {
	done, err := q.enter("UpdateSubscription")
	defer done()
	if err != nil {
		return err
	}
	for key, cur := range q.st.subs {
		if cur.ID == s.ID {
			cp := *s
			cp.PlanID = cur.PlanID
			q.st.subs[key] = &cp
			return nil
		}
	}
	return errors.New("subscription row vanished")
}

func (q *memQuerier) GetPlan(_ context.Context, planID int64) (*domain.Plan, error) {
	done, err := q.enter("GetPlan")
	defer done()
	if err != nil {
		return nil, err
	}
	p, ok := q.st.plans[planID]
	if !ok {
		return nil, domain.ErrPlanNotFound
	}
	cp := *p
	return &cp, nil
}

func (q *memQuerier) GetMerchant(_ context.Context, merchantID int64) (*domain.Merchant, error) {
	done, err := q.enter("GetMerchant")
	defer done()
	if err != nil {
		return nil, err
	}
	m, ok := q.st.merchants[merchantID]
	if !ok {
		return nil, domain.ErrMerchantNotFound
	}
	cp := *m
	return &cp, nil
}

func (q *memQuerier) GetMerchantByAccount(_ context.Context, account string) (*domain.Merchant, error) {
	done, err := q.enter("GetMerchantByAccount")
	defer done()
	if err != nil {
		return nil, err
	}
	for _, m := range q.st.merchants {
		if m.Account == account {
			cp := *m
			return &cp, nil
		}
	}
	return nil, domain.ErrMerchantNotFound
}

func (q *memQuerier) GetVerifiedPayerForUpdate(_ context.Context, payerID, merchantID int64) (*domain.VerifiedPayer, error) {
	done, err := q.enter("GetVerifiedPayerForUpdate")
	defer done()
	if err != nil {
		return nil, err
	}
	v, ok := q.st.payers[pairKey{payerID, merchantID}]
	if !ok {
		return nil, domain.ErrVerifiedPayerNotFound
	}
	cp := *v
	return &cp, nil
}

func (q *memQuerier) InsertVerifiedPayer(_ context.Context, v *domain.VerifiedPayer) (bool, error) {
	done, err := q.enter("InsertVerifiedPayer")
	defer done()
	if err != nil {
		return false, err
	}
	key := pairKey{v.PayerID, v.MerchantID}
	if _, ok := q.st.payers[key]; ok {
		return false, nil
	}
	q.st.nextID++
	v.ID = q.st.nextID
	cp := *v
	q.st.payers[key] = &cp
	return true, nil
}

func (q *memQuerier) UpdateVerifiedPayer(_ context.Context, v *domain.VerifiedPayer) error {
	done, err := q.enter("UpdateVerifiedPayer")
	defer done()
	if err != nil {
		return err
	}
	cp := *v
	q.st.payers[pairKey{v.PayerID, v.MerchantID}] = &cp
	return nil
}

func (q *memQuerier) inWindow(inv *domain.Invoice, f repository.MonitoringFilter) bool {
	if inv.NotifiedAt == nil || inv.NotifiedAt.Before(f.Since) {
		return false
	}
	return f.MerchantID == nil || *f.MerchantID == inv.MerchantID
}

func (q *memQuerier) CountNotifiedInvoices(_ context.Context, f repository.MonitoringFilter) (int64, int64, error) {
	done, err := q.enter("CountNotifiedInvoices")
	defer done()
	if err != nil {
		return 0, 0, err
	}
	var total, declined int64
	for _, inv := range q.st.invoices {
		if !q.inWindow(inv, f) {
			continue
		}
		total++
		if inv.Status == domain.InvoiceStatusDeclined {
			declined++
		}
	}
	return total, declined, nil
}

func (q *memQuerier) ListSuccessBursts(_ context.Context, f repository.MonitoringFilter, threshold int) ([]domain.SuccessBurst, error) {
	done, err := q.enter("ListSuccessBursts")
	defer done()
	if err != nil {
		return nil, err
	}
	counts := map[pairKey]int64{}
	for _, inv := range q.st.invoices {
		if q.inWindow(inv, f) && inv.Status == domain.InvoiceStatusApproved {
			counts[pairKey{inv.PayerID, inv.MerchantID}]++
		}
	}
	var out []domain.SuccessBurst
	for k, c := range counts {
		if c >= int64(threshold) {
			out = append(out, domain.SuccessBurst{MerchantID: k.merchant, PayerID: k.payer, Count: c})
		}
	}
	return out, nil
}

func (q *memQuerier) ListNotifiedInvoices(_ context.Context, f repository.MonitoringFilter) ([]*domain.Invoice, error) {
	done, err := q.enter("ListNotifiedInvoices")
	defer done()
	if err != nil {
		return nil, err
	}
	var out []*domain.Invoice
	for _, inv := range q.st.invoices {
		if q.inWindow(inv, f) {
			cp := *inv
			out = append(out, &cp)
		}
	}
	return out, nil
}

var _ repository.Store = (*memStore)(nil)
