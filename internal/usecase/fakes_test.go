package usecase_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	domainErrors "github.com/gastrohub/billing-service/internal/domain/errors"
	"github.com/gastrohub/billing-service/internal/domain/gateway"
	"github.com/gastrohub/billing-service/internal/domain/model"
)

// memSubscriptionRepo is an in-memory SubscriptionRepository. WithLock uses
// a per-subscription mutex so concurrency tests exercise the same mutual
// exclusion the database row lock provides.
type memSubscriptionRepo struct {
	mu    sync.Mutex
	subs  map[uuid.UUID]*model.Subscription
	locks map[uuid.UUID]*sync.Mutex

	// beforeCreate, when set, runs just before Create's uniqueness check,
	// standing in for a competing writer winning the race.
	beforeCreate func()
}

func newMemSubscriptionRepo() *memSubscriptionRepo {
	return &memSubscriptionRepo{
		subs:  make(map[uuid.UUID]*model.Subscription),
		locks: make(map[uuid.UUID]*sync.Mutex),
	}
}

// Create enforces the same one-live-subscription-per-tenant rule the
// partial unique index enforces in Postgres.
func (r *memSubscriptionRepo) Create(_ context.Context, sub *model.Subscription) error {
	if r.beforeCreate != nil {
		r.beforeCreate()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.subs {
		if existing.TenantID == sub.TenantID && !existing.Status.IsTerminal() {
			return domainErrors.ErrDuplicateSubscription
		}
	}
	cp := *sub
	r.subs[sub.ID] = &cp
	return nil
}

func (r *memSubscriptionRepo) Update(_ context.Context, sub *model.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sub
	r.subs[sub.ID] = &cp
	return nil
}

func (r *memSubscriptionRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, domainErrors.ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r *memSubscriptionRepo) GetCurrentByTenant(_ context.Context, tenantID uuid.UUID) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.TenantID == tenantID && !sub.Status.IsTerminal() {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memSubscriptionRepo) HasEverTrialed(_ context.Context, tenantID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.TenantID == tenantID && sub.TrialEndsAt != nil {
			return true, nil
		}
	}
	return false, nil
}

func (r *memSubscriptionRepo) GetByGatewaySubscriptionID(_ context.Context, gatewayName, gatewaySubID string) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.Gateway == gatewayName && sub.GatewaySubscriptionID != nil && *sub.GatewaySubscriptionID == gatewaySubID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, domainErrors.ErrSubscriptionNotFound
}

func (r *memSubscriptionRepo) FindDue(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []uuid.UUID
	for id, sub := range r.subs {
		if sub.Status.IsTerminal() {
			continue
		}
		if sub.Status == model.SubscriptionStatusSuspended {
			continue
		}
		if !sub.NextBillingDate.After(now) {
			due = append(due, id)
		}
		if limit > 0 && len(due) >= limit {
			break
		}
	}
	return due, nil
}

func (r *memSubscriptionRepo) WithLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, sub *model.Subscription) error) error {
	r.mu.Lock()
	lock, ok := r.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[id] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	stored, ok := r.subs[id]
	if !ok {
		r.mu.Unlock()
		return domainErrors.ErrSubscriptionNotFound
	}
	cp := *stored
	r.mu.Unlock()

	if err := fn(ctx, &cp); err != nil {
		return err
	}

	r.mu.Lock()
	r.subs[id] = &cp
	r.mu.Unlock()
	return nil
}

// memTransactionRepo is an in-memory append-only ledger.
type memTransactionRepo struct {
	mu  sync.Mutex
	txs []*model.Transaction
}

func newMemTransactionRepo() *memTransactionRepo {
	return &memTransactionRepo{}
}

func (r *memTransactionRepo) Create(_ context.Context, tx *model.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *tx
	cp.ID = int64(len(r.txs) + 1)
	cp.CreatedAt = time.Now().UTC()
	r.txs = append(r.txs, &cp)
	return nil
}

func (r *memTransactionRepo) UpdateStatus(_ context.Context, id int64, status model.TransactionStatus, gatewayTxID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.txs {
		if tx.ID == id && tx.Status == model.TransactionStatusPending {
			tx.Status = status
			if gatewayTxID != "" {
				tx.GatewayTransactionID = gatewayTxID
			}
			return nil
		}
	}
	return nil
}

func (r *memTransactionRepo) ListBySubscription(_ context.Context, subscriptionID uuid.UUID, limit int) ([]*model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Transaction
	for _, tx := range r.txs {
		if tx.SubscriptionID == subscriptionID {
			cp := *tx
			out = append(out, &cp)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *memTransactionRepo) all() []*model.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Transaction, len(r.txs))
	copy(out, r.txs)
	return out
}

// memPlanRepo serves a fixed plan catalog.
type memPlanRepo struct {
	plans map[string]*model.Plan
}

func newMemPlanRepo(plans ...*model.Plan) *memPlanRepo {
	r := &memPlanRepo{plans: make(map[string]*model.Plan)}
	for _, p := range plans {
		r.plans[p.ID] = p
	}
	return r
}

func (r *memPlanRepo) GetByID(_ context.Context, id string) (*model.Plan, error) {
	p, ok := r.plans[id]
	if !ok {
		return nil, domainErrors.ErrPlanNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memPlanRepo) ListActive(_ context.Context) ([]*model.Plan, error) {
	var out []*model.Plan
	for _, p := range r.plans {
		if p.IsActive {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// memTenantRepo serves a fixed tenant directory.
type memTenantRepo struct {
	tenants map[uuid.UUID]*model.Tenant
}

func newMemTenantRepo(tenants ...*model.Tenant) *memTenantRepo {
	r := &memTenantRepo{tenants: make(map[uuid.UUID]*model.Tenant)}
	for _, t := range tenants {
		r.tenants[t.ID] = t
	}
	return r
}

func (r *memTenantRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Tenant, error) {
	t, ok := r.tenants[id]
	if !ok {
		return nil, domainErrors.ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

// memWebhookRepo deduplicates on the provider event id like the unique
// index does in Postgres.
type memWebhookRepo struct {
	mu     sync.Mutex
	events map[string]*model.WebhookEvent
}

func newMemWebhookRepo() *memWebhookRepo {
	return &memWebhookRepo{events: make(map[string]*model.WebhookEvent)}
}

func (r *memWebhookRepo) SaveEvent(_ context.Context, gatewayName, eventID, eventType string, payload json.RawMessage) (*model.WebhookEvent, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.events[eventID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	var body model.JSONB
	_ = json.Unmarshal(payload, &body)
	ev := &model.WebhookEvent{
		ProviderEventID: eventID,
		Gateway:         gatewayName,
		EventType:       eventType,
		Status:          model.WebhookStatusPending,
		Payload:         body,
		CreatedAt:       time.Now().UTC(),
	}
	r.events[eventID] = ev
	cp := *ev
	return &cp, true, nil
}

func (r *memWebhookRepo) MarkProcessed(_ context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev, ok := r.events[eventID]; ok {
		now := time.Now().UTC()
		ev.Status = model.WebhookStatusCompleted
		ev.ProcessedAt = &now
	}
	return nil
}

func (r *memWebhookRepo) MarkFailed(_ context.Context, eventID string, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev, ok := r.events[eventID]; ok {
		msg := cause.Error()
		retry := time.Now().UTC().Add(5 * time.Minute)
		ev.Status = model.WebhookStatusFailed
		ev.LastError = &msg
		ev.ProcessingAttempts++
		ev.NextRetryAt = &retry
	}
	return nil
}

func (r *memWebhookRepo) GetPendingEvents(_ context.Context, olderThan time.Time, limit int) ([]*model.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	var out []*model.WebhookEvent
	for _, ev := range r.events {
		if ev.Status != model.WebhookStatusPending && ev.Status != model.WebhookStatusFailed {
			continue
		}
		if ev.CreatedAt.After(olderThan) {
			continue
		}
		if ev.NextRetryAt != nil && ev.NextRetryAt.After(now) {
			continue
		}
		cp := *ev
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// fakeAdapter is a programmable gateway adapter. Charge outcomes are
// scripted per call; charge counts are tracked for idempotency assertions.
type fakeAdapter struct {
	mu   sync.Mutex
	name string

	createResult *gateway.Result
	createErr    error

	chargeResults []*gateway.Result
	chargeErr     error
	chargeCount   int

	canceled []string

	webhookNotif *gateway.WebhookNotification
	webhookErr   error
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{name: name}
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) CreateSubscription(_ context.Context, _ *gateway.CreateSubscriptionRequest) (*gateway.Result, error) {
	if a.createErr != nil {
		return nil, a.createErr
	}
	if a.createResult != nil {
		return a.createResult, nil
	}
	return &gateway.Result{
		Success:               true,
		Status:                gateway.StatusActive,
		GatewaySubscriptionID: "gw_sub_" + uuid.New().String()[:8],
		TransactionID:         "gw_tx_" + uuid.New().String()[:8],
	}, nil
}

func (a *fakeAdapter) nextCharge() (*gateway.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.chargeCount++
	if a.chargeErr != nil {
		return nil, a.chargeErr
	}
	if len(a.chargeResults) > 0 {
		res := a.chargeResults[0]
		if len(a.chargeResults) > 1 {
			a.chargeResults = a.chargeResults[1:]
		}
		return res, nil
	}
	return &gateway.Result{
		Success:       true,
		Status:        gateway.StatusActive,
		TransactionID: "gw_tx_" + uuid.New().String()[:8],
	}, nil
}

func (a *fakeAdapter) ProcessRecurringCharge(_ context.Context, _ *gateway.ChargeRequest) (*gateway.Result, error) {
	return a.nextCharge()
}

func (a *fakeAdapter) ProcessOneTimeCharge(_ context.Context, _ *gateway.ChargeRequest) (*gateway.Result, error) {
	return a.nextCharge()
}

func (a *fakeAdapter) CancelSubscription(_ context.Context, gatewaySubID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.canceled = append(a.canceled, gatewaySubID)
	return nil
}

func (a *fakeAdapter) ValidateWebhookSignature(_ []byte, signature string) error {
	if signature == "invalid" {
		return domainErrors.ErrInvalidSignature
	}
	return nil
}

func (a *fakeAdapter) HandleWebhook(_ context.Context, payload []byte, signature string) (*gateway.WebhookNotification, error) {
	if err := a.ValidateWebhookSignature(payload, signature); err != nil {
		return nil, err
	}
	if a.webhookErr != nil {
		return nil, a.webhookErr
	}
	if a.webhookNotif != nil {
		return a.webhookNotif, nil
	}
	var notif gateway.WebhookNotification
	if err := json.Unmarshal(payload, &notif); err != nil {
		return nil, err
	}
	notif.Gateway = a.name
	notif.Raw = payload
	return &notif, nil
}

func (a *fakeAdapter) charges() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chargeCount
}

// fakeRouter routes by adapter name.
type fakeRouter struct {
	adapters map[string]gateway.Adapter
}

func newFakeRouter(adapters ...gateway.Adapter) *fakeRouter {
	r := &fakeRouter{adapters: make(map[string]gateway.Adapter)}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *fakeRouter) Adapter(name string) (gateway.Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, domainErrors.ErrGatewayUnsupported
	}
	return a, nil
}

func (r *fakeRouter) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	return names
}
