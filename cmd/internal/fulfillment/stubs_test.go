package fulfillment

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ticketpay/cmd/identity"
	"ticketpay/cmd/internal/billing"
	"ticketpay/cmd/internal/notify"
	"ticketpay/cmd/internal/payment/provider"

	"github.com/shopspring/decimal"
)

type stubProvider struct {
	name       string
	configured bool

	mu    sync.Mutex
	res   provider.Result
	err   error
	block chan struct{}

	calls atomic.Int32
}

func (p *stubProvider) Name() string       { return p.name }
func (p *stubProvider) IsConfigured() bool { return p.configured }

func (p *stubProvider) Verify(_ context.Context, reference, _ string) (provider.Result, error) {
	p.calls.Add(1)
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return provider.Result{}, p.err
	}
	res := p.res
	res.Reference = reference
	return res, nil
}

func (p *stubProvider) set(res provider.Result) {
	p.mu.Lock()
	p.res = res
	p.mu.Unlock()
}

// faultyBilling wraps the in-memory store with injectable failures.
type faultyBilling struct {
	*billing.InMemoryStore

	upsertErr   error
	markErr     error
	registerErr error

	// afterUpsert runs once a payment row has been written.
	afterUpsert func()

	markCalls atomic.Int32
}

func (f *faultyBilling) UpsertPayment(ctx context.Context, p billing.Payment) (billing.UpsertPaymentResult, error) {
	if f.upsertErr != nil {
		return billing.UpsertPaymentResult{}, f.upsertErr
	}
	res, err := f.InMemoryStore.UpsertPayment(ctx, p)
	if err == nil && f.afterUpsert != nil {
		f.afterUpsert()
	}
	return res, err
}

func (f *faultyBilling) MarkOrderFulfilled(ctx context.Context, orderNumber string, paidAt time.Time) (billing.Order, error) {
	f.markCalls.Add(1)
	if f.markErr != nil {
		return billing.Order{}, f.markErr
	}
	return f.InMemoryStore.MarkOrderFulfilled(ctx, orderNumber, paidAt)
}

func (f *faultyBilling) InsertRegistration(ctx context.Context, r billing.Registration) (billing.Registration, error) {
	if f.registerErr != nil {
		return billing.Registration{}, f.registerErr
	}
	return f.InMemoryStore.InsertRegistration(ctx, r)
}

// faultyProfiles wraps the in-memory profile store.
type faultyProfiles struct {
	*identity.InMemoryStore

	// createErr is returned by CreateProfile instead of inserting.
	createErr error
	// hideOnLookup makes the first lookup miss even if a row exists (race simulation).
	hideOnLookup atomic.Bool

	creates atomic.Int32
}

func (f *faultyProfiles) GetProfileByEmail(ctx context.Context, email string) (identity.Profile, error) {
	if f.hideOnLookup.CompareAndSwap(true, false) {
		return identity.Profile{}, identity.NotFoundError{Op: "test", Resource: "profile"}
	}
	return f.InMemoryStore.GetProfileByEmail(ctx, email)
}

func (f *faultyProfiles) CreateProfile(ctx context.Context, in identity.CreateProfileInput) (identity.Profile, error) {
	f.creates.Add(1)
	if f.createErr != nil {
		return identity.Profile{}, f.createErr
	}
	return f.InMemoryStore.CreateProfile(ctx, in)
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (n *recordingNotifier) Enqueue(_ context.Context, msg notify.Message) error {
	if n.err != nil {
		return n.err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return nil
}

func (n *recordingNotifier) Close(context.Context) error { return nil }

func (n *recordingNotifier) kinds() []notify.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Kind, 0, len(n.msgs))
	for _, m := range n.msgs {
		out = append(out, m.Kind)
	}
	return out
}

type recordingPublisher struct {
	mu      sync.Mutex
	updates []StatusUpdate
}

func (p *recordingPublisher) PublishStatus(u StatusUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.updates)
}

type harness struct {
	svc       *Service
	paystack  *stubProvider
	billing   *faultyBilling
	profiles  *faultyProfiles
	notifier  *recordingNotifier
	publisher *recordingPublisher
	metrics   *Metrics
}

func newHarness(t *testing.T, env string) *harness {
	t.Helper()

	h := &harness{
		paystack:  &stubProvider{name: provider.NamePaystack, configured: true},
		billing:   &faultyBilling{InMemoryStore: billing.NewInMemoryStore()},
		profiles:  &faultyProfiles{InMemoryStore: identity.NewInMemoryStore()},
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
	}
	m, err := NewMetrics(nil)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	h.metrics = m

	reg := provider.NewRegistry(h.paystack, &stubProvider{name: provider.NameFlutterwave, configured: false})
	svc, err := NewService(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config{Env: env, PublicBaseURL: "https://tickets.example.com"},
		reg, h.billing, h.profiles,
		WithNotifier(h.notifier),
		WithPublisher(h.publisher),
		WithMetrics(m),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	h.svc = svc
	return h
}

func successResult(email, name string, amount int64, md map[string]any) provider.Result {
	paid := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	return provider.Result{
		Success:  true,
		Status:   provider.StatusSuccessful,
		Amount:   decimal.NewFromInt(amount),
		Currency: "NGN",
		Customer: provider.Customer{Email: email, Name: name},
		PaidAt:   &paid,
		Channel:  "card",
		Metadata: md,
	}
}

func (h *harness) mustCreateOrder(t *testing.T, orderNumber string, md billing.Metadata) {
	t.Helper()
	if _, err := h.billing.CreateOrder(context.Background(), billing.Order{OrderNumber: orderNumber, Metadata: md}); err != nil {
		t.Fatalf("CreateOrder(%s): %v", orderNumber, err)
	}
}
