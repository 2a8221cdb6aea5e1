package payment

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemoGatewayAlwaysSucceeds(t *testing.T) {
	g := NewDemoGateway()

	res, err := g.RequestPayment(context.Background(), Request{AmountMinor: 10000, Currency: "RUB", IdempotencyKey: "abc"})
	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.Equal(t, "demo-abc", res.Reference)

	other, err := g.RequestPayment(context.Background(), Request{AmountMinor: 1})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(other.Reference, "demo-"))
}

func TestDemoGatewayHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDemoGateway().RequestPayment(ctx, Request{AmountMinor: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeStripe struct {
	mu              sync.Mutex
	idempotencyKeys []string
	paymentMethods  []string
}

func (f *fakeStripe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/v1/payment_intents" {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.idempotencyKeys = append(f.idempotencyKeys, r.Header.Get("Idempotency-Key"))
	f.paymentMethods = append(f.paymentMethods, r.Form.Get("payment_method"))
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.Form.Get("amount") {
	case "402":
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`))
	case "500":
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"boom"}}`))
	case "3":
		_, _ = fmt.Fprintf(w, `{"id":"pi_pending","object":"payment_intent","status":"requires_action","amount":3,"currency":%q}`, r.Form.Get("currency"))
	default:
		_, _ = fmt.Fprintf(w, `{"id":"pi_ok","object":"payment_intent","status":"succeeded","amount":%s,"currency":%q}`, r.Form.Get("amount"), r.Form.Get("currency"))
	}
}

func TestStripeGateway(t *testing.T) {
	fake := &fakeStripe{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	g := NewStripeGateway(StripeConfig{SecretKey: "sk_test_123", PaymentMethod: "pm_saved_card", BaseURL: srv.URL}, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		amount  int64
		want    Result
		wantErr error
	}{
		{name: "captured", amount: 100000, want: Result{Succeeded: true, Reference: "pi_ok"}},
		{name: "declined", amount: 402, want: Result{Succeeded: false}},
		{name: "needs action", amount: 3, want: Result{Succeeded: false, Reference: "pi_pending"}},
		{name: "provider error", amount: 500, wantErr: ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := g.RequestPayment(ctx, Request{AmountMinor: tt.amount, Currency: "RUB", UserID: 7, IdempotencyKey: tt.name})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, res)
		})
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Contains(t, fake.idempotencyKeys, "captured")
	for _, pm := range fake.paymentMethods {
		assert.Equal(t, "pm_saved_card", pm)
	}
}

func TestStripeGatewayRequiresPaymentMethod(t *testing.T) {
	fake := &fakeStripe{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	g := NewStripeGateway(StripeConfig{SecretKey: "sk_test_123", BaseURL: srv.URL}, nil)
	_, err := g.RequestPayment(context.Background(), Request{AmountMinor: 100000, Currency: "RUB"})
	assert.ErrorIs(t, err, ErrNoPaymentMethod)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Empty(t, fake.idempotencyKeys)
}

func TestStripeGatewayRejectsNonPositiveAmount(t *testing.T) {
	g := NewStripeGateway(StripeConfig{SecretKey: "sk_test_123", PaymentMethod: "pm_saved_card", BaseURL: "http://127.0.0.1:1"}, nil)
	_, err := g.RequestPayment(context.Background(), Request{AmountMinor: 0, Currency: "RUB"})
	assert.Error(t, err)
}
