package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"kawadi-core/internal/gateway"
	"kawadi-core/internal/handler"
	"kawadi-core/internal/model"
	"kawadi-core/internal/service/credit"
	"kawadi-core/internal/service/impact"
	"kawadi-core/internal/service/payment"
	"kawadi-core/internal/service/pickup"
	"kawadi-core/internal/service/purchase"
	"kawadi-core/internal/service/settlement"
	"kawadi-core/internal/testutil"
	"kawadi-core/pkg/cache"
	"kawadi-core/pkg/config"
	"kawadi-core/pkg/errno"
	"kawadi-core/pkg/money"
	"kawadi-core/pkg/utils/lock"
)

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type testApp struct {
	db      *gorm.DB
	credits *credit.Service
	router  *gin.Engine
	khalti  *httptest.Server
}

// newTestApp wires the real services over sqlite and a fake Khalti that
// reports every lookup as a completed Rs 1000 payment.
func newTestApp(t *testing.T) *testApp {
	gin.SetMode(gin.TestMode)
	db := testutil.NewDB(t)
	clock := testutil.NewClock()

	khalti := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/epayment/initiate/":
			_, _ = w.Write([]byte(`{"pidx":"pidx-http-1","payment_url":"https://pay.khalti.test/pidx-http-1"}`))
		case "/epayment/lookup/":
			_, _ = w.Write([]byte(`{"pidx":"pidx-http-1","total_amount":100000,"status":"Completed","transaction_id":"k-1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(khalti.Close)

	credits := credit.NewService(db, credit.WithClock(clock.Now))
	catalog := purchase.NewCatalog(db, cache.NewMemoryCache(time.Minute, time.Minute))
	purchases := purchase.NewService(db, credits, catalog, clock.Now)
	pickups := pickup.NewService(db, nil, clock.Now)
	settle := settlement.NewService(db, credits,
		settlement.WithClock(clock.Now),
		settlement.WithImpactTrigger(impact.NewService(db)))

	logs := gateway.NewGormLogStore(db)
	registry := gateway.NewRegistry(
		gateway.NewAudited(gateway.NewKhalti(config.KhaltiConfig{BaseURL: khalti.URL, SecretKey: "test"}, time.Second), logs),
		gateway.NewManual(model.MethodBankTransfer),
	)
	payments := payment.NewService(db, registry, purchases, lock.NewLocalLock(), nil, clock.Now)

	router := NewHTTPRouter(Handlers{
		Health:  handler.NewHealthHandler(db),
		Pickup:  handler.NewPickupHandler(pickups, settle),
		Credit:  handler.NewCreditHandler(credits, catalog, payments),
		Payment: handler.NewPaymentHandler(payments),
		Admin:   handler.NewAdminHandler(payments),
	}, config.RateLimitConfig{})

	return &testApp{db: db, credits: credits, router: router, khalti: khalti}
}

func (a *testApp) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func TestHealth(t *testing.T) {
	app := newTestApp(t)
	code, env := app.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"UP"`)
}

func TestPickupLifecycleOverHTTP(t *testing.T) {
	app := newTestApp(t)
	cat := testutil.SeedCategory(t, app.db, "Plastic", "10")

	code, env := app.do(t, http.MethodPost, "/api/v1/pickups", gin.H{
		"customer_id": 1, "category_id": cat.ID, "estimated_weight": "5.25",
	})
	require.Equal(t, http.StatusOK, code, env.Msg)
	var p model.PickupRequest
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, "52.50", p.EstimatedPrice.String())
	base := "/api/v1/pickups/" + strconv.FormatUint(p.ID, 10)

	code, _ = app.do(t, http.MethodPost, base+"/assign", gin.H{"collector_id": 2})
	require.Equal(t, http.StatusOK, code)
	code, _ = app.do(t, http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusOK, code)

	code, env = app.do(t, http.MethodPost, base+"/complete", gin.H{"actual_weight": "5", "payment_method": "cash"})
	require.Equal(t, http.StatusOK, code, env.Msg)
	var res struct {
		Transaction model.Transaction `json:"transaction"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "50.00", res.Transaction.Amount.String())
	assert.Equal(t, "5.00", res.Transaction.CollectorCommission.String())
	assert.True(t, res.Transaction.IsPaid)

	code, env = app.do(t, http.MethodPost, base+"/complete", gin.H{"actual_weight": "5"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, errno.ErrAlreadyCompleted.Code, env.Code)

	code, _ = app.do(t, http.MethodPost, base+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestCompleteRejectsBadInput(t *testing.T) {
	app := newTestApp(t)
	cat := testutil.SeedCategory(t, app.db, "Paper", "10")
	p := testutil.SeedPickup(t, app.db, 1, 2, cat, "3")
	path := "/api/v1/pickups/" + strconv.FormatUint(p.ID, 10) + "/complete"

	tests := []struct {
		name     string
		body     gin.H
		wantHTTP int
		wantCode int
	}{
		{"zero weight", gin.H{"actual_weight": "0"}, http.StatusBadRequest, errno.ErrInvalidWeight.Code},
		{"over max", gin.H{"actual_weight": "1000.01"}, http.StatusBadRequest, errno.ErrInvalidWeight.Code},
		{"not a number", gin.H{"actual_weight": "five"}, http.StatusBadRequest, errno.ErrInvalidWeight.Code},
		{"missing weight", gin.H{}, http.StatusBadRequest, errno.ErrBind.Code},
		{"bad method", gin.H{"actual_weight": "2", "payment_method": "bitcoin"}, http.StatusBadRequest, errno.ErrBind.Code},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := app.do(t, http.MethodPost, path, tt.body)
			assert.Equal(t, tt.wantHTTP, code)
			assert.Equal(t, tt.wantCode, env.Code)
		})
	}

	code, env := app.do(t, http.MethodPost, "/api/v1/pickups/999/complete", gin.H{"actual_weight": "2"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, errno.ErrPickupNotFound.Code, env.Code)

	code, _ = app.do(t, http.MethodPost, "/api/v1/pickups/abc/complete", gin.H{"actual_weight": "2"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestDeductOverHTTP(t *testing.T) {
	app := newTestApp(t)
	_, err := app.credits.AddCredits(context.Background(), 7, money.MustParse("100"), nil, "seed")
	require.NoError(t, err)

	code, env := app.do(t, http.MethodPost, "/api/v1/collectors/7/credits/deduct", gin.H{"amount": "150"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, errno.ErrInsufficientBalance.Code, env.Code)

	code, env = app.do(t, http.MethodPost, "/api/v1/collectors/7/credits/deduct", gin.H{"amount": "40.5"})
	require.Equal(t, http.StatusOK, code, env.Msg)
	assert.Contains(t, string(env.Data), `"balance":"59.50"`)

	code, env = app.do(t, http.MethodPost, "/api/v1/collectors/7/credits/deduct", gin.H{"amount": "1.234"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, errno.ErrBind.Code, env.Code)

	code, env = app.do(t, http.MethodGet, "/api/v1/collectors/7/credits", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"current_balance":"59.50"`)

	code, env = app.do(t, http.MethodGet, "/api/v1/collectors/7/credits/transactions?limit=10", nil)
	require.Equal(t, http.StatusOK, code)
	var rows []model.CreditTransaction
	require.NoError(t, json.Unmarshal(env.Data, &rows))
	assert.Len(t, rows, 2)
}

func TestKhaltiPurchaseOverHTTP(t *testing.T) {
	app := newTestApp(t)
	pkg := testutil.SeedPackage(t, app.db, "Starter", "1000", "900", "0")

	code, env := app.do(t, http.MethodGet, "/api/v1/credit-packages", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"Starter"`)

	code, env = app.do(t, http.MethodPost, "/api/v1/collectors/5/credit-purchases", gin.H{
		"package_id": pkg.ID, "payment_method": "khalti",
	})
	require.Equal(t, http.StatusOK, code, env.Msg)
	assert.Contains(t, string(env.Data), "pidx-http-1")

	callback := "/api/v1/payments/khalti/callback?pidx=pidx-http-1&total_amount=100000&status=Completed"
	code, env = app.do(t, http.MethodGet, callback, nil)
	require.Equal(t, http.StatusOK, code, env.Msg)
	var res payment.CallbackResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, payment.CallbackVerified, res.Status)
	assert.False(t, res.Duplicate)

	code, env = app.do(t, http.MethodGet, callback, nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Duplicate)

	bal, err := app.credits.GetBalance(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "900.00", bal.String())
}

func TestCallbackErrors(t *testing.T) {
	app := newTestApp(t)

	code, env := app.do(t, http.MethodPost, "/api/v1/payments/paypal/callback", gin.H{"x": 1})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, errno.ErrUnknownGateway.Code, env.Code)

	code, env = app.do(t, http.MethodGet, "/api/v1/payments/khalti/callback?pidx=unknown&status=Completed", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.NotEqual(t, errno.OK.Code, env.Code)
}

func TestAdminReviewValidation(t *testing.T) {
	app := newTestApp(t)

	code, env := app.do(t, http.MethodPost, "/api/v1/admin/transactions/1/review", gin.H{"action": "maybe"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Msg, "action must be one of")

	code, env = app.do(t, http.MethodPost, "/api/v1/admin/transactions/1/review", gin.H{"action": "approve"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, errno.ErrTransactionNotFound.Code, env.Code)

	code, env = app.do(t, http.MethodGet, "/api/v1/admin/transactions/reconciliation", nil)
	assert.Equal(t, http.StatusOK, code)
	var queue payment.Reconciliation
	require.NoError(t, json.Unmarshal(env.Data, &queue))
	assert.Empty(t, queue.Transactions)
	assert.Empty(t, queue.Purchases)
}

func TestBankTransferConfirmedByAdmin(t *testing.T) {
	app := newTestApp(t)
	pkg := testutil.SeedPackage(t, app.db, "Business", "10000", "9000", "300")

	code, env := app.do(t, http.MethodPost, "/api/v1/collectors/9/credit-purchases", gin.H{
		"package_id": pkg.ID, "payment_method": "bank_transfer",
	})
	require.Equal(t, http.StatusOK, code, env.Msg)
	var init payment.PurchaseInitiation
	require.NoError(t, json.Unmarshal(env.Data, &init))

	path := "/api/v1/admin/credit-purchases/" + strconv.FormatUint(init.PurchaseID, 10) + "/review"
	code, env = app.do(t, http.MethodPost, path, gin.H{"action": "approve"})
	require.Equal(t, http.StatusOK, code, env.Msg)
	assert.Contains(t, string(env.Data), `"already_processed":false`)

	bal, err := app.credits.GetBalance(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, "9300.00", bal.String())
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(NewIPRateLimiter(1, 1)))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/x", nil))
	second := httptest.NewRecorder()
	r.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestIPRateLimiterSweepsIdleVisitors(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(1, 1)
	l.now = func() time.Time { return now }

	l.GetLimiter("10.0.0.1")
	now = now.Add(5 * time.Minute)
	l.GetLimiter("10.0.0.2")

	assert.Len(t, l.ips, 1)
	_, ok := l.ips["10.0.0.2"]
	assert.True(t, ok)
}
