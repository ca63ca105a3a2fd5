package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kawadi-core/internal/model"
	"kawadi-core/internal/testutil"
	"kawadi-core/pkg/config"
	"kawadi-core/pkg/errno"
	"kawadi-core/pkg/money"
)

const esewaSecret = "8gBm/:&EnhH.1/q"

func newKhalti(t *testing.T, h http.HandlerFunc, timeout time.Duration) *Khalti {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewKhalti(config.KhaltiConfig{
		BaseURL:    srv.URL + "/",
		SecretKey:  "test-secret",
		WebsiteURL: "https://kawadi.example",
		ReturnURL:  "https://kawadi.example/return",
	}, timeout)
}

func TestKhaltiInitiate(t *testing.T) {
	k := newKhalti(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/epayment/initiate/", r.URL.Path)
		assert.Equal(t, "Key test-secret", r.Header.Get("Authorization"))
		var body khaltiInitiateBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(100000), body.Amount)
		assert.Equal(t, "purchase-7", body.PurchaseOrderID)
		assert.Equal(t, "https://kawadi.example/return", body.ReturnURL)
		_, _ = io.WriteString(w, `{"pidx":"bZQLD9wRVWo4CdESSfuSsB","payment_url":"https://test-pay.khalti.com/?pidx=bZQLD9wRVWo4CdESSfuSsB"}`)
	}, time.Second)

	res, err := k.Initiate(context.Background(), InitiateRequest{Amount: money.MustParse("1000"), OrderID: "purchase-7", OrderName: "Starter"})
	require.NoError(t, err)
	assert.Equal(t, "bZQLD9wRVWo4CdESSfuSsB", res.GatewayRef)
	assert.Contains(t, res.RedirectURL, "pidx=")
}

func TestKhaltiVerify(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		verified bool
		status   string
		amount   string
	}{
		{"completed", `{"pidx":"p1","total_amount":50000,"status":"Completed","transaction_id":"t1"}`, true, StatusCompleted, "500.00"},
		{"pending", `{"pidx":"p1","total_amount":50000,"status":"Pending"}`, false, StatusPending, "500.00"},
		{"expired", `{"pidx":"p1","total_amount":50000,"status":"Expired"}`, false, StatusFailed, "500.00"},
		{"user canceled", `{"pidx":"p1","total_amount":50000,"status":"User canceled"}`, false, StatusFailed, "500.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := newKhalti(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/epayment/lookup/", r.URL.Path)
				_, _ = io.WriteString(w, tt.body)
			}, time.Second)
			res, err := k.Verify(context.Background(), VerifyRequest{GatewayRef: "p1", ExpectedAmount: money.MustParse("500")})
			require.NoError(t, err)
			assert.Equal(t, tt.verified, res.Verified)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.amount, res.AmountConfirmed.String())
		})
	}
}

func TestCheckAmount(t *testing.T) {
	res := &VerifyResult{Verified: true, AmountConfirmed: money.MustParse("499")}
	err := CheckAmount(res, money.MustParse("500"))
	assert.True(t, errors.Is(err, errno.ErrVerificationMismatch))

	res.AmountConfirmed = money.MustParse("500.00")
	assert.NoError(t, CheckAmount(res, money.MustParse("500")))

	// unverified results are not compared
	assert.NoError(t, CheckAmount(&VerifyResult{Verified: false}, money.MustParse("500")))
}

func TestKhaltiFailuresMapToUnavailable(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		k := newKhalti(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}, time.Second)
		_, err := k.Verify(context.Background(), VerifyRequest{GatewayRef: "p1"})
		assert.True(t, errors.Is(err, errno.ErrGatewayUnavailable))
	})
	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		k := newKhalti(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}, 50*time.Millisecond)
		defer close(release)
		_, err := k.Verify(context.Background(), VerifyRequest{GatewayRef: "p1"})
		assert.True(t, errors.Is(err, errno.ErrGatewayUnavailable))
	})
	t.Run("rejected", func(t *testing.T) {
		k := newKhalti(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"detail":"Not found."}`)
		}, time.Second)
		_, err := k.Verify(context.Background(), VerifyRequest{GatewayRef: "nope"})
		assert.True(t, errors.Is(err, errno.ErrValidation))
	})
	t.Run("garbage", func(t *testing.T) {
		k := newKhalti(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `<html>maintenance</html>`)
		}, time.Second)
		_, err := k.Verify(context.Background(), VerifyRequest{GatewayRef: "p1"})
		assert.True(t, errors.Is(err, errno.ErrValidation))
	})
}

func TestKhaltiParseCallback(t *testing.T) {
	k := NewKhalti(config.KhaltiConfig{}, time.Second)

	cb, err := k.ParseCallback([]byte("pidx=p9&status=Completed&total_amount=100000&purchase_order_id=purchase-7"))
	require.NoError(t, err)
	assert.Equal(t, "p9", cb.Reference)
	assert.Equal(t, StatusCompleted, cb.Status)
	assert.Equal(t, "1000.00", cb.Amount.String())

	cb, err = k.ParseCallback([]byte(`{"pidx":"p9","status":"User canceled","amount":100000}`))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, cb.Status)

	_, err = k.ParseCallback([]byte("status=Completed"))
	assert.True(t, errors.Is(err, errno.ErrBadCallback))
	_, err = k.ParseCallback([]byte(`{"pidx":`))
	assert.True(t, errors.Is(err, errno.ErrBadCallback))
}

func newEsewa(statusURL string) *Esewa {
	return NewEsewa(config.EsewaConfig{
		FormURL:      "https://rc-epay.esewa.com.np/api/epay/main/v2/form",
		StatusURL:    statusURL,
		MerchantCode: "EPAYTEST",
		SecretKey:    esewaSecret,
		SuccessURL:   "https://kawadi.example/esewa/success",
		FailureURL:   "https://kawadi.example/esewa/failure",
	}, time.Second)
}

func esewaCallback(t *testing.T, e *Esewa, d esewaCallbackData) string {
	d.SignedFieldNames = "transaction_code,status,total_amount,transaction_uuid,product_code,signed_field_names"
	d.Signature = e.Sign(d.SignedFieldNames, d.values())
	b, err := json.Marshal(d)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(b)
}

func TestEsewaInitiateSignsForm(t *testing.T) {
	e := newEsewa("")
	res, err := e.Initiate(context.Background(), InitiateRequest{Amount: money.MustParse("100"), OrderID: "11-201-13"})
	require.NoError(t, err)
	assert.Equal(t, "11-201-13", res.GatewayRef)
	assert.Equal(t, "100.00", res.FormFields["total_amount"])
	assert.Equal(t, esewaSignedFields, res.FormFields["signed_field_names"])
	assert.Equal(t, e.Sign(esewaSignedFields, map[string]string{
		"total_amount": "100.00", "transaction_uuid": "11-201-13", "product_code": "EPAYTEST",
	}), res.FormFields["signature"])
	assert.Equal(t, "https://kawadi.example/esewa/success", res.FormFields["success_url"])
}

func TestEsewaParseCallback(t *testing.T) {
	e := newEsewa("")
	data := esewaCallback(t, e, esewaCallbackData{
		TransactionCode: "000AWEO",
		Status:          "COMPLETE",
		TotalAmount:     "1,000.0",
		TransactionUUID: "purchase-3",
		ProductCode:     "EPAYTEST",
	})

	for name, raw := range map[string]string{
		"bare":  data,
		"query": "data=" + url.QueryEscape(data),
		"json":  `{"data":"` + data + `"}`,
	} {
		t.Run(name, func(t *testing.T) {
			cb, err := e.ParseCallback([]byte(raw))
			require.NoError(t, err)
			assert.Equal(t, "purchase-3", cb.Reference)
			assert.Equal(t, StatusCompleted, cb.Status)
			assert.Equal(t, "1000.00", cb.Amount.String())
		})
	}
}

func TestEsewaRejectsTamperedCallback(t *testing.T) {
	e := newEsewa("")
	good := esewaCallback(t, e, esewaCallbackData{Status: "COMPLETE", TotalAmount: "100.0", TransactionUUID: "purchase-3", ProductCode: "EPAYTEST"})
	decoded, _ := base64.StdEncoding.DecodeString(good)
	var d esewaCallbackData
	require.NoError(t, json.Unmarshal(decoded, &d))
	d.TotalAmount = "1.0"
	b, _ := json.Marshal(d)

	_, err := e.ParseCallback([]byte(base64.StdEncoding.EncodeToString(b)))
	assert.True(t, errors.Is(err, errno.ErrBadCallback))

	_, err = e.ParseCallback([]byte("%%%"))
	assert.True(t, errors.Is(err, errno.ErrBadCallback))
	_, err = e.ParseCallback(nil)
	assert.True(t, errors.Is(err, errno.ErrBadCallback))
}

func TestEsewaVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "EPAYTEST", r.URL.Query().Get("product_code"))
		assert.Equal(t, "100.00", r.URL.Query().Get("total_amount"))
		assert.Equal(t, "purchase-3", r.URL.Query().Get("transaction_uuid"))
		_, _ = io.WriteString(w, `{"product_code":"EPAYTEST","transaction_uuid":"purchase-3","total_amount":100.0,"status":"COMPLETE","ref_id":"0001TS9"}`)
	}))
	defer srv.Close()

	res, err := newEsewa(srv.URL).Verify(context.Background(), VerifyRequest{GatewayRef: "purchase-3", ExpectedAmount: money.MustParse("100")})
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Equal(t, "100.00", res.AmountConfirmed.String())
}

func TestManual(t *testing.T) {
	m := NewManual(model.MethodBankTransfer)
	res, err := m.Initiate(context.Background(), InitiateRequest{OrderID: "purchase-1"})
	require.NoError(t, err)
	assert.Equal(t, "purchase-1", res.GatewayRef)

	v, err := m.Verify(context.Background(), VerifyRequest{GatewayRef: "purchase-1"})
	require.NoError(t, err)
	assert.False(t, v.Verified)
	assert.Equal(t, StatusAwaitingManual, v.Status)

	_, err = m.ParseCallback([]byte("{}"))
	assert.True(t, errors.Is(err, errno.ErrBadCallback))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewManual(model.MethodBankTransfer), newEsewa(""))
	g, err := r.Get(model.MethodEsewa)
	require.NoError(t, err)
	assert.Equal(t, model.MethodEsewa, g.Name())

	_, err = r.Get("paypal")
	assert.True(t, errors.Is(err, errno.ErrUnknownGateway))
	assert.Equal(t, []string{"bank_transfer", "esewa"}, r.Names())
}

func TestDefaultRegistryCoversSettlementMethods(t *testing.T) {
	db := testutil.NewDB(t)
	r := NewDefaultRegistry(config.GatewayConfig{Timeout: time.Second}, NewGormLogStore(db))

	assert.Equal(t, []string{"bank_transfer", "esewa", "fonepay", "ime_pay", "khalti"}, r.Names())
	for _, m := range []string{model.MethodImePay, model.MethodFonepay} {
		g, err := r.Get(m)
		require.NoError(t, err)
		assert.IsType(t, &Audited{}, g)

		res, err := g.Initiate(context.Background(), InitiateRequest{OrderID: "txn-1-" + m})
		require.NoError(t, err)
		assert.Equal(t, "txn-1-"+m, res.GatewayRef)
	}
}

// auditCheckingGateway checks the audit store while the call is in progress.
type auditCheckingGateway struct {
	Manual
	store *GormLogStore
	t     *testing.T
}

func (p *auditCheckingGateway) Verify(ctx context.Context, in VerifyRequest) (*VerifyResult, error) {
	rows, err := p.store.ListByReference(ctx, p.Name(), in.GatewayRef)
	require.NoError(p.t, err)
	require.Len(p.t, rows, 1, "request row must exist before the provider is called")
	assert.Equal(p.t, model.GatewayPhaseRequest, rows[0].Phase)
	return nil, errno.ErrGatewayUnavailable
}

func TestAuditedWritesRequestBeforeCall(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewGormLogStore(db)
	purchaseID := uint64(5)
	a := NewAudited(&auditCheckingGateway{Manual: Manual{name: model.MethodKhalti}, store: store, t: t}, store)

	_, err := a.Verify(context.Background(), VerifyRequest{
		GatewayRef: "pidx-1", ExpectedAmount: money.MustParse("1000"), Link: Link{CreditPurchaseID: &purchaseID},
	})
	assert.True(t, errors.Is(err, errno.ErrGatewayUnavailable))

	rows, err := store.ListByReference(context.Background(), model.MethodKhalti, "pidx-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, model.GatewayPhaseRequest, rows[0].Phase)
	assert.Equal(t, model.GatewayPhaseResponse, rows[1].Phase)
	assert.False(t, rows[1].Success)
	assert.Equal(t, "verify:khalti:pidx-1", rows[0].IdempotencyKey)
	assert.Equal(t, purchaseID, *rows[0].CreditPurchaseID)
	assert.Len(t, rows[0].PayloadHash, 64)
}

type failingStore struct{}

func (failingStore) Append(context.Context, *model.PaymentGatewayLog) error {
	return errno.ErrDatabase
}

type countingGateway struct {
	Manual
	mu    sync.Mutex
	calls int
}

func (c *countingGateway) Initiate(ctx context.Context, in InitiateRequest) (*InitiateResult, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.Manual.Initiate(ctx, in)
}

func TestAuditedSkipsCallWhenLogFails(t *testing.T) {
	inner := &countingGateway{Manual: Manual{name: model.MethodKhalti}}
	a := NewAudited(inner, failingStore{})

	_, err := a.Initiate(context.Background(), InitiateRequest{OrderID: "purchase-1", Amount: money.MustParse("10")})
	assert.True(t, errors.Is(err, errno.ErrDatabase))
	assert.Zero(t, inner.calls)
}

func TestAuditedLogsCallbacks(t *testing.T) {
	db := testutil.NewDB(t)
	store := NewGormLogStore(db)
	a := NewAudited(NewKhalti(config.KhaltiConfig{}, time.Second), store)

	_, err := a.ParseCallback([]byte("pidx=p2&status=Completed&total_amount=1000"))
	require.NoError(t, err)
	_, err = a.ParseCallback([]byte("garbage"))
	assert.Error(t, err)

	var rows []model.PaymentGatewayLog
	require.NoError(t, db.Where("operation = ?", model.GatewayOpCallback).Order("id").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, "p2", rows[0].Reference)
	assert.True(t, rows[0].Success)
	assert.False(t, rows[1].Success)
	assert.NotEmpty(t, rows[1].ErrorMessage)
}
