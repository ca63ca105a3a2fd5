// Package gateway adapts Nepali payment providers behind one interface.
// Adapters never retry; callers decide what a failure means.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"kawadi-core/internal/model"
	"kawadi-core/pkg/config"
	"kawadi-core/pkg/errno"
	"kawadi-core/pkg/money"
)

// Normalized verification states.
const (
	StatusCompleted      = "completed"
	StatusPending        = "pending"
	StatusFailed         = "failed"
	StatusAwaitingManual = "awaiting_manual_confirmation"
)

// DefaultTimeout applies when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// Link ties a gateway call to the row it pays for. Used by the audit log.
type Link struct {
	TransactionID    *uint64
	CreditPurchaseID *uint64
}

type InitiateRequest struct {
	Amount    money.Money
	OrderID   string
	OrderName string
	// ReturnURL overrides the configured return URL when set.
	ReturnURL string
	Link      Link
}

type InitiateResult struct {
	GatewayRef  string            `json:"gateway_ref"`
	RedirectURL string            `json:"redirect_url,omitempty"`
	FormFields  map[string]string `json:"form_fields,omitempty"`
	Raw         json.RawMessage   `json:"raw,omitempty"`
}

type VerifyRequest struct {
	GatewayRef     string
	ExpectedAmount money.Money
	Link           Link
}

type VerifyResult struct {
	Verified        bool            `json:"verified"`
	AmountConfirmed money.Money     `json:"amount_confirmed"`
	Status          string          `json:"status"`
	Raw             json.RawMessage `json:"raw,omitempty"`
}

// Callback is what a provider pushed (or redirected) back to us.
type Callback struct {
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	Amount    money.Money     `json:"amount"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

type Gateway interface {
	Name() string
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error)
	ParseCallback(raw []byte) (*Callback, error)
}

// Registry resolves gateways by payment method name.
type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry(gs ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gs))}
	for _, g := range gs {
		r.gateways[g.Name()] = g
	}
	return r
}

// ManualMethods have no provider API; an admin confirms them.
var ManualMethods = []string{model.MethodBankTransfer, model.MethodImePay, model.MethodFonepay}

// NewDefaultRegistry registers Khalti, eSewa and every manual method, each
// wrapped in the audit log.
func NewDefaultRegistry(cfg config.GatewayConfig, logs LogStore) *Registry {
	gs := []Gateway{
		NewAudited(NewKhalti(cfg.Khalti, cfg.Timeout), logs),
		NewAudited(NewEsewa(cfg.Esewa, cfg.Timeout), logs),
	}
	for _, m := range ManualMethods {
		gs = append(gs, NewAudited(NewManual(m), logs))
	}
	return NewRegistry(gs...)
}

func (r *Registry) Get(name string) (Gateway, error) {
	g, ok := r.gateways[name]
	if !ok {
		return nil, errno.ErrUnknownGateway.WithMessage(fmt.Sprintf("unknown payment gateway %q", name))
	}
	return g, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for n := range r.gateways {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// CheckAmount fails a verified result whose confirmed amount differs from expected.
func CheckAmount(res *VerifyResult, expected money.Money) error {
	if res == nil || !res.Verified {
		return nil
	}
	if !res.AmountConfirmed.Equal(expected) {
		return errno.ErrVerificationMismatch.WithMessage(fmt.Sprintf(
			"gateway confirmed %s, expected %s", res.AmountConfirmed, expected))
	}
	return nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// doJSON sends req and returns the body. Transport failures and 5xx map to
// ErrGatewayUnavailable; 4xx map to ErrValidation.
func doJSON(client *http.Client, req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, errno.ErrGatewayUnavailable.Wrap(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errno.ErrGatewayUnavailable.Wrap(err)
	}
	switch {
	case resp.StatusCode >= 500:
		return body, errno.ErrGatewayUnavailable.Wrap(fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return body, errno.ErrValidation.WithMessage(fmt.Sprintf("gateway rejected request: status %d: %s",
			resp.StatusCode, snippet(body)))
	}
	return body, nil
}

func newJSONRequest(ctx context.Context, method, url string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, errno.InternalServerError.Wrap(err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, errno.InternalServerError.Wrap(err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func decodeJSON(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return errno.ErrValidation.WithMessage("unexpected gateway response: " + snippet(body))
	}
	return nil
}

// rawJSON keeps b if it is valid JSON, otherwise stores it as a JSON string.
func rawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	q, _ := json.Marshal(string(b))
	return q
}

func snippet(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// recoverTo converts a panic inside an adapter into an error.
func recoverTo(err *error) {
	if r := recover(); r != nil {
		*err = errno.InternalServerError.Wrap(fmt.Errorf("gateway panic: %v", r))
	}
}

var errEmptyReference = errors.New("missing payment reference")
