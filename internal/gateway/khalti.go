package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"kawadi-core/internal/model"
	"kawadi-core/pkg/config"
	"kawadi-core/pkg/errno"
	"kawadi-core/pkg/money"
)

// Khalti talks to the epayment v2 API. Amounts on the wire are in paisa.
type Khalti struct {
	cfg    config.KhaltiConfig
	client *http.Client
}

func NewKhalti(cfg config.KhaltiConfig, timeout time.Duration) *Khalti {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Khalti{cfg: cfg, client: newHTTPClient(timeout)}
}

func (k *Khalti) Name() string { return model.MethodKhalti }

type khaltiInitiateBody struct {
	ReturnURL         string `json:"return_url"`
	WebsiteURL        string `json:"website_url"`
	Amount            int64  `json:"amount"`
	PurchaseOrderID   string `json:"purchase_order_id"`
	PurchaseOrderName string `json:"purchase_order_name"`
}

type khaltiInitiateResponse struct {
	Pidx       string `json:"pidx"`
	PaymentURL string `json:"payment_url"`
}

type khaltiLookupResponse struct {
	Pidx          string `json:"pidx"`
	TotalAmount   int64  `json:"total_amount"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
}

func (k *Khalti) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Key "+k.cfg.SecretKey)
	return doJSON(k.client, req)
}

func (k *Khalti) Initiate(ctx context.Context, in InitiateRequest) (res *InitiateResult, err error) {
	defer recoverTo(&err)
	returnURL := in.ReturnURL
	if returnURL == "" {
		returnURL = k.cfg.ReturnURL
	}
	req, err := newJSONRequest(ctx, http.MethodPost, k.cfg.BaseURL+"/epayment/initiate/", khaltiInitiateBody{
		ReturnURL:         returnURL,
		WebsiteURL:        k.cfg.WebsiteURL,
		Amount:            in.Amount.Paisa(),
		PurchaseOrderID:   in.OrderID,
		PurchaseOrderName: in.OrderName,
	})
	if err != nil {
		return nil, err
	}
	body, err := k.do(req)
	if err != nil {
		return nil, err
	}
	var out khaltiInitiateResponse
	if err := decodeJSON(body, &out); err != nil {
		return nil, err
	}
	if out.Pidx == "" {
		return nil, errno.ErrValidation.WithMessage("khalti response has no pidx")
	}
	return &InitiateResult{GatewayRef: out.Pidx, RedirectURL: out.PaymentURL, Raw: rawJSON(body)}, nil
}

func (k *Khalti) Verify(ctx context.Context, in VerifyRequest) (res *VerifyResult, err error) {
	defer recoverTo(&err)
	req, err := newJSONRequest(ctx, http.MethodPost, k.cfg.BaseURL+"/epayment/lookup/", map[string]string{"pidx": in.GatewayRef})
	if err != nil {
		return nil, err
	}
	body, err := k.do(req)
	if err != nil {
		return nil, err
	}
	var out khaltiLookupResponse
	if err := decodeJSON(body, &out); err != nil {
		return nil, err
	}
	status := khaltiStatus(out.Status)
	return &VerifyResult{
		Verified:        status == StatusCompleted,
		AmountConfirmed: money.FromPaisa(out.TotalAmount),
		Status:          status,
		Raw:             rawJSON(body),
	}, nil
}

// ParseCallback reads the return-URL parameters, as a query string or JSON object.
func (k *Khalti) ParseCallback(raw []byte) (cb *Callback, err error) {
	defer recoverTo(&err)
	params := map[string]string{}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
			return nil, errno.ErrBadCallback.Wrap(err)
		}
		for key, v := range obj {
			switch t := v.(type) {
			case string:
				params[key] = t
			case float64:
				params[key] = strconv.FormatFloat(t, 'f', -1, 64)
			}
		}
	} else {
		q, err := url.ParseQuery(strings.TrimPrefix(trimmed, "?"))
		if err != nil {
			return nil, errno.ErrBadCallback.Wrap(err)
		}
		for key := range q {
			params[key] = q.Get(key)
		}
	}

	ref := params["pidx"]
	if ref == "" {
		return nil, errno.ErrBadCallback.Wrap(errEmptyReference)
	}
	amount := params["total_amount"]
	if amount == "" {
		amount = params["amount"]
	}
	var paisa int64
	if amount != "" {
		paisa, err = strconv.ParseInt(amount, 10, 64)
		if err != nil {
			return nil, errno.ErrBadCallback.WithMessage("khalti callback amount is not an integer")
		}
	}
	return &Callback{
		Reference: ref,
		Status:    khaltiStatus(params["status"]),
		Amount:    money.FromPaisa(paisa),
		Raw:       rawJSON(raw),
	}, nil
}

func khaltiStatus(s string) string {
	switch s {
	case "Completed":
		return StatusCompleted
	case "Pending", "Initiated", "":
		return StatusPending
	}
	// Expired, User canceled, Refunded, Partially Refunded
	return StatusFailed
}
