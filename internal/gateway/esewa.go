package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kawadi-core/internal/model"
	"kawadi-core/pkg/config"
	"kawadi-core/pkg/crypto_util"
	"kawadi-core/pkg/errno"
	"kawadi-core/pkg/money"
)

const esewaSignedFields = "total_amount,transaction_uuid,product_code"

// Esewa implements ePay v2: a signed form post out, a signed base64 payload back.
type Esewa struct {
	cfg    config.EsewaConfig
	client *http.Client
}

func NewEsewa(cfg config.EsewaConfig, timeout time.Duration) *Esewa {
	return &Esewa{cfg: cfg, client: newHTTPClient(timeout)}
}

func (e *Esewa) Name() string { return model.MethodEsewa }

// Sign signs the comma separated field names over values, in that order.
func (e *Esewa) Sign(signedFieldNames string, values map[string]string) string {
	return crypto_util.SignHMACSHA256(e.cfg.SecretKey, signingMessage(signedFieldNames, values))
}

// signingMessage renders "k1=v1,k2=v2" for the listed fields.
func signingMessage(signedFieldNames string, values map[string]string) string {
	names := strings.Split(signedFieldNames, ",")
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, n+"="+values[n])
	}
	return strings.Join(parts, ",")
}

// Initiate builds the form the client posts to eSewa. No network call is made.
func (e *Esewa) Initiate(_ context.Context, in InitiateRequest) (*InitiateResult, error) {
	if in.OrderID == "" {
		return nil, errno.ErrValidation.WithMessage("order id is required")
	}
	successURL := in.ReturnURL
	if successURL == "" {
		successURL = e.cfg.SuccessURL
	}
	total := in.Amount.String()
	fields := map[string]string{
		"amount":                  total,
		"tax_amount":              "0",
		"product_service_charge":  "0",
		"product_delivery_charge": "0",
		"total_amount":            total,
		"transaction_uuid":        in.OrderID,
		"product_code":            e.cfg.MerchantCode,
		"success_url":             successURL,
		"failure_url":             e.cfg.FailureURL,
		"signed_field_names":      esewaSignedFields,
	}
	fields["signature"] = e.Sign(esewaSignedFields, fields)

	raw, _ := json.Marshal(fields)
	return &InitiateResult{GatewayRef: in.OrderID, RedirectURL: e.cfg.FormURL, FormFields: fields, Raw: raw}, nil
}

type esewaStatusResponse struct {
	ProductCode     string      `json:"product_code"`
	TransactionUUID string      `json:"transaction_uuid"`
	TotalAmount     json.Number `json:"total_amount"`
	Status          string      `json:"status"`
	RefID           string      `json:"ref_id"`
}

func (e *Esewa) Verify(ctx context.Context, in VerifyRequest) (res *VerifyResult, err error) {
	defer recoverTo(&err)
	q := url.Values{}
	q.Set("product_code", e.cfg.MerchantCode)
	q.Set("total_amount", in.ExpectedAmount.String())
	q.Set("transaction_uuid", in.GatewayRef)
	req, err := newJSONRequest(ctx, http.MethodGet, e.cfg.StatusURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	body, err := doJSON(e.client, req)
	if err != nil {
		return nil, err
	}
	var out esewaStatusResponse
	if err := decodeJSON(body, &out); err != nil {
		return nil, err
	}
	status := esewaStatus(out.Status)
	confirmed := money.Zero
	if out.TotalAmount != "" {
		confirmed, err = money.Parse(out.TotalAmount.String())
		if err != nil {
			return nil, errno.ErrValidation.WithMessage("esewa status amount is not a number")
		}
	}
	return &VerifyResult{
		Verified:        status == StatusCompleted,
		AmountConfirmed: confirmed,
		Status:          status,
		Raw:             rawJSON(body),
	}, nil
}

type esewaCallbackData struct {
	TransactionCode  string `json:"transaction_code"`
	Status           string `json:"status"`
	TotalAmount      string `json:"total_amount"`
	TransactionUUID  string `json:"transaction_uuid"`
	ProductCode      string `json:"product_code"`
	SignedFieldNames string `json:"signed_field_names"`
	Signature        string `json:"signature"`
}

func (d esewaCallbackData) values() map[string]string {
	return map[string]string{
		"transaction_code":   d.TransactionCode,
		"status":             d.Status,
		"total_amount":       d.TotalAmount,
		"transaction_uuid":   d.TransactionUUID,
		"product_code":       d.ProductCode,
		"signed_field_names": d.SignedFieldNames,
	}
}

// ParseCallback accepts the base64 data parameter bare, as data=<b64>, or as {"data": "<b64>"}.
// The signature is checked before anything else is trusted.
func (e *Esewa) ParseCallback(raw []byte) (cb *Callback, err error) {
	defer recoverTo(&err)
	encoded, err := esewaDataParam(raw)
	if err != nil {
		return nil, err
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errno.ErrBadCallback.WithMessage("esewa data is not base64")
	}
	var d esewaCallbackData
	if err := json.Unmarshal(decoded, &d); err != nil {
		return nil, errno.ErrBadCallback.Wrap(err)
	}
	if d.TransactionUUID == "" {
		return nil, errno.ErrBadCallback.Wrap(errEmptyReference)
	}
	if d.SignedFieldNames == "" || d.Signature == "" {
		return nil, errno.ErrBadCallback.WithMessage("esewa callback is unsigned")
	}
	if !crypto_util.VerifyHMACSHA256(e.cfg.SecretKey, signingMessage(d.SignedFieldNames, d.values()), d.Signature) {
		return nil, errno.ErrBadCallback.WithMessage("esewa callback signature mismatch")
	}
	amount, err := money.Parse(strings.ReplaceAll(d.TotalAmount, ",", ""))
	if err != nil {
		return nil, errno.ErrBadCallback.WithMessage(fmt.Sprintf("esewa amount %q is not a number", d.TotalAmount))
	}
	return &Callback{
		Reference: d.TransactionUUID,
		Status:    esewaStatus(d.Status),
		Amount:    amount,
		Raw:       rawJSON(decoded),
	}, nil
}

func esewaDataParam(raw []byte) (string, error) {
	s := strings.TrimSpace(string(raw))
	switch {
	case s == "":
		return "", errno.ErrBadCallback.WithMessage("empty esewa callback")
	case strings.HasPrefix(s, "{"):
		var body struct {
			Data string `json:"data"`
		}
		if err := json.Unmarshal([]byte(s), &body); err != nil || body.Data == "" {
			return "", errno.ErrBadCallback.WithMessage("esewa callback has no data field")
		}
		return body.Data, nil
	case strings.Contains(s, "data="):
		q, err := url.ParseQuery(strings.TrimPrefix(s, "?"))
		if err != nil || q.Get("data") == "" {
			return "", errno.ErrBadCallback.WithMessage("esewa callback has no data field")
		}
		// form decoding turns base64 '+' into spaces
		return strings.ReplaceAll(q.Get("data"), " ", "+"), nil
	}
	return s, nil
}

func esewaStatus(s string) string {
	switch s {
	case "COMPLETE":
		return StatusCompleted
	case "PENDING", "AMBIGUOUS":
		return StatusPending
	}
	// FULL_REFUND, PARTIAL_REFUND, NOT_FOUND, CANCELED
	return StatusFailed
}
