package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

const (
	DefaultEsewaFormURL     = "https://rc-epay.esewa.com.np/api/epay/main/v2/form"
	DefaultEsewaProductCode = "EPAYTEST"
	// eSewa's published sandbox key.
	DefaultEsewaSecret = "8gBm/:&EnhH.1/q"

	esewaSignedFields = "total_amount,transaction_uuid,product_code"
	esewaMethod       = "eSewa"
)

var (
	ErrBadCallback       = errors.New("malformed payment callback")
	ErrBadSignature      = errors.New("payment callback signature mismatch")
	ErrPaymentIncomplete = errors.New("payment not completed")
)

type EsewaConfig struct {
	SecretKey   string
	ProductCode string
	FormURL     string
	SuccessURL  string
	FailureURL  string
	// RequireSignedCallback makes the gateway's signed data parameter mandatory on verify.
	RequireSignedCallback bool
}

func (c EsewaConfig) withDefaults() EsewaConfig {
	if c.SecretKey == "" {
		c.SecretKey = DefaultEsewaSecret
	}
	if c.ProductCode == "" {
		c.ProductCode = DefaultEsewaProductCode
	}
	if c.FormURL == "" {
		c.FormURL = DefaultEsewaFormURL
	}
	return c
}

// EsewaRequest is what the client posts to the eSewa form endpoint.
type EsewaRequest struct {
	URL      string            `json:"esewa_url"`
	FormData map[string]string `json:"form_data"`
}

// Sign returns base64(HMAC-SHA256(secret, message)).
func Sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func requestMessage(totalAmount, transactionUUID, productCode string) string {
	return "total_amount=" + totalAmount + ",transaction_uuid=" + transactionUUID + ",product_code=" + productCode
}

func buildEsewaRequest(cfg EsewaConfig, amount, token string) EsewaRequest {
	return EsewaRequest{
		URL: cfg.FormURL,
		FormData: map[string]string{
			"amount":                  amount,
			"tax_amount":              "0",
			"total_amount":            amount,
			"transaction_uuid":        token,
			"product_code":            cfg.ProductCode,
			"product_service_charge":  "0",
			"product_delivery_charge": "0",
			"success_url":             cfg.SuccessURL,
			"failure_url":             cfg.FailureURL,
			"signed_field_names":      esewaSignedFields,
			"signature":               Sign(cfg.SecretKey, requestMessage(amount, token, cfg.ProductCode)),
		},
	}
}

// EsewaCallback is the decoded data parameter eSewa appends to the success redirect.
type EsewaCallback struct {
	TransactionCode  string `json:"transaction_code"`
	Status           string `json:"status"`
	TotalAmount      string `json:"total_amount"`
	TransactionUUID  string `json:"transaction_uuid"`
	ProductCode      string `json:"product_code"`
	SignedFieldNames string `json:"signed_field_names"`
	Signature        string `json:"signature"`
}

func (c EsewaCallback) field(name string) (string, bool) {
	switch name {
	case "transaction_code":
		return c.TransactionCode, true
	case "status":
		return c.Status, true
	case "total_amount":
		return c.TotalAmount, true
	case "transaction_uuid":
		return c.TransactionUUID, true
	case "product_code":
		return c.ProductCode, true
	case "signed_field_names":
		return c.SignedFieldNames, true
	default:
		return "", false
	}
}

// DecodeEsewaCallback parses and authenticates the base64 data parameter.
func DecodeEsewaCallback(data, secret string) (EsewaCallback, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data))
	if err != nil {
		raw, err = base64.URLEncoding.DecodeString(strings.TrimSpace(data))
		if err != nil {
			return EsewaCallback{}, ErrBadCallback
		}
	}
	var cb EsewaCallback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return EsewaCallback{}, ErrBadCallback
	}
	if cb.SignedFieldNames == "" || cb.Signature == "" {
		return EsewaCallback{}, ErrBadCallback
	}

	names := strings.Split(cb.SignedFieldNames, ",")
	parts := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		v, ok := cb.field(name)
		if !ok {
			return EsewaCallback{}, ErrBadCallback
		}
		parts = append(parts, name+"="+v)
	}
	want := Sign(secret, strings.Join(parts, ","))
	if !hmac.Equal([]byte(want), []byte(cb.Signature)) {
		return EsewaCallback{}, ErrBadSignature
	}
	if !strings.EqualFold(cb.Status, "COMPLETE") {
		return cb, ErrPaymentIncomplete
	}
	return cb, nil
}
