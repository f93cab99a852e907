package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dinehq/mesa/internal/apperr"
)

// Intent mirrors the processor's handle for an in-progress charge.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"` // requires_confirmation | processing | succeeded | canceled
}

const IntentSucceeded = "succeeded"

// ChargeResult is the outcome of an off-session charge. A decline is not
// a transport error: Succeeded=false with a typed reason.
type ChargeResult struct {
	IntentID  string
	Succeeded bool
	Decline   DeclineReason
}

// Processor is the external card/online processor. Implementations must
// never leak raw processor errors; anything unexpected comes back as an
// apperr external-processor error.
type Processor interface {
	CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (*Intent, error)
	RetrieveIntent(ctx context.Context, id string) (*Intent, error)
	CreateCustomer(ctx context.Context, email string) (string, error)
	AttachInstrument(ctx context.Context, customerID, instrumentRef string) error
	ChargeInstrument(ctx context.Context, customerID, instrumentRef string, amountCents int64, currency string, metadata map[string]string) (*ChargeResult, error)
}

// ProcessorClient talks to the processor's REST API with a secret key.
type ProcessorClient struct {
	HTTP    *http.Client
	BaseURL string
	Key     string
}

func NewProcessorClient(baseURL, key string) *ProcessorClient {
	return &ProcessorClient{
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		BaseURL: baseURL,
		Key:     key,
	}
}

func (c *ProcessorClient) CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (*Intent, error) {
	var in Intent
	err := c.do(ctx, http.MethodPost, "/v1/payment_intents", map[string]any{
		"amount":   amountCents,
		"currency": currency,
		"metadata": metadata,
	}, &in)
	if err != nil {
		return nil, err
	}
	return &in, nil
}

func (c *ProcessorClient) RetrieveIntent(ctx context.Context, id string) (*Intent, error) {
	var in Intent
	if err := c.do(ctx, http.MethodGet, "/v1/payment_intents/"+id, nil, &in); err != nil {
		return nil, err
	}
	return &in, nil
}

func (c *ProcessorClient) CreateCustomer(ctx context.Context, email string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/customers", map[string]any{"email": email}, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *ProcessorClient) AttachInstrument(ctx context.Context, customerID, instrumentRef string) error {
	err := c.do(ctx, http.MethodPost, "/v1/payment_methods/"+instrumentRef+"/attach",
		map[string]any{"customer": customerID}, nil)
	// attaching an already-attached instrument is fine
	if err != nil && isProcessorCode(err, "already_attached") {
		return nil
	}
	return err
}

func (c *ProcessorClient) ChargeInstrument(ctx context.Context, customerID, instrumentRef string, amountCents int64, currency string, metadata map[string]string) (*ChargeResult, error) {
	var out struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		DeclineCode string `json:"decline_code"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/payment_intents", map[string]any{
		"amount":         amountCents,
		"currency":       currency,
		"customer":       customerID,
		"payment_method": instrumentRef,
		"off_session":    true,
		"confirm":        true,
		"metadata":       metadata,
	}, &out)
	if err != nil {
		if code, ok := processorCode(err); ok {
			return &ChargeResult{Succeeded: false, Decline: mapDecline(code)}, nil
		}
		return nil, err
	}
	if out.Status != IntentSucceeded {
		return &ChargeResult{IntentID: out.ID, Succeeded: false, Decline: mapDecline(out.DeclineCode)}, nil
	}
	return &ChargeResult{IntentID: out.ID, Succeeded: true}, nil
}

// processorError carries the processor's error code without exposing it
// beyond this package.
type processorError struct {
	Code   string
	Status int
}

func (e *processorError) Error() string {
	return fmt.Sprintf("processor error %d (%s)", e.Status, e.Code)
}

func processorCode(err error) (string, bool) {
	var pe *processorError
	if errors.As(err, &pe) && pe.Status < 500 {
		return pe.Code, true
	}
	return "", false
}

func isProcessorCode(err error, code string) bool {
	c, ok := processorCode(err)
	return ok && c == code
}

func mapDecline(code string) DeclineReason {
	switch code {
	case "insufficient_funds":
		return DeclineInsufficientFunds
	case "expired_card":
		return DeclineExpiredCard
	case "incorrect_cvc":
		return DeclineIncorrectCVC
	default:
		return DeclineGeneric
	}
}

func (c *ProcessorClient) do(ctx context.Context, method, path string, body map[string]any, out any) error {
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return apperr.Wrap(apperr.KindExternalProcessor, err, "processor request")
	}
	req.Header.Set("Authorization", "Bearer "+c.Key)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.HTTP.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindExternalProcessor, err, "processor unreachable")
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		var pe struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		_ = json.NewDecoder(res.Body).Decode(&pe)
		return apperr.Wrap(apperr.KindExternalProcessor,
			&processorError{Code: pe.Error.Code, Status: res.StatusCode}, "processor rejected request")
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.KindExternalProcessor, err, "processor response")
	}
	return nil
}
