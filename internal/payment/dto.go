package payment

import "github.com/dinehq/mesa/internal/order"

// BillingInfo lists what a payer still owes: served orders not yet tied
// to a pending or completed payment.
// swagger:model BillingInfo
type BillingInfo struct {
	Orders     []order.Order `json:"orders"`
	GrandTotal string        `json:"grand_total"`
}

// CreatePaymentRequest payload of payment creation.
// swagger:model CreatePaymentRequest
type CreatePaymentRequest struct {
	OrderIDs []string `json:"order_ids"`
	Method   string   `json:"method" example:"card"`
	Notes    string   `json:"notes,omitempty"`
}

// ChargeRequest payload of a saved-instrument charge.
// swagger:model ChargeRequest
type ChargeRequest struct {
	InstrumentRef string `json:"instrument_ref" example:"pm_1NxQwE2eZvKYlo2C"`
}

// CashRequest payload of a cash settlement.
// swagger:model CashRequest
type CashRequest struct {
	Notes string `json:"notes,omitempty"`
}

// ConfirmRequest payload of a processor confirmation callback.
// swagger:model ConfirmRequest
type ConfirmRequest struct {
	IntentID string `json:"intent_id"`
}

// IntentResponse is what a client needs to drive the processor's
// client-side confirmation flow.
// swagger:model IntentResponse
type IntentResponse struct {
	PaymentID    string `json:"payment_id"`
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
}

// PaymentResponse is a payment with its order links.
// swagger:model PaymentResponse
type PaymentResponse struct {
	Payment
	Orders []OrderLink `json:"orders"`
}
