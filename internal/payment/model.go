package payment

import "time"

type Method string

const (
	MethodCash   Method = "cash"
	MethodCard   Method = "card"
	MethodOnline Method = "online"
)

func (m Method) Valid() bool {
	return m == MethodCash || m == MethodCard || m == MethodOnline
}

func (m Method) External() bool { return m == MethodCard || m == MethodOnline }

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// DeclineReason is the sanitized, typed failure surfaced when the
// processor declines a charge. Raw processor errors never leave this
// package.
type DeclineReason string

const (
	DeclineInsufficientFunds DeclineReason = "insufficient_funds"
	DeclineExpiredCard       DeclineReason = "expired_card"
	DeclineIncorrectCVC      DeclineReason = "incorrect_cvc"
	DeclineGeneric           DeclineReason = "generic_decline"
)

type Payment struct {
	ID     string `json:"id"`
	UserID string `json:"user_id,omitempty"`
	// SessionID identifies a guest payer; one of UserID / SessionID is set.
	SessionID string `json:"session_id,omitempty"`
	TableID   string `json:"table_id,omitempty"`
	// Total is the sum of the linked orders' totals captured at link
	// time; it never tracks later catalog or order mutations.
	Total         string        `json:"total_amount"` // NUMERIC -> string
	Method        Method        `json:"method"`
	Status        Status        `json:"status"`
	IntentID      string        `json:"processor_intent_id,omitempty"`
	ProcessedBy   string        `json:"processed_by,omitempty"` // settling staff, cash only
	FailureReason DeclineReason `json:"failure_reason,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

func (p *Payment) OwnerKey() string {
	if p.UserID != "" {
		return p.UserID
	}
	return "session:" + p.SessionID
}

// OrderLink ties one order into a payment. Settled flips exactly once;
// a partial unique index on (order_id) WHERE settled enforces that no
// order settles under two payments.
type OrderLink struct {
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
	Amount    string `json:"amount"` // order total snapshot at link time
	Settled   bool   `json:"settled"`
}
