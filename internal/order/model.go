package order

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusServed    Status = "served"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// transitions is the whole state machine. served->completed is absent on
// purpose: that edge only exists inside payment settlement.
var transitions = map[Status][]Status{
	StatusPending:   {StatusAccepted, StatusRejected, StatusCancelled},
	StatusAccepted:  {StatusPreparing, StatusCancelled},
	StatusPreparing: {StatusReady},
	StatusReady:     {StatusServed},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCancelled || s == StatusCompleted
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusPreparing,
		StatusReady, StatusServed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type Order struct {
	ID     string `json:"id"`
	UserID string `json:"user_id,omitempty"`
	// SessionID owns the order when it was placed by an unauthenticated
	// guest; exactly one of UserID / SessionID is ever set.
	SessionID           string    `json:"session_id,omitempty"`
	TableID             string    `json:"table_id"`
	Status              Status    `json:"status"`
	Total               string    `json:"total_amount"` // NUMERIC -> string
	SpecialInstructions string    `json:"special_instructions,omitempty"`
	RejectionReason     string    `json:"rejection_reason,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// OwnerKey matches auth.Identity.OwnerKey for ownership checks.
func (o *Order) OwnerKey() string {
	if o.UserID != "" {
		return o.UserID
	}
	return "session:" + o.SessionID
}

type Item struct {
	ID         string `json:"id"`
	OrderID    string `json:"order_id"`
	MenuItemID string `json:"menu_item_id"`
	Quantity   int    `json:"quantity"`
	// UnitPrice is the catalog base price plus modifier adjustments,
	// snapshotted at order time.
	UnitPrice           string         `json:"unit_price"`
	TotalPrice          string         `json:"total_price"`
	SpecialInstructions string         `json:"special_instructions,omitempty"`
	Modifiers           []ItemModifier `json:"modifiers,omitempty"`
}

type ItemModifier struct {
	ID          string `json:"id"`
	OrderItemID string `json:"order_item_id"`
	GroupID     string `json:"modifier_group_id"`
	OptionID    string `json:"modifier_option_id"`
	// PriceAdjustment is snapshotted at order time, never re-derived
	// from the current catalog.
	PriceAdjustment string `json:"price_adjustment"`
}
