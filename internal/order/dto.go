package order

// CreateOrderItem payload of one line item.
// swagger:model CreateOrderItem
type CreateOrderItem struct {
	MenuItemID          string   `json:"menu_item_id" example:"4e7d4e5c-5cb9-4a3f-9f21-7e1a4f9f2b2a"`
	Quantity            int      `json:"quantity" example:"2"`
	ModifierOptionIDs   []string `json:"modifier_option_ids,omitempty"`
	SpecialInstructions string   `json:"special_instructions,omitempty"`
}

// CreateOrderRequest payload of order submission.
// swagger:model CreateOrderRequest
type CreateOrderRequest struct {
	TableID             string            `json:"table_id" example:"T-12"`
	Items               []CreateOrderItem `json:"items"`
	SpecialInstructions string            `json:"special_instructions,omitempty"`
}

// UpdateStatusRequest payload of a status transition.
// swagger:model UpdateStatusRequest
type UpdateStatusRequest struct {
	Status string `json:"status" example:"preparing"`
}

// RejectOrderRequest payload of a staff rejection.
// swagger:model RejectOrderRequest
type RejectOrderRequest struct {
	Reason string `json:"reason,omitempty" example:"out of salmon"`
}

// OrderResponse is an order with its line items.
// swagger:model OrderResponse
type OrderResponse struct {
	Order
	Items []Item `json:"items"`
}

// statusChangedPayload rides on order.status_changed events.
type statusChangedPayload struct {
	Order          *Order `json:"order"`
	PreviousStatus Status `json:"previous_status"`
}
