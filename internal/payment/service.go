package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dinehq/mesa/internal/apperr"
	"github.com/dinehq/mesa/internal/auth"
	"github.com/dinehq/mesa/internal/money"
	"github.com/dinehq/mesa/internal/notify"
	"github.com/dinehq/mesa/internal/order"
)

// Service is the payment reconciliation manager: it aggregates billable
// orders, creates and settles payments and completes linked orders
// exactly once, however many times the processor confirms.
type Service struct {
	repo      Repository
	processor Processor
	notifier  notify.Notifier
	currency  string
}

func NewService(repo Repository, proc Processor, n notify.Notifier, currency string) *Service {
	return &Service{repo: repo, processor: proc, notifier: n, currency: currency}
}

// GetBillingInfo returns what the payer still owes.
func (s *Service) GetBillingInfo(ctx context.Context, id auth.Identity) (*BillingInfo, error) {
	orders, err := s.repo.ListBillable(ctx, id.OwnerKey())
	if err != nil {
		return nil, fmt.Errorf("list billable: %w", err)
	}
	totals := make([]string, 0, len(orders))
	for _, o := range orders {
		totals = append(totals, o.Total)
	}
	grand, err := money.Sum(totals...)
	if err != nil {
		return nil, err
	}
	return &BillingInfo{Orders: orders, GrandTotal: money.String(grand)}, nil
}

// CreatePayment links the requested orders into one pending payment.
// All-or-nothing: any order that is missing, unowned, not served or
// already tied to a live payment aborts the whole call.
func (s *Service) CreatePayment(ctx context.Context, id auth.Identity, req CreatePaymentRequest) (*Payment, []OrderLink, error) {
	method := Method(req.Method)
	if !method.Valid() {
		return nil, nil, apperr.Validation("unknown payment method %q", req.Method)
	}
	if len(req.OrderIDs) == 0 {
		return nil, nil, apperr.Billing("at least one order is required")
	}
	seen := map[string]bool{}
	for _, oid := range req.OrderIDs {
		if seen[oid] {
			return nil, nil, apperr.Billing("duplicate order %s", oid)
		}
		seen[oid] = true
	}

	p := &Payment{
		ID:      uuid.NewString(),
		TableID: id.TableID,
		Method:  method,
		Status:  StatusPending,
		Notes:   req.Notes,
	}
	if id.IsGuest {
		p.SessionID = id.SessionID
	} else {
		p.UserID = id.ID
	}

	links, err := s.repo.CreateWithLinks(ctx, p, req.OrderIDs)
	if err != nil {
		switch {
		case errors.Is(err, ErrOrderNotBillable):
			return nil, nil, apperr.Wrap(apperr.KindBillingValidation, err, "order not billable")
		case errors.Is(err, ErrOrderAlreadyBilled):
			return nil, nil, apperr.Wrap(apperr.KindBillingValidation, err, "order already billed")
		}
		return nil, nil, fmt.Errorf("create payment: %w", err)
	}
	return p, links, nil
}

// CreateExternalIntent asks the processor for an intent on the payment's
// amount and stores its id for later reconciliation.
func (s *Service) CreateExternalIntent(ctx context.Context, id auth.Identity, paymentID string) (*IntentResponse, error) {
	p, _, err := s.getOwned(ctx, id, paymentID)
	if err != nil {
		return nil, err
	}
	if !p.Method.External() {
		return nil, apperr.StateConflict("payment method %s has no processor intent", p.Method)
	}
	if p.Status != StatusPending {
		return nil, apperr.StateConflict("payment is %s, expected pending", p.Status)
	}

	amount, err := money.Parse(p.Total)
	if err != nil {
		return nil, err
	}
	intent, err := s.processor.CreateIntent(ctx, money.Cents(amount), s.currency, map[string]string{
		"payment_id": p.ID,
	})
	if err != nil {
		// payment stays pending, safe to retry
		return nil, err
	}
	if err := s.repo.SetIntentID(ctx, p.ID, intent.ID); err != nil {
		return nil, fmt.Errorf("store intent id: %w", err)
	}
	return &IntentResponse{PaymentID: p.ID, IntentID: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

// ConfirmExternal reconciles a processor confirmation against local
// state. Idempotent: confirming an already-completed payment is a no-op,
// since processor callbacks may be delivered more than once.
func (s *Service) ConfirmExternal(ctx context.Context, intentID string) (*Payment, error) {
	p, links, err := s.repo.GetByIntentID(ctx, intentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("no payment for intent %s", intentID)
		}
		return nil, err
	}
	if p.Status == StatusCompleted {
		return p, nil
	}

	intent, err := s.processor.RetrieveIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status != IntentSucceeded {
		return nil, apperr.StateConflict("intent %s is %s, not succeeded", intentID, intent.Status)
	}
	return s.settle(ctx, p, links, "", "")
}

// ChargeSavedInstrument performs an off-session charge against a stored
// instrument, provisioning a processor-side customer on first use. A
// decline marks the payment failed with a typed reason and leaves it
// re-attemptable; linked orders stay served.
func (s *Service) ChargeSavedInstrument(ctx context.Context, id auth.Identity, paymentID, instrumentRef string) (*Payment, error) {
	if instrumentRef == "" {
		return nil, apperr.Validation("instrument_ref is required")
	}
	p, links, err := s.getOwned(ctx, id, paymentID)
	if err != nil {
		return nil, err
	}
	if !p.Method.External() {
		return nil, apperr.StateConflict("payment method %s cannot charge an instrument", p.Method)
	}
	if p.Status != StatusPending && p.Status != StatusFailed {
		return nil, apperr.StateConflict("payment is %s, expected pending or failed", p.Status)
	}

	customerID, err := s.repo.GetProcessorCustomer(ctx, id.OwnerKey())
	if err != nil {
		return nil, fmt.Errorf("lookup processor customer: %w", err)
	}
	if customerID == "" {
		customerID, err = s.processor.CreateCustomer(ctx, id.Email)
		if err != nil {
			return nil, err
		}
		if err := s.repo.SaveProcessorCustomer(ctx, id.OwnerKey(), customerID); err != nil {
			return nil, fmt.Errorf("save processor customer: %w", err)
		}
	}
	if err := s.processor.AttachInstrument(ctx, customerID, instrumentRef); err != nil {
		return nil, err
	}

	amount, err := money.Parse(p.Total)
	if err != nil {
		return nil, err
	}
	res, err := s.processor.ChargeInstrument(ctx, customerID, instrumentRef, money.Cents(amount), s.currency, map[string]string{
		"payment_id": p.ID,
	})
	if err != nil {
		// transport failure: payment stays as it was, safe to retry
		return nil, err
	}
	if res.IntentID != "" {
		if err := s.repo.SetIntentID(ctx, p.ID, res.IntentID); err != nil {
			return nil, fmt.Errorf("store intent id: %w", err)
		}
		p.IntentID = res.IntentID
	}
	if !res.Succeeded {
		if err := s.repo.MarkFailed(ctx, p.ID, res.Decline); err != nil {
			return nil, fmt.Errorf("mark failed: %w", err)
		}
		p.Status = StatusFailed
		p.FailureReason = res.Decline
		return p, nil
	}
	return s.settle(ctx, p, links, "", "")
}

// ProcessCash settles a cash payment synchronously, recording the staff
// member who took the money.
func (s *Service) ProcessCash(ctx context.Context, staff auth.Identity, paymentID, notes string) (*Payment, error) {
	p, links, err := s.get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Method != MethodCash {
		return nil, apperr.StateConflict("payment method is %s, expected cash", p.Method)
	}
	if p.Status != StatusPending {
		return nil, apperr.StateConflict("payment is %s, expected pending", p.Status)
	}
	return s.settle(ctx, p, links, staff.ID, notes)
}

// ListPending lists payments still awaiting settlement.
func (s *Service) ListPending(ctx context.Context, limit, offset int) ([]Payment, error) {
	return s.repo.ListPending(ctx, limit, offset)
}

// GetPayment returns a payment with its order links; non-staff only see
// their own.
func (s *Service) GetPayment(ctx context.Context, id auth.Identity, paymentID string) (*Payment, []OrderLink, error) {
	p, links, err := s.get(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	if !id.Role.IsStaff() && p.OwnerKey() != id.OwnerKey() {
		return nil, nil, apperr.NotFound("payment %s not found", paymentID)
	}
	return p, links, nil
}

// ReconcilePendingIntents sweeps locally-pending payments whose intents
// the processor already confirmed. Covers the window where a processor
// succeeded but the local completion write did not land.
func (s *Service) ReconcilePendingIntents(ctx context.Context) (int, error) {
	pending, err := s.repo.ListPendingWithIntents(ctx)
	if err != nil {
		return 0, err
	}
	settled := 0
	for i := range pending {
		p := &pending[i]
		intent, err := s.processor.RetrieveIntent(ctx, p.IntentID)
		if err != nil {
			logrus.WithError(err).WithField("payment_id", p.ID).Warn("reconcile: intent lookup failed")
			continue
		}
		if intent.Status != IntentSucceeded {
			continue
		}
		if _, err := s.settle(ctx, p, nil, "", ""); err != nil {
			logrus.WithError(err).WithField("payment_id", p.ID).Warn("reconcile: settle failed")
			continue
		}
		settled++
	}
	return settled, nil
}

// settle completes the payment and its orders exactly once, then
// notifies. A duplicate settlement attempt is absorbed as a no-op.
func (s *Service) settle(ctx context.Context, p *Payment, links []OrderLink, processedBy, notes string) (*Payment, error) {
	completed, err := s.repo.Complete(ctx, p.ID, processedBy, notes)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyCompleted):
			p.Status = StatusCompleted
			return p, nil
		case errors.Is(err, ErrOrderSettledElsewhere):
			return nil, apperr.Wrap(apperr.KindDuplicateSettlement, err, "order already settled")
		case errors.Is(err, ErrNotSettleable):
			return nil, apperr.StateConflict("payment %s cannot settle", p.ID)
		case errors.Is(err, ErrNotFound):
			return nil, apperr.NotFound("payment %s not found", p.ID)
		}
		return nil, fmt.Errorf("complete payment: %w", err)
	}

	p.Status = StatusCompleted
	if processedBy != "" {
		p.ProcessedBy = processedBy
	}
	for i := range links {
		links[i].Settled = true
	}

	// notify-after-commit: the settlement is durable by now
	for i := range completed {
		o := &completed[i]
		s.notifier.Publish(
			notify.NewEvent(notify.EventOrderStatusChanged, statusChanged{Order: o, PreviousStatus: order.StatusServed}),
			notify.ActorTopic(o.OwnerKey()), notify.OrderTopic(o.ID), notify.TableTopic(o.TableID),
			notify.RoleTopic(auth.RoleWaiter), notify.RoleTopic(auth.RoleKitchen), notify.RoleTopic(auth.RoleAdmin))
	}
	return p, nil
}

type statusChanged struct {
	Order          *order.Order `json:"order"`
	PreviousStatus order.Status `json:"previous_status"`
}

func (s *Service) get(ctx context.Context, paymentID string) (*Payment, []OrderLink, error) {
	p, links, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, apperr.NotFound("payment %s not found", paymentID)
		}
		return nil, nil, err
	}
	return p, links, nil
}

func (s *Service) getOwned(ctx context.Context, id auth.Identity, paymentID string) (*Payment, []OrderLink, error) {
	p, links, err := s.get(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	if !id.Role.IsStaff() && p.OwnerKey() != id.OwnerKey() {
		return nil, nil, apperr.NotFound("payment %s not found", paymentID)
	}
	return p, links, nil
}
