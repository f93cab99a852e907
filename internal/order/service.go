package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dinehq/mesa/internal/apperr"
	"github.com/dinehq/mesa/internal/auth"
	"github.com/dinehq/mesa/internal/catalog"
	"github.com/dinehq/mesa/internal/money"
	"github.com/dinehq/mesa/internal/notify"
)

const defaultRejectionReason = "No reason provided"

// Service is the order lifecycle manager: it validates and creates
// orders, enforces the state machine and notifies after commit.
type Service struct {
	repo     Repository
	catalog  catalog.Source
	notifier notify.Notifier
}

func NewService(repo Repository, cat catalog.Source, n notify.Notifier) *Service {
	return &Service{repo: repo, catalog: cat, notifier: n}
}

func (s *Service) CreateOrder(ctx context.Context, id auth.Identity, req CreateOrderRequest) (*Order, []Item, error) {
	if len(req.Items) == 0 {
		return nil, nil, apperr.Validation("at least one item is required")
	}
	if req.TableID == "" {
		req.TableID = id.TableID
	}
	if req.TableID == "" {
		return nil, nil, apperr.Validation("table is required")
	}

	o := &Order{
		ID:                  uuid.NewString(),
		TableID:             req.TableID,
		Status:              StatusPending,
		SpecialInstructions: req.SpecialInstructions,
	}
	if id.IsGuest {
		o.SessionID = id.SessionID
	} else {
		o.UserID = id.ID
	}

	total := decimal.Zero
	var items []Item
	for _, reqItem := range req.Items {
		if reqItem.Quantity < 1 {
			return nil, nil, apperr.Validation("quantity must be at least 1")
		}
		mi, err := s.catalog.FetchMenuItem(ctx, reqItem.MenuItemID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return nil, nil, apperr.Validation("unknown menu item %s", reqItem.MenuItemID)
			}
			return nil, nil, fmt.Errorf("fetch menu item: %w", err)
		}
		if !mi.Available {
			return nil, nil, apperr.Validation("menu item %s is unavailable", mi.Name)
		}
		unit, err := money.Parse(mi.Price)
		if err != nil {
			return nil, nil, fmt.Errorf("menu item %s: %w", mi.ID, err)
		}

		it := Item{
			ID:                  uuid.NewString(),
			OrderID:             o.ID,
			MenuItemID:          mi.ID,
			Quantity:            reqItem.Quantity,
			SpecialInstructions: reqItem.SpecialInstructions,
		}
		for _, optID := range reqItem.ModifierOptionIDs {
			opt, err := s.catalog.FetchModifierOption(ctx, optID)
			if err != nil {
				if errors.Is(err, catalog.ErrNotFound) {
					return nil, nil, apperr.Validation("unknown modifier option %s", optID)
				}
				return nil, nil, fmt.Errorf("fetch modifier option: %w", err)
			}
			if !opt.Available {
				return nil, nil, apperr.Validation("modifier option %s is unavailable", opt.Name)
			}
			adj, err := money.Parse(opt.PriceAdjustment)
			if err != nil {
				return nil, nil, fmt.Errorf("modifier option %s: %w", opt.ID, err)
			}
			unit = unit.Add(adj)
			it.Modifiers = append(it.Modifiers, ItemModifier{
				ID:              uuid.NewString(),
				OrderItemID:     it.ID,
				GroupID:         opt.GroupID,
				OptionID:        opt.ID,
				PriceAdjustment: money.String(adj),
			})
		}
		lineTotal := money.MulQty(unit, reqItem.Quantity)
		it.UnitPrice = money.String(unit)
		it.TotalPrice = money.String(lineTotal)
		total = total.Add(lineTotal)
		items = append(items, it)
	}
	o.Total = money.String(total)

	if err := s.repo.Create(ctx, o, items); err != nil {
		return nil, nil, fmt.Errorf("create order: %w", err)
	}

	s.notifier.Publish(notify.NewEvent(notify.EventOrderCreated, o),
		notify.RoleTopic(auth.RoleWaiter), notify.RoleTopic(auth.RoleKitchen),
		notify.RoleTopic(auth.RoleAdmin), notify.RoleTopic(auth.RoleSuperAdmin))
	return o, items, nil
}

func (s *Service) GetOrder(ctx context.Context, id auth.Identity, orderID string) (*Order, []Item, error) {
	o, items, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, apperr.NotFound("order %s not found", orderID)
		}
		return nil, nil, err
	}
	if !id.Role.IsStaff() && o.OwnerKey() != id.OwnerKey() {
		// hide existence from non-owners
		return nil, nil, apperr.NotFound("order %s not found", orderID)
	}
	return o, items, nil
}

func (s *Service) ListMine(ctx context.Context, id auth.Identity, limit, offset int) ([]Order, error) {
	return s.repo.ListByOwner(ctx, id.OwnerKey(), limit, offset)
}

func (s *Service) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]Order, error) {
	if !status.Valid() {
		return nil, apperr.Validation("unknown status %q", status)
	}
	return s.repo.ListByStatus(ctx, status, limit, offset)
}

// UpdateStatus moves an order along an allowed edge. served->completed is
// not reachable here; it belongs to payment settlement.
func (s *Service) UpdateStatus(ctx context.Context, id auth.Identity, orderID string, next Status) (*Order, error) {
	if !next.Valid() {
		return nil, apperr.Validation("unknown status %q", next)
	}
	if next == StatusCompleted {
		return nil, apperr.StateConflict("orders complete through payment settlement only")
	}
	o, prev, err := s.transition(ctx, id, orderID, next, "", nil)
	if err != nil {
		return nil, err
	}
	s.publishStatusChanged(o, prev,
		notify.RoleTopic(auth.RoleWaiter), notify.RoleTopic(auth.RoleKitchen), notify.RoleTopic(auth.RoleAdmin))
	return o, nil
}

// Accept moves a pending order to accepted and tells the kitchen.
func (s *Service) Accept(ctx context.Context, id auth.Identity, orderID string) (*Order, error) {
	o, _, err := s.transition(ctx, id, orderID, StatusAccepted, "", requireStatus(StatusPending))
	if err != nil {
		return nil, err
	}
	s.notifier.Publish(notify.NewEvent(notify.EventOrderAccepted, o),
		notify.ActorTopic(o.OwnerKey()), notify.RoleTopic(auth.RoleKitchen), notify.RoleTopic(auth.RoleAdmin))
	return o, nil
}

// Reject moves a pending order to rejected, storing the reason verbatim.
// Only the owner hears about it.
func (s *Service) Reject(ctx context.Context, id auth.Identity, orderID, reason string) (*Order, error) {
	if reason == "" {
		reason = defaultRejectionReason
	}
	o, _, err := s.transition(ctx, id, orderID, StatusRejected, reason, requireStatus(StatusPending))
	if err != nil {
		return nil, err
	}
	s.notifier.Publish(notify.NewEvent(notify.EventOrderRejected, o), notify.ActorTopic(o.OwnerKey()))
	return o, nil
}

// Cancel is the owner backing out; allowed from pending or accepted only.
func (s *Service) Cancel(ctx context.Context, id auth.Identity, orderID string) (*Order, error) {
	o, prev, err := s.transition(ctx, id, orderID, StatusCancelled, "", func(cur Status) error {
		if cur != StatusPending && cur != StatusAccepted {
			return apperr.StateConflict("cannot cancel an order that is %s", cur)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishStatusChanged(o, prev,
		notify.RoleTopic(auth.RoleWaiter), notify.RoleTopic(auth.RoleKitchen), notify.RoleTopic(auth.RoleAdmin))
	return o, nil
}

// transition reads the order, authorizes the actor, checks the edge and
// writes through a compare-and-swap keyed on the status it read. A lost
// race surfaces as a state conflict, never a silent overwrite.
func (s *Service) transition(ctx context.Context, id auth.Identity, orderID string, next Status, rejectionReason string, guard func(Status) error) (*Order, Status, error) {
	o, _, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, "", apperr.NotFound("order %s not found", orderID)
		}
		return nil, "", err
	}
	if !id.Role.IsStaff() && o.OwnerKey() != id.OwnerKey() {
		return nil, "", apperr.NotFound("order %s not found", orderID)
	}
	if guard != nil {
		if err := guard(o.Status); err != nil {
			return nil, "", err
		}
	}
	if !o.Status.CanTransitionTo(next) {
		return nil, "", apperr.StateConflict("cannot move order from %s to %s", o.Status, next)
	}

	prev := o.Status
	if err := s.repo.UpdateStatusCAS(ctx, o.ID, prev, next, rejectionReason); err != nil {
		switch {
		case errors.Is(err, ErrStatusChanged):
			return nil, "", apperr.StateConflict("order %s changed concurrently", o.ID)
		case errors.Is(err, ErrNotFound):
			return nil, "", apperr.NotFound("order %s not found", orderID)
		}
		return nil, "", err
	}
	o.Status = next
	o.RejectionReason = rejectionReason
	return o, prev, nil
}

func (s *Service) publishStatusChanged(o *Order, prev Status, topics ...notify.Topic) {
	base := []notify.Topic{
		notify.ActorTopic(o.OwnerKey()),
		notify.OrderTopic(o.ID),
		notify.TableTopic(o.TableID),
	}
	s.notifier.Publish(
		notify.NewEvent(notify.EventOrderStatusChanged, statusChangedPayload{Order: o, PreviousStatus: prev}),
		append(base, topics...)...)
}

func requireStatus(want Status) func(Status) error {
	return func(cur Status) error {
		if cur != want {
			return apperr.StateConflict("order is %s, expected %s", cur, want)
		}
		return nil
	}
}
