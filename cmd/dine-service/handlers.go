package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dinehq/mesa/internal/apperr"
	"github.com/dinehq/mesa/internal/auth"
	"github.com/dinehq/mesa/internal/order"
	"github.com/dinehq/mesa/internal/payment"
)

func writeErr(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), gin.H{"error": err.Error()})
}

func identity(c *gin.Context) (auth.Identity, bool) {
	id, ok := auth.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
	}
	return id, ok
}

func pagination(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	return limit, offset
}

// createOrderHandler godoc
// @Summary  Submit an order
// @Accept   json
// @Produce  json
// @Param    body body order.CreateOrderRequest true "order"
// @Success  201 {object} order.OrderResponse
// @Router   /orders [post]
func createOrderHandler(orders *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		var req order.CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		o, items, err := orders.CreateOrder(c.Request.Context(), id, req)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, order.OrderResponse{Order: *o, Items: items})
	}
}

func listMyOrdersHandler(orders *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		limit, offset := pagination(c)
		out, err := orders.ListMine(c.Request.Context(), id, limit, offset)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": out, "limit": limit, "offset": offset})
	}
}

func getOrderHandler(orders *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		o, items, err := orders.GetOrder(c.Request.Context(), id, c.Param("id"))
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, order.OrderResponse{Order: *o, Items: items})
	}
}

// updateOrderStatusHandler godoc
// @Summary  Move an order along the fulfillment pipeline
// @Param    id path string true "order id"
// @Param    body body order.UpdateStatusRequest true "target status"
// @Success  200 {object} order.Order
// @Router   /orders/{id}/status [patch]
func updateOrderStatusHandler(orders *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		var req order.UpdateStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		o, err := orders.UpdateStatus(c.Request.Context(), id, c.Param("id"), order.Status(req.Status))
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

func cancelOrderHandler(orders *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		o, err := orders.Cancel(c.Request.Context(), id, c.Param("id"))
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

func acceptOrderHandler(orders *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		o, err := orders.Accept(c.Request.Context(), id, c.Param("id"))
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

func rejectOrderHandler(orders *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		var req order.RejectOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		o, err := orders.Reject(c.Request.Context(), id, c.Param("id"), req.Reason)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

func listOrdersByStatusHandler(orders *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := pagination(c)
		out, err := orders.ListByStatus(c.Request.Context(), order.Status(c.Query("status")), limit, offset)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": out, "limit": limit, "offset": offset})
	}
}

// billingInfoHandler godoc
// @Summary  Served, not-yet-billed orders with a grand total
// @Success  200 {object} payment.BillingInfo
// @Router   /billing [get]
func billingInfoHandler(payments *payment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		info, err := payments.GetBillingInfo(c.Request.Context(), id)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

// createPaymentHandler godoc
// @Summary  Bill one or more served orders together
// @Param    body body payment.CreatePaymentRequest true "payment"
// @Success  201 {object} payment.PaymentResponse
// @Router   /payments [post]
func createPaymentHandler(payments *payment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		var req payment.CreatePaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		p, links, err := payments.CreatePayment(c.Request.Context(), id, req)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, payment.PaymentResponse{Payment: *p, Orders: links})
	}
}

func getPaymentHandler(payments *payment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		p, links, err := payments.GetPayment(c.Request.Context(), id, c.Param("id"))
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, payment.PaymentResponse{Payment: *p, Orders: links})
	}
}

func createIntentHandler(payments *payment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		out, err := payments.CreateExternalIntent(c.Request.Context(), id, c.Param("id"))
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, out)
	}
}

// confirmPaymentHandler receives the processor's confirmation callback.
// Safe to deliver more than once.
func confirmPaymentHandler(payments *payment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req payment.ConfirmRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.IntentID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "intent_id is required"})
			return
		}
		p, err := payments.ConfirmExternal(c.Request.Context(), req.IntentID)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

func chargeInstrumentHandler(payments *payment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		var req payment.ChargeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		p, err := payments.ChargeSavedInstrument(c.Request.Context(), id, c.Param("id"), req.InstrumentRef)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

func cashPaymentHandler(payments *payment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity(c)
		if !ok {
			return
		}
		var req payment.CashRequest
		if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
		p, err := payments.ProcessCash(c.Request.Context(), id, c.Param("id"), req.Notes)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

func listPendingPaymentsHandler(payments *payment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := pagination(c)
		out, err := payments.ListPending(c.Request.Context(), limit, offset)
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": out, "limit": limit, "offset": offset})
	}
}

func reconcileHandler(payments *payment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := payments.ReconcilePendingIntents(c.Request.Context())
		if err != nil {
			writeErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"settled": n})
	}
}
