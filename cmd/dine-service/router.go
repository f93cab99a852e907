package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/dinehq/mesa/internal/auth"
	"github.com/dinehq/mesa/internal/httpx"
	"github.com/dinehq/mesa/internal/notify"
	"github.com/dinehq/mesa/internal/order"
	"github.com/dinehq/mesa/internal/payment"
)

func setupRouter(orders *order.Service, payments *payment.Service, hub *notify.Hub, authn auth.Authenticator) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), httpx.RequestID(), httpx.Logger())

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.GET("/ws", notify.WSHandler(hub, authn))
	// processor confirmations arrive out-of-band, not on a user session
	r.POST("/webhooks/processor", confirmPaymentHandler(payments))

	api := r.Group("/api", auth.Middleware(authn))
	{
		api.POST("/orders", createOrderHandler(orders))
		api.GET("/orders", listMyOrdersHandler(orders))
		api.GET("/orders/:id", getOrderHandler(orders))
		api.POST("/orders/:id/cancel", cancelOrderHandler(orders))

		api.GET("/billing", billingInfoHandler(payments))
		api.POST("/payments", createPaymentHandler(payments))
		api.GET("/payments/:id", getPaymentHandler(payments))
		api.POST("/payments/:id/intent", createIntentHandler(payments))
		api.POST("/payments/:id/charge", chargeInstrumentHandler(payments))
	}

	front := api.Group("", auth.RequireRole(auth.RoleWaiter, auth.RoleAdmin, auth.RoleSuperAdmin))
	{
		front.POST("/orders/:id/accept", acceptOrderHandler(orders))
		front.POST("/orders/:id/reject", rejectOrderHandler(orders))
	}

	staff := api.Group("", auth.RequireStaff())
	{
		staff.PATCH("/orders/:id/status", updateOrderStatusHandler(orders))
		staff.GET("/admin/orders", listOrdersByStatusHandler(orders))
		staff.POST("/payments/:id/cash", cashPaymentHandler(payments))
		staff.GET("/admin/payments", listPendingPaymentsHandler(payments))
		staff.POST("/admin/payments/reconcile", reconcileHandler(payments))
	}

	return r
}
