// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dukani/internal/http/handlers"
	"dukani/internal/http/middleware"
	"dukani/internal/infra"
	"dukani/internal/modules/delivery"
	"dukani/internal/modules/order"
	"dukani/internal/modules/payment"
	"dukani/internal/modules/pricing"
	"dukani/internal/types"
)

type RouterDeps struct {
	Order    *order.Service
	Payment  *payment.Service
	Delivery *delivery.Service
	// Pricing is optional; without it the commission endpoint is not served.
	Pricing  *pricing.Service
	Verifier infra.TokenVerifier
	Log      *zap.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Recovery(log), middleware.Logging(log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	paymentHandler := handlers.NewPaymentHandler(deps.Payment, log)
	// The gateway cannot present a bearer token.
	r.POST("/api/mpesa/callback", paymentHandler.Callback)

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	orderHandler := handlers.NewOrderHandler(deps.Order)
	api.POST("/orders/draft", orderHandler.Draft)
	api.GET("/orders", orderHandler.List)
	api.GET("/orders/:orderId", orderHandler.Get)
	api.POST("/orders/update-status", orderHandler.UpdateStatus)
	api.POST("/orders/confirm-delivery", orderHandler.ConfirmDelivery)

	api.POST("/orders/payment", paymentHandler.Initiate)
	api.GET("/payment-status/:orderRef", paymentHandler.Status)
	api.POST("/mpesa/status", paymentHandler.Query)

	deliveryHandler := handlers.NewDeliveryHandler(deps.Delivery)
	api.POST("/delivery/assign", deliveryHandler.Assign)
	api.GET("/delivery/rider/details", deliveryHandler.RiderDetails)
	api.POST("/delivery/rider", middleware.RequireRole(types.RoleDelivery), deliveryHandler.RiderAction)

	userHandler := handlers.NewUserHandler(deps.Delivery.Directory())
	admin := api.Group("/users", middleware.RequireRole(types.RoleAdmin))
	admin.GET("", userHandler.List)
	admin.POST("", userHandler.Save)

	if deps.Pricing != nil {
		pricingHandler := handlers.NewPricingHandler(deps.Pricing)
		api.PUT("/vendors/:vendorId/commission", middleware.RequireRole(types.RoleAdmin), pricingHandler.SetCommission)
	}

	return r
}
