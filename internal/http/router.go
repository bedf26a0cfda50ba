// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ridedispatch/internal/http/handlers"
	"ridedispatch/internal/http/middleware"
	"ridedispatch/internal/infra"
	"ridedispatch/internal/logger"
)

func NewRouter(deps ServerDeps) http.Handler {
	log := deps.Log
	if log == nil {
		log = logger.Discard()
	}

	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.RequestID(), middleware.Logging(log), middleware.Metrics())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.Auth(deps.Verifier)
	driverOnly := middleware.RequireRole(infra.RoleDriver)
	adminOnly := middleware.RequireRole(infra.RoleAdmin, infra.RoleInternal)

	api := r.Group("/api", auth)

	dispatchHandler := handlers.NewDispatchHandler(deps.Matching)
	api.POST("/dispatch", dispatchHandler.Dispatch)

	orderHandler := handlers.NewOrderHandler(deps.Order, deps.Hub)
	api.POST("/orders", orderHandler.Create)
	api.GET("/orders/:id", orderHandler.Get)
	api.POST("/orders/:id/cancel", orderHandler.Cancel)
	api.POST("/orders/:id/accept", driverOnly, orderHandler.Accept)
	api.POST("/orders/:id/depart", driverOnly, orderHandler.Depart)
	api.POST("/orders/:id/start", driverOnly, orderHandler.Start)
	api.POST("/orders/:id/finish", driverOnly, orderHandler.Finish)
	api.PUT("/orders/:id/driver-location", driverOnly, orderHandler.DriverLocation)

	driverHandler := handlers.NewDriverHandler(deps.Order)
	api.GET("/drivers/jobs", driverOnly, driverHandler.Jobs)

	locationHandler := handlers.NewLocationHandler(deps.Location)
	api.PUT("/drivers/me/presence", driverOnly, locationHandler.Presence)
	api.GET("/admin/drivers/online", adminOnly, locationHandler.Online)

	if deps.Hub != nil {
		r.GET("/ws/orders/:id", auth, orderHandler.Watch)
	}

	return r
}
