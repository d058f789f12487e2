package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/orrn/printdesk/internal/api/handlers"
	"github.com/orrn/printdesk/internal/api/middleware"
	"github.com/orrn/printdesk/internal/metrics"
)

// Deps are the components the HTTP surface is built on.
type Deps struct {
	Auth     *middleware.AuthMiddleware
	Jobs     *handlers.JobHandler
	Wallet   *handlers.WalletHandler
	Uploads  *handlers.UploadHandler
	Admin    *handlers.AdminHandler
	Webhooks *handlers.WebhookHandler
	Health   *handlers.HealthHandler
	Metrics  *metrics.Collector
	Logger   logrus.FieldLogger
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.RequestIDMiddleware(),
		middleware.RecoveryMiddleware(d.Logger),
		middleware.LoggingMiddleware(d.Logger),
		middleware.CORSMiddleware(),
	)
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware())
		r.GET("/metrics", d.Metrics.Handler())
	}

	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "printdesk running") })
	r.GET("/health", d.Health.Health)
	r.GET("/uploads/:fileId", d.Uploads.Serve)

	api := r.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.POST("/login", d.Auth.LoginHandler)
	authGroup.POST("/logout", d.Auth.LogoutHandler)

	authed := api.Group("", d.Auth.RequireAuth())
	authed.GET("/auth/me", d.Auth.MeHandler)
	authed.POST("/auth/change-password", d.Auth.ChangePasswordHandler)
	authed.POST("/upload", d.Uploads.Upload)
	d.Wallet.RegisterRoutes(authed.Group("/wallet"))
	d.Jobs.RegisterRoutes(authed.Group("/print"))

	d.Jobs.RegisterDeviceRoutes(api.Group("/print", d.Auth.RequireDevice()))

	admin := authed.Group("/admin", d.Auth.RequireAdmin())
	d.Admin.RegisterRoutes(admin)
	if d.Webhooks != nil {
		d.Webhooks.RegisterRoutes(admin)
	}
	admin.GET("/users", d.Auth.ListUsersHandler)
	admin.POST("/users", d.Auth.RegisterUserHandler)

	return r
}
