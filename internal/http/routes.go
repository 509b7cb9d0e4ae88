package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/tazhibayda/fanzone-auth/docs"
	"github.com/tazhibayda/fanzone-auth/internal/domain"
)

type RouterOptions struct {
	// Limiter throttles the credential and email endpoints. Nil disables it.
	Limiter Limiter
	// Guard filters page navigations. Nil disables it.
	Guard *RouteGuard
	// TraceService enables Datadog request spans under this service name.
	TraceService string
}

func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	if opts.TraceService != "" {
		r.Use(Tracing(opts.TraceService))
	}
	r.Use(Metrics(), AccessLog(h.Logger))
	if opts.Guard != nil {
		r.Use(opts.Guard.Middleware())
	}

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	limited := RateLimit(opts.Limiter)
	api := r.Group("/api/auth")
	{
		api.POST("/login", limited, h.Login)
		api.POST("/register", limited, h.Register)
		api.POST("/logout", h.Logout)
		api.POST("/refresh", h.Refresh)
		api.GET("/me", RequireUser(h.Auth), h.Me)

		api.POST("/verification/request", limited, h.RequestVerification)
		api.POST("/verify-email", limited, h.VerifyEmail)
		api.POST("/password/forgot", limited, h.ForgotPassword)
		api.POST("/password/reset", limited, h.ResetPassword)

		api.GET("/:provider", h.OAuthStart)
		api.GET("/:provider/callback", h.OAuthCallback)
	}

	admin := r.Group("/api/admin", RequireUser(h.Auth, domain.RoleAdmin))
	admin.GET("/users/:id", h.AdminUser)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, domain.Fail("Not found"))
	})
	return r
}
