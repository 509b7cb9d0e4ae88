package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tazhibayda/fanzone-auth/internal/auth"
	"github.com/tazhibayda/fanzone-auth/internal/domain"
	"github.com/tazhibayda/fanzone-auth/internal/helper"
	"github.com/tazhibayda/fanzone-auth/internal/log"
	"github.com/tazhibayda/fanzone-auth/internal/metrics"
)

const (
	RequestIDHeader = "X-Request-ID"
	authUserKey     = "auth_user"
)

// RequestID propagates the caller's X-Request-ID or mints one, and stores it
// on the request context for event publishing.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(RequestIDHeader, id)
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(helper.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics.InFlight.Inc()
		start := time.Now()
		c.Next()
		metrics.InFlight.Dec()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RequestsTotal.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.ReqDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

func AccessLog(logger *zap.Logger) gin.HandlerFunc {
	logger = log.OrNop(logger)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		lg := log.WithDD(c.Request.Context(), logger,
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(RequestIDHeader)),
		)
		if status >= http.StatusInternalServerError {
			lg.Error("request")
			return
		}
		lg.Info("request")
	}
}

// RequireUser resolves the session user for API routes. Without a session it
// answers 401; with the wrong role, 403. Page redirects are left to the UI.
func RequireUser(a *auth.Service, roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, redirect, err := a.RequireAuth(c.Request.Context(), Jar(c), c.Request.URL.Path, roles...)
		switch {
		case err != nil:
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, domain.Fail(auth.MsgGeneric))
			return
		case redirect != nil && redirect.Location == auth.UnauthorizedPath:
			c.AbortWithStatusJSON(http.StatusForbidden, domain.Fail("You do not have access to this resource"))
			return
		case redirect != nil:
			c.Header("Location", redirect.Location)
			c.AbortWithStatusJSON(http.StatusUnauthorized, domain.Fail(auth.MsgNotLoggedIn))
			return
		}
		c.Set(authUserKey, u)
		c.Next()
	}
}

// CurrentUser is the user RequireUser stored on c.
func CurrentUser(c *gin.Context) *domain.User {
	v, ok := c.Get(authUserKey)
	if !ok {
		return nil
	}
	u, _ := v.(*domain.User)
	return u
}
