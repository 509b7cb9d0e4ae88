package http

import (
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tazhibayda/fanzone-auth/internal/auth"
	"github.com/tazhibayda/fanzone-auth/internal/security"
	"github.com/tazhibayda/fanzone-auth/internal/session"
)

const DashboardPath = "/dashboard"

var (
	protectedPrefixes = []string{"/dashboard", "/onboarding", "/profile", "/settings", "/favorites", "/events"}
	authOnlyPaths     = []string{"/login", "/register", "/forgot-password", "/reset-password"}
	excludedPrefixes  = []string{"/api/", "/static/", "/_next/", "/docs/"}
	excludedPaths     = []string{"/metrics", "/healthz", "/favicon.ico", "/robots.txt", "/manifest.json", "/sw.js"}
)

// RouteGuard is a coarse, cookie-presence filter in front of page routes.
// It never loads the user: protected pages only need an access cookie to pass,
// and the page itself resolves the session.
type RouteGuard struct {
	codec *security.Codec
}

func NewRouteGuard(codec *security.Codec) *RouteGuard {
	return &RouteGuard{codec: codec}
}

// Decide returns the redirect location for a navigation to p, or "" to let it
// through. accessToken is the raw access cookie value, possibly empty.
func (g *RouteGuard) Decide(p, accessToken string) string {
	if excluded(p) {
		return ""
	}
	if hasPrefix(p, protectedPrefixes) {
		if accessToken == "" {
			return auth.LoginRedirect(p)
		}
		return ""
	}
	if isAny(p, authOnlyPaths) && accessToken != "" {
		if claims, ok := g.codec.Verify(accessToken); ok && claims.TokenType == security.TokenAccess {
			return DashboardPath
		}
	}
	return ""
}

func (g *RouteGuard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, _ := c.Cookie(session.AccessCookie)
		if loc := g.Decide(c.Request.URL.Path, tok); loc != "" {
			c.Redirect(http.StatusFound, loc)
			c.Abort()
			return
		}
		c.Next()
	}
}

func excluded(p string) bool {
	if hasPrefix(p+"/", excludedPrefixes) || isAny(p, excludedPaths) {
		return true
	}
	// static assets such as /logo.png or /fonts/a.woff2
	return path.Ext(p) != ""
}

// hasPrefix matches whole path segments: /events matches /events/42 but not
// /eventsfeed.
func hasPrefix(p string, prefixes []string) bool {
	for _, pre := range prefixes {
		if strings.HasSuffix(pre, "/") {
			if strings.HasPrefix(p, pre) {
				return true
			}
			continue
		}
		if p == pre || strings.HasPrefix(p, pre+"/") {
			return true
		}
	}
	return false
}

func isAny(p string, paths []string) bool {
	p = strings.TrimSuffix(p, "/")
	for _, x := range paths {
		if p == x {
			return true
		}
	}
	return false
}
