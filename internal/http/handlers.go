package http

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/tazhibayda/fanzone-auth/internal/auth"
	"github.com/tazhibayda/fanzone-auth/internal/credential"
	"github.com/tazhibayda/fanzone-auth/internal/domain"
	"github.com/tazhibayda/fanzone-auth/internal/emailtoken"
	"github.com/tazhibayda/fanzone-auth/internal/log"
	"github.com/tazhibayda/fanzone-auth/internal/metrics"
	"github.com/tazhibayda/fanzone-auth/internal/oauth"
	"github.com/tazhibayda/fanzone-auth/internal/session"
)

const (
	StateCookie    = "oauthState"
	OnboardingPath = "/onboarding"
)

// Pinger reports store health for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	Auth     *auth.Service
	Tokens   *emailtoken.Service
	Social   *oauth.Service
	State    *oauth.StateSigner
	Sessions *session.Manager
	Users    *credential.Store
	Health   Pinger
	Logger   *zap.Logger
}

func NewHandler(a *auth.Service, tokens *emailtoken.Service, social *oauth.Service, state *oauth.StateSigner,
	sessions *session.Manager, users *credential.Store, health Pinger, logger *zap.Logger) *Handler {
	return &Handler{
		Auth:     a,
		Tokens:   tokens,
		Social:   social,
		State:    state,
		Sessions: sessions,
		Users:    users,
		Health:   health,
		Logger:   log.OrNop(logger),
	}
}

func badJSON(c *gin.Context) {
	c.JSON(http.StatusBadRequest, domain.Fail("Invalid request body"))
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login godoc
// @Summary Log in with email and password
// @Tags auth
// @Accept json
// @Produce json
// @Param payload body loginReq true "credentials"
// @Success 200 {object} domain.Result
// @Failure 400 {object} domain.Result
// @Failure 429 {object} domain.Result
// @Router /api/auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var in loginReq
	if err := c.ShouldBindJSON(&in); err != nil {
		badJSON(c)
		return
	}
	c.JSON(http.StatusOK, h.Auth.LoginAction(c.Request.Context(), Jar(c), in.Email, in.Password))
}

type registerReq struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register godoc
// @Summary Register a local account
// @Tags auth
// @Accept json
// @Produce json
// @Param payload body registerReq true "register"
// @Success 200 {object} domain.Result
// @Failure 400 {object} domain.Result
// @Failure 429 {object} domain.Result
// @Router /api/auth/register [post]
func (h *Handler) Register(c *gin.Context) {
	var in registerReq
	if err := c.ShouldBindJSON(&in); err != nil {
		badJSON(c)
		return
	}
	c.JSON(http.StatusOK, h.Auth.Register(c.Request.Context(), in.Name, in.Email, in.Password))
}

// Logout godoc
// @Summary Log out and clear session cookies
// @Tags auth
// @Produce json
// @Success 200 {object} domain.Result
// @Router /api/auth/logout [post]
func (h *Handler) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, h.Auth.Logout(c.Request.Context(), Jar(c)))
}

// Refresh godoc
// @Summary Rotate the session from the refresh cookie
// @Tags auth
// @Produce json
// @Success 200 {object} domain.Result
// @Router /api/auth/refresh [post]
func (h *Handler) Refresh(c *gin.Context) {
	u, err := h.Sessions.RefreshSession(c.Request.Context(), Jar(c))
	switch {
	case err == nil:
		metrics.SessionRefreshes.WithLabelValues("ok").Inc()
		res := domain.OK("Session refreshed")
		res.User = u.Public()
		c.JSON(http.StatusOK, res)
	case errors.Is(err, session.ErrNoRefreshToken), errors.Is(err, session.ErrInvalidRefreshToken), errors.Is(err, session.ErrUserNotFound):
		metrics.SessionRefreshes.WithLabelValues("rejected").Inc()
		h.Sessions.ClearAuthCookies(Jar(c))
		c.JSON(http.StatusOK, domain.Fail(auth.MsgNotLoggedIn))
	default:
		metrics.SessionRefreshes.WithLabelValues("error").Inc()
		log.WithDD(c.Request.Context(), h.Logger).Error("refresh session", zap.Error(err))
		c.JSON(http.StatusOK, domain.Fail(auth.MsgGeneric))
	}
}

// Me godoc
// @Summary Current user
// @Tags auth
// @Produce json
// @Success 200 {object} domain.PublicUser
// @Failure 401 {object} domain.Result
// @Router /api/auth/me [get]
func (h *Handler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, CurrentUser(c).Public())
}

type emailReq struct {
	Email string `json:"email"`
}

// RequestVerification godoc
// @Summary Send a new verification email
// @Tags email
// @Accept json
// @Produce json
// @Param payload body emailReq true "address"
// @Success 200 {object} domain.Result
// @Router /api/auth/verification/request [post]
func (h *Handler) RequestVerification(c *gin.Context) {
	var in emailReq
	if err := c.ShouldBindJSON(&in); err != nil {
		badJSON(c)
		return
	}
	c.JSON(http.StatusOK, h.Tokens.RequestVerificationEmail(c.Request.Context(), in.Email))
}

type tokenReq struct {
	Token string `json:"token"`
}

// VerifyEmail godoc
// @Summary Redeem an email verification token
// @Tags email
// @Accept json
// @Produce json
// @Param payload body tokenReq true "token"
// @Success 200 {object} domain.Result
// @Router /api/auth/verify-email [post]
func (h *Handler) VerifyEmail(c *gin.Context) {
	var in tokenReq
	if err := c.ShouldBindJSON(&in); err != nil {
		badJSON(c)
		return
	}
	c.JSON(http.StatusOK, h.Tokens.VerifyEmail(c.Request.Context(), in.Token))
}

// ForgotPassword godoc
// @Summary Send a password reset email
// @Tags email
// @Accept json
// @Produce json
// @Param payload body emailReq true "address"
// @Success 200 {object} domain.Result
// @Router /api/auth/password/forgot [post]
func (h *Handler) ForgotPassword(c *gin.Context) {
	var in emailReq
	if err := c.ShouldBindJSON(&in); err != nil {
		badJSON(c)
		return
	}
	c.JSON(http.StatusOK, h.Tokens.RequestPasswordReset(c.Request.Context(), in.Email))
}

type resetReq struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// ResetPassword godoc
// @Summary Set a new password with a reset token
// @Tags email
// @Accept json
// @Produce json
// @Param payload body resetReq true "reset"
// @Success 200 {object} domain.Result
// @Router /api/auth/password/reset [post]
func (h *Handler) ResetPassword(c *gin.Context) {
	var in resetReq
	if err := c.ShouldBindJSON(&in); err != nil {
		badJSON(c)
		return
	}
	c.JSON(http.StatusOK, h.Tokens.ResetPassword(c.Request.Context(), in.Token, in.NewPassword))
}

func (h *Handler) stateCookie(c *gin.Context, value string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     StateCookie,
		Value:    value,
		Path:     "/api/auth/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   true,
		// Lax: the provider redirect back is a cross-site top-level navigation.
		SameSite: http.SameSiteLaxMode,
	})
}

// OAuthStart godoc
// @Summary Redirect to the identity provider
// @Tags oauth
// @Param provider path string true "google or facebook"
// @Success 302
// @Failure 404 {object} domain.Result
// @Router /api/auth/{provider} [get]
func (h *Handler) OAuthStart(c *gin.Context) {
	p, ok := oauth.ParseProvider(c.Param("provider"))
	if !ok {
		c.JSON(http.StatusNotFound, domain.Fail("Unknown sign-in provider"))
		return
	}
	state, err := h.State.NewState()
	if err != nil {
		log.WithDD(c.Request.Context(), h.Logger).Error("oauth state", zap.Error(err))
		c.Redirect(http.StatusFound, oauthFailure)
		return
	}
	target, err := h.Social.AuthorizationURL(p, state)
	if err != nil {
		c.JSON(http.StatusNotFound, domain.Fail("Sign-in provider is not configured"))
		return
	}
	h.stateCookie(c, state, int(oauth.StateTTL.Seconds()))
	c.Redirect(http.StatusFound, target)
}

var oauthFailure = auth.LoginPath + "?error=" + url.QueryEscape("oauth")

// OAuthCallback godoc
// @Summary Complete a provider sign-in
// @Tags oauth
// @Param provider path string true "google or facebook"
// @Param code query string true "authorization code"
// @Param state query string true "state"
// @Success 302
// @Router /api/auth/{provider}/callback [get]
func (h *Handler) OAuthCallback(c *gin.Context) {
	ctx := c.Request.Context()
	lg := log.WithDD(ctx, h.Logger, zap.String("provider", c.Param("provider")))

	p, ok := oauth.ParseProvider(c.Param("provider"))
	if !ok {
		c.JSON(http.StatusNotFound, domain.Fail("Unknown sign-in provider"))
		return
	}
	state := c.Query("state")
	saved, _ := c.Cookie(StateCookie)
	h.stateCookie(c, "", -1)
	if state == "" || state != saved || !h.State.VerifyState(state) {
		lg.Warn("oauth state mismatch")
		c.Redirect(http.StatusFound, oauthFailure)
		return
	}
	if e := c.Query("error"); e != "" {
		lg.Info("provider denied authorization", zap.String("error", e))
		c.Redirect(http.StatusFound, oauthFailure)
		return
	}

	var res *oauth.CallbackResult
	err := WithSpan(ctx, "oauth.callback", func(ctx context.Context) error {
		var err error
		res, err = h.Social.HandleCallback(ctx, p, c.Query("code"))
		return err
	}, tracer.Tag("provider", string(p)))
	if err != nil {
		lg.Error("oauth callback failed", zap.Error(err))
		c.Redirect(http.StatusFound, oauthFailure)
		return
	}

	h.Sessions.SetAuthCookies(Jar(c), res.AccessToken, res.RefreshToken)
	if res.NewUser {
		c.Redirect(http.StatusFound, OnboardingPath)
		return
	}
	c.Redirect(http.StatusFound, DashboardPath)
}

// AdminUser godoc
// @Summary Look up a user by id
// @Tags admin
// @Produce json
// @Param id path string true "user id"
// @Success 200 {object} domain.PublicUser
// @Failure 401 {object} domain.Result
// @Failure 403 {object} domain.Result
// @Failure 404 {object} domain.Result
// @Router /api/admin/users/{id} [get]
func (h *Handler) AdminUser(c *gin.Context) {
	u, err := h.Users.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		log.WithDD(c.Request.Context(), h.Logger).Error("admin user lookup", zap.Error(err))
		c.JSON(http.StatusInternalServerError, domain.Fail(auth.MsgGeneric))
		return
	}
	if u == nil {
		c.JSON(http.StatusNotFound, domain.Fail("User not found"))
		return
	}
	c.JSON(http.StatusOK, u.Public())
}

func (h *Handler) Healthz(c *gin.Context) {
	if err := h.Health.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
