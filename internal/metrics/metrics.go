package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests"},
		[]string{"route", "method", "status"},
	)
	ReqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request duration seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	InFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "http_in_flight_requests", Help: "In-flight HTTP requests"},
	)

	LoginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "auth_login_attempts_total", Help: "Credential login attempts by outcome"},
		[]string{"result"},
	)
	Lockouts = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "auth_account_lockouts_total", Help: "Accounts locked after repeated failed logins"},
	)
	Registrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "auth_registrations_total", Help: "Registrations by verification email outcome"},
		[]string{"email"},
	)
	EmailTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "auth_email_tokens_total", Help: "Single-use email token operations"},
		[]string{"purpose", "op", "result"},
	)
	OAuthCallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "auth_oauth_callbacks_total", Help: "OAuth callbacks by provider and outcome"},
		[]string{"provider", "result"},
	)
	SessionRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "auth_session_refreshes_total", Help: "Refresh-token rotations"},
		[]string{"result"},
	)
)

var once sync.Once

// MustRegister adds every collector to the default registry. Safe to call more
// than once.
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(
			RequestsTotal, ReqDuration, InFlight,
			LoginAttempts, Lockouts, Registrations, EmailTokens, OAuthCallbacks, SessionRefreshes,
		)
	})
}
