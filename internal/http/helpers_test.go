package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/tazhibayda/fanzone-auth/internal/auth"
	"github.com/tazhibayda/fanzone-auth/internal/credential"
	"github.com/tazhibayda/fanzone-auth/internal/domain"
	"github.com/tazhibayda/fanzone-auth/internal/emailtoken"
	httpapi "github.com/tazhibayda/fanzone-auth/internal/http"
	"github.com/tazhibayda/fanzone-auth/internal/mail"
	"github.com/tazhibayda/fanzone-auth/internal/oauth"
	"github.com/tazhibayda/fanzone-auth/internal/repo"
	"github.com/tazhibayda/fanzone-auth/internal/security"
	"github.com/tazhibayda/fanzone-auth/internal/session"
)

var tokenRe = regexp.MustCompile(`token=([A-Za-z0-9_-]+)`)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// provider is a stand-in Google: token endpoint plus userinfo.
type provider struct {
	mu      sync.Mutex
	profile map[string]any
	srv     *httptest.Server
}

func newProvider(t *testing.T) *provider {
	t.Helper()
	p := &provider{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "at", "token_type": "Bearer"})
	})
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(p.profile)
	})
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *provider) set(profile map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profile = profile
}

type testEnv struct {
	T        *testing.T
	Ctx      context.Context
	Clock    *clock
	Store    *credential.Store
	Codec    *security.Codec
	Outbox   *mail.Outbox
	Google   *provider
	Limiter  *httpapi.MemoryLimiter
	Router   *gin.Engine
	Sessions *session.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	c := &clock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	mem := repo.NewMemoryStore()
	store := credential.NewStore(mem, credential.WithClock(c.Now), credential.WithBcryptCost(bcrypt.MinCost))
	codec := security.NewCodec("http-test-secret", time.Hour, 7*24*time.Hour, security.WithClock(c.Now))
	sessions := session.NewManager(codec, store, false, nil)
	outbox := &mail.Outbox{}
	mailer := mail.NewMailer(outbox, "http://localhost:3000", "")

	g := newProvider(t)
	social := oauth.NewService(oauth.Config{Google: oauth.ProviderConfig{
		ClientID:     "gid",
		ClientSecret: "gsecret",
		RedirectURL:  "http://localhost:3000/api/auth/google/callback",
		Endpoint:     oauth2.Endpoint{AuthURL: g.srv.URL + "/auth", TokenURL: g.srv.URL + "/token"},
		ProfileURL:   g.srv.URL + "/profile",
	}}, store, sessions, oauth.WithHTTPClient(g.srv.Client()))

	a := auth.NewService(store, sessions, mailer, auth.WithFailureDelay(0))
	tokens := emailtoken.NewService(store, mailer)
	h := httpapi.NewHandler(a, tokens, social, oauth.NewStateSigner("state-secret"), sessions, store, mem, nil)

	rl := httpapi.NewMemoryLimiter(100, time.Minute)
	r := httpapi.NewRouter(h, httpapi.RouterOptions{Limiter: rl, Guard: httpapi.NewRouteGuard(codec)})

	return &testEnv{
		T: t, Ctx: context.Background(), Clock: c, Store: store, Codec: codec, Outbox: outbox,
		Google: g, Limiter: rl, Router: r, Sessions: sessions,
	}
}

// do sends a request carrying cookies and returns the recorder.
func (e *testEnv) do(method, target string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	e.T.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			e.T.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

func decodeResult(t *testing.T, w *httptest.ResponseRecorder) domain.Result {
	t.Helper()
	var res domain.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return res
}

// cookies returns the live cookies a response set, keyed by name. Deletions
// are reported with an empty value and a negative MaxAge.
func cookies(w *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := map[string]*http.Cookie{}
	for _, ck := range w.Result().Cookies() {
		out[ck.Name] = ck
	}
	return out
}

func (e *testEnv) lastToken(email string) string {
	e.T.Helper()
	msg, ok := e.Outbox.Last(email)
	if !ok {
		e.T.Fatalf("no mail to %s", email)
	}
	m := tokenRe.FindStringSubmatch(msg.Body)
	if len(m) != 2 {
		e.T.Fatalf("no token in %q", msg.Body)
	}
	return m[1]
}

// signIn registers, verifies and logs in a user, returning the session cookies.
func (e *testEnv) signIn(email, name string) []*http.Cookie {
	e.T.Helper()
	if res := decodeResult(e.T, e.do("POST", "/api/auth/register", map[string]string{
		"name": name, "email": email, "password": "password1",
	})); !res.Success {
		e.T.Fatalf("register: %s", res.Message)
	}
	if res := decodeResult(e.T, e.do("POST", "/api/auth/verify-email", map[string]string{
		"token": e.lastToken(email),
	})); !res.Success {
		e.T.Fatalf("verify: %s", res.Message)
	}
	w := e.do("POST", "/api/auth/login", map[string]string{"email": email, "password": "password1"})
	if res := decodeResult(e.T, w); !res.Success {
		e.T.Fatalf("login: %s", res.Message)
	}
	ck := cookies(w)
	return []*http.Cookie{ck[session.AccessCookie], ck[session.RefreshCookie]}
}
