package http_test

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/tazhibayda/fanzone-auth/internal/auth"
	"github.com/tazhibayda/fanzone-auth/internal/domain"
	httpapi "github.com/tazhibayda/fanzone-auth/internal/http"
	"github.com/tazhibayda/fanzone-auth/internal/session"
)

func Test_Register_Verify_Login_Me(t *testing.T) {
	env := newTestEnv(t)

	// 1) REGISTER
	w := env.do("POST", "/api/auth/register", `{"name":"Alice","email":"alice@example.com","password":"password1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("register code=%d body=%s", w.Code, w.Body.String())
	}
	if res := decodeResult(t, w); !res.Success || res.User == nil || res.User.IsVerified {
		t.Fatalf("register result: %+v", res)
	}

	// 2) LOGIN before verification
	w = env.do("POST", "/api/auth/login", `{"email":"alice@example.com","password":"password1"}`)
	res := decodeResult(t, w)
	if res.Success || !res.NeedsVerification {
		t.Fatalf("unverified login: %+v", res)
	}
	if _, ok := cookies(w)[session.AccessCookie]; ok {
		t.Fatal("unverified login must not set cookies")
	}

	// 3) VERIFY
	w = env.do("POST", "/api/auth/verify-email", map[string]string{"token": env.lastToken("alice@example.com")})
	if res := decodeResult(t, w); !res.Success {
		t.Fatalf("verify: %+v", res)
	}

	// 4) LOGIN
	w = env.do("POST", "/api/auth/login", `{"email":"alice@example.com","password":"password1"}`)
	if res := decodeResult(t, w); !res.Success || res.User.Email != "alice@example.com" {
		t.Fatalf("login: %+v", res)
	}
	ck := cookies(w)
	for _, name := range []string{session.AccessCookie, session.RefreshCookie} {
		c, ok := ck[name]
		if !ok {
			t.Fatalf("missing cookie %s", name)
		}
		if !c.HttpOnly || !c.Secure || c.Path != "/" || c.SameSite != http.SameSiteStrictMode {
			t.Fatalf("cookie %s attributes: %+v", name, c)
		}
	}
	if ck[session.AccessCookie].MaxAge != int(time.Hour.Seconds()) {
		t.Fatalf("access max-age=%d", ck[session.AccessCookie].MaxAge)
	}

	// 5) ME
	w = env.do("GET", "/api/auth/me", nil, ck[session.AccessCookie])
	if w.Code != http.StatusOK {
		t.Fatalf("me code=%d body=%s", w.Code, w.Body.String())
	}
	var me domain.PublicUser
	if err := json.Unmarshal(w.Body.Bytes(), &me); err != nil {
		t.Fatal(err)
	}
	if me.Email != "alice@example.com" || me.Name != "Alice" || !me.IsVerified {
		t.Fatalf("me: %+v", me)
	}
	if strings.Contains(w.Body.String(), "password") {
		t.Fatalf("me leaked credentials: %s", w.Body.String())
	}
}

func Test_BadJSON(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/auth/login", "/api/auth/register", "/api/auth/password/reset"} {
		w := env.do("POST", path, `{"email":`)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s code=%d", path, w.Code)
		}
	}
}

func Test_BusinessFailuresAre200(t *testing.T) {
	env := newTestEnv(t)
	w := env.do("POST", "/api/auth/login", `{"email":"nobody@example.com","password":"whatever1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d", w.Code)
	}
	if res := decodeResult(t, w); res.Success || res.Message != auth.MsgInvalidCredentials {
		t.Fatalf("result: %+v", res)
	}
}

func Test_Me_RequiresSession(t *testing.T) {
	env := newTestEnv(t)
	w := env.do("GET", "/api/auth/me", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("code=%d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/login?from=%2Fapi%2Fauth%2Fme" {
		t.Fatalf("location=%q", loc)
	}
}

func Test_Me_RotatesFromRefreshCookie(t *testing.T) {
	env := newTestEnv(t)
	ck := env.signIn("bob@example.com", "Bobby")

	w := env.do("GET", "/api/auth/me", nil, ck[1])
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}
	set := cookies(w)
	access, ok := set[session.AccessCookie]
	if !ok || access.Value == "" {
		t.Fatal("access cookie was not re-issued")
	}
	if _, ok := set[session.RefreshCookie]; ok {
		t.Fatal("refresh cookie must not be rewritten on implicit rotation")
	}
	if claims, ok := env.Codec.Verify(access.Value); !ok || claims.Email != "bob@example.com" {
		t.Fatalf("re-issued token invalid: %+v", claims)
	}
}

func Test_Refresh(t *testing.T) {
	env := newTestEnv(t)

	if res := decodeResult(t, env.do("POST", "/api/auth/refresh", nil)); res.Success {
		t.Fatal("refresh without cookie must fail")
	}

	ck := env.signIn("carol@example.com", "Carol")
	w := env.do("POST", "/api/auth/refresh", nil, ck[1])
	if res := decodeResult(t, w); !res.Success || res.User.Email != "carol@example.com" {
		t.Fatalf("refresh: %+v", res)
	}
	set := cookies(w)
	if set[session.AccessCookie] == nil || set[session.RefreshCookie] == nil {
		t.Fatal("refresh must rotate both cookies")
	}

	// an access token is not a refresh token
	if res := decodeResult(t, env.do("POST", "/api/auth/refresh", nil,
		&http.Cookie{Name: session.RefreshCookie, Value: ck[0].Value})); res.Success {
		t.Fatal("access token accepted as refresh token")
	}
}

func Test_Logout(t *testing.T) {
	env := newTestEnv(t)
	ck := env.signIn("dave@example.com", "Dave")

	w := env.do("POST", "/api/auth/logout", nil, ck...)
	if res := decodeResult(t, w); !res.Success || res.Message != auth.MsgLoggedOut {
		t.Fatalf("logout: %+v", res)
	}
	for _, name := range []string{session.AccessCookie, session.RefreshCookie} {
		c := cookies(w)[name]
		if c == nil || c.Value != "" || c.MaxAge >= 0 {
			t.Fatalf("cookie %s not cleared: %+v", name, c)
		}
	}

	if res := decodeResult(t, env.do("POST", "/api/auth/logout", nil)); res.Success || res.Message != auth.MsgNotLoggedIn {
		t.Fatalf("logout without session: %+v", res)
	}
}

func Test_PasswordReset(t *testing.T) {
	env := newTestEnv(t)
	env.signIn("erin@example.com", "Erin")

	unknown := decodeResult(t, env.do("POST", "/api/auth/password/forgot", `{"email":"ghost@example.com"}`))
	known := decodeResult(t, env.do("POST", "/api/auth/password/forgot", `{"email":"erin@example.com"}`))
	if unknown != known || !known.Success {
		t.Fatalf("forgot answers differ: %+v vs %+v", unknown, known)
	}

	token := env.lastToken("erin@example.com")
	w := env.do("POST", "/api/auth/password/reset", map[string]string{"token": token, "newPassword": "new-password"})
	if res := decodeResult(t, w); !res.Success {
		t.Fatalf("reset: %+v", res)
	}
	w = env.do("POST", "/api/auth/login", `{"email":"erin@example.com","password":"new-password"}`)
	if res := decodeResult(t, w); !res.Success {
		t.Fatalf("login with new password: %+v", res)
	}
}

func Test_OAuth_Google(t *testing.T) {
	env := newTestEnv(t)
	env.Google.set(map[string]any{"sub": "g-100", "email": "Fan@Example.com", "name": "Football Fan", "email_verified": true})

	start := func() (state string, ck *http.Cookie) {
		w := env.do("GET", "/api/auth/google", nil)
		if w.Code != http.StatusFound {
			t.Fatalf("start code=%d", w.Code)
		}
		loc, err := url.Parse(w.Header().Get("Location"))
		if err != nil {
			t.Fatal(err)
		}
		if loc.Query().Get("client_id") != "gid" || loc.Query().Get("response_type") != "code" {
			t.Fatalf("authorization url: %s", loc)
		}
		ck = cookies(w)[httpapi.StateCookie]
		if ck == nil || ck.Value != loc.Query().Get("state") {
			t.Fatalf("state cookie: %+v", ck)
		}
		return loc.Query().Get("state"), ck
	}

	state, ck := start()
	w := env.do("GET", "/api/auth/google/callback?code=abc&state="+url.QueryEscape(state), nil, ck)
	if w.Code != http.StatusFound || w.Header().Get("Location") != httpapi.OnboardingPath {
		t.Fatalf("first callback code=%d location=%q", w.Code, w.Header().Get("Location"))
	}
	set := cookies(w)
	if set[session.AccessCookie] == nil || set[session.RefreshCookie] == nil {
		t.Fatal("callback must set session cookies")
	}

	state, ck = start()
	w = env.do("GET", "/api/auth/google/callback?code=abc&state="+url.QueryEscape(state), nil, ck)
	if w.Header().Get("Location") != httpapi.DashboardPath {
		t.Fatalf("second callback location=%q", w.Header().Get("Location"))
	}

	u, err := env.Store.FindByEmail(env.Ctx, "fan@example.com")
	if err != nil || u == nil {
		t.Fatalf("user: %v %v", u, err)
	}
	if u.GoogleID != "g-100" || u.AuthProvider != domain.ProviderGoogle || !u.IsVerified {
		t.Fatalf("linked user: %+v", u)
	}
}

func Test_OAuth_Rejects(t *testing.T) {
	env := newTestEnv(t)
	env.Google.set(map[string]any{"sub": "g-1", "email": "x@example.com", "name": "Xavier"})

	if w := env.do("GET", "/api/auth/twitter", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown provider code=%d", w.Code)
	}
	if w := env.do("GET", "/api/auth/facebook", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unconfigured provider code=%d", w.Code)
	}

	// state not matching the cookie
	w := env.do("GET", "/api/auth/google/callback?code=abc&state=forged.sig", nil,
		&http.Cookie{Name: httpapi.StateCookie, Value: "other.sig"})
	if loc := w.Header().Get("Location"); loc != "/login?error=oauth" {
		t.Fatalf("forged state location=%q", loc)
	}

	// matching but unsigned state
	w = env.do("GET", "/api/auth/google/callback?code=abc&state=forged.sig", nil,
		&http.Cookie{Name: httpapi.StateCookie, Value: "forged.sig"})
	if loc := w.Header().Get("Location"); loc != "/login?error=oauth" {
		t.Fatalf("unsigned state location=%q", loc)
	}
	if u, _ := env.Store.FindByEmail(env.Ctx, "x@example.com"); u != nil {
		t.Fatal("rejected callback created a user")
	}
}

func Test_AdminUser(t *testing.T) {
	env := newTestEnv(t)
	userCk := env.signIn("fan@example.com", "Regular Fan")
	adminCk := env.signIn("boss@example.com", "The Boss")

	boss, _ := env.Store.FindByEmail(env.Ctx, "boss@example.com")
	boss.Role = domain.RoleAdmin
	if err := env.Store.Save(env.Ctx, boss); err != nil {
		t.Fatal(err)
	}
	fan, _ := env.Store.FindByEmail(env.Ctx, "fan@example.com")

	if w := env.do("GET", "/api/admin/users/"+fan.ID.Hex(), nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous code=%d", w.Code)
	}
	if w := env.do("GET", "/api/admin/users/"+fan.ID.Hex(), nil, userCk[0]); w.Code != http.StatusForbidden {
		t.Fatalf("non-admin code=%d", w.Code)
	}
	w := env.do("GET", "/api/admin/users/"+fan.ID.Hex(), nil, adminCk[0])
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "fan@example.com") {
		t.Fatalf("admin code=%d body=%s", w.Code, w.Body.String())
	}
	if w := env.do("GET", "/api/admin/users/not-an-id", nil, adminCk[0]); w.Code != http.StatusNotFound {
		t.Fatalf("missing user code=%d", w.Code)
	}
}

func Test_Healthz_RequestID(t *testing.T) {
	env := newTestEnv(t)
	w := env.do("GET", "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz code=%d", w.Code)
	}
	if w.Header().Get(httpapi.RequestIDHeader) == "" {
		t.Fatal("request id not set")
	}
}
