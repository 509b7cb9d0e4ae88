package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tazhibayda/fanzone-auth/internal/session"
)

const jarKey = "cookie_jar"

// ginJar adapts a gin context to session.CookieJar. Writes are visible to
// later reads in the same request so a rotated access token is seen by the
// handler that follows the middleware that rotated it.
type ginJar struct {
	c       *gin.Context
	written map[string]string
}

// Jar returns the request's cookie jar, creating it on first use.
func Jar(c *gin.Context) session.CookieJar {
	if v, ok := c.Get(jarKey); ok {
		return v.(*ginJar)
	}
	j := &ginJar{c: c, written: map[string]string{}}
	c.Set(jarKey, j)
	return j
}

func (j *ginJar) Get(name string) (string, bool) {
	if v, ok := j.written[name]; ok {
		return v, v != ""
	}
	v, err := j.c.Cookie(name)
	if err != nil || v == "" {
		return "", false
	}
	return v, true
}

func (j *ginJar) Set(ck session.Cookie) {
	maxAge := int(ck.MaxAge.Seconds())
	value := ck.Value
	if ck.MaxAge <= 0 {
		maxAge, value = -1, ""
	}
	j.written[ck.Name] = value
	http.SetCookie(j.c.Writer, &http.Cookie{
		Name:     ck.Name,
		Value:    value,
		Path:     ck.Path,
		MaxAge:   maxAge,
		HttpOnly: ck.HTTPOnly,
		Secure:   ck.Secure,
		SameSite: ck.SameSite,
	})
}

func (j *ginJar) Clear(name string) {
	j.Set(session.Cookie{Name: name, Path: "/", HTTPOnly: true, Secure: true})
}
