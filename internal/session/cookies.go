package session

import (
	"net/http"
	"time"
)

const (
	AccessCookie  = "accessToken"
	RefreshCookie = "refreshToken"
)

// Cookie is the framework-neutral description of a cookie write.
type Cookie struct {
	Name     string
	Value    string
	MaxAge   time.Duration
	Path     string
	HTTPOnly bool
	Secure   bool
	SameSite http.SameSite
}

// CookieJar is the request/response cookie surface a session needs. The HTTP
// layer provides an implementation over the framework's context.
type CookieJar interface {
	Get(name string) (string, bool)
	Set(c Cookie)
	Clear(name string)
}

// MapJar is an in-memory CookieJar. Set writes through to reads, as a browser
// would on the next request.
type MapJar struct {
	Values  map[string]string
	Written map[string]Cookie
}

func NewMapJar() *MapJar {
	return &MapJar{Values: map[string]string{}, Written: map[string]Cookie{}}
}

func (j *MapJar) Get(name string) (string, bool) {
	v, ok := j.Values[name]
	return v, ok && v != ""
}

func (j *MapJar) Set(c Cookie) {
	j.Written[c.Name] = c
	if c.MaxAge <= 0 {
		delete(j.Values, c.Name)
		return
	}
	j.Values[c.Name] = c.Value
}

func (j *MapJar) Clear(name string) {
	j.Set(Cookie{Name: name, Path: "/", MaxAge: -1})
}
