package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	apiKeyHeader = "X-API-Key"

	ctxIdentity = "identity"
	ctxAuthed   = "authed"
)

// authenticator validates X-API-Key against the configured key list.
// An empty list means dev mode: everything is allowed.
type authenticator struct {
	keys [][]byte
}

func newAuthenticator(keys []string) *authenticator {
	a := &authenticator{}
	for _, k := range keys {
		if k != "" {
			a.keys = append(a.keys, []byte(k))
		}
	}
	return a
}

func (a *authenticator) devMode() bool { return len(a.keys) == 0 }

// matches compares the presented key against every configured key in
// constant time, so the comparison count leaks nothing about which key
// matched.
func (a *authenticator) matches(presented string) bool {
	p := []byte(presented)
	ok := false
	for _, k := range a.keys {
		if subtle.ConstantTimeCompare(p, k) == 1 {
			ok = true
		}
	}
	return ok
}

// middleware authenticates the request. When required is false a missing
// key downgrades to unauthenticated instead of rejecting; an invalid key is
// always rejected. Identity is the API key when authenticated, otherwise
// the client IP.
func (a *authenticator) middleware(required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.devMode() {
			c.Set(ctxIdentity, c.ClientIP())
			c.Set(ctxAuthed, true)
			c.Next()
			return
		}

		key := c.GetHeader(apiKeyHeader)
		switch {
		case key == "" && required:
			writeError(c, http.StatusUnauthorized, "Unauthorized", "missing API key", false)
			return
		case key == "":
			c.Set(ctxIdentity, c.ClientIP())
			c.Set(ctxAuthed, false)
		case !a.matches(key):
			writeError(c, http.StatusUnauthorized, "Unauthorized", "invalid API key", false)
			return
		default:
			c.Set(ctxIdentity, key)
			c.Set(ctxAuthed, true)
		}
		c.Next()
	}
}

func identityOf(c *gin.Context) (string, bool) {
	return c.GetString(ctxIdentity), c.GetBool(ctxAuthed)
}
