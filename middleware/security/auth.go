package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"CollabProject/tools/errs"
	tsec "CollabProject/tools/security"
)

// Context keys downstream handlers read the verified identity from.
const (
	CtxUserIDKey   = "userId"
	CtxIdentityKey = "identity"
)

type Options struct {
	JWT tsec.Options

	// HeaderToken is the header carrying the raw token.
	// Authorization: Bearer is always accepted as well.
	HeaderToken string
}

func DefaultOptions(jwt tsec.Options) *Options {
	return &Options{JWT: jwt, HeaderToken: "authorization"}
}

// Middleware verifies the bearer token and stashes the identity in the
// request context. Requests without a valid token are rejected.
func Middleware(opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = &Options{HeaderToken: "authorization"}
	}
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))
		if token == "" {
			token = strings.TrimSpace(c.GetHeader("Authorization"))
		}
		// accept both a raw token and the Bearer scheme in either header
		if strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = strings.TrimSpace(token[len("bearer "):])
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusOK, errs.ErrTokenInvalid)
			return
		}

		id, err := tsec.Verify(opts.JWT, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusOK, errs.ErrTokenExpired.WithDetail(err.Error()))
			return
		}
		c.Set(CtxUserIDKey, id.UserID)
		c.Set(CtxIdentityKey, id)
		c.Next()
	}
}
