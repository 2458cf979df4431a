package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Origin validation for the websocket route; adjust to your domain
// allowlist. Authentication itself happens over the socket.
func Origin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet && c.Request.URL.Path == "/ws" {
			// e.g. validate Origin header / cookies here
		}
		c.Next()
	}
}
