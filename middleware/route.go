package middleware

import (
	"github.com/gin-gonic/gin"

	midsec "CollabProject/middleware/security"
	tsec "CollabProject/tools/security"
)

// RouteOpt configures a wrapped route.
type RouteOpt struct {
	IsAuth bool
}

var authOpts *midsec.Options

// ConfigAuth sets the JWT options the auth middleware verifies with.
// Call once from main() before registering routes.
func ConfigAuth(jwt tsec.Options) {
	authOpts = midsec.DefaultOptions(jwt)
}

func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.IsAuth {
		r.POST(path, midsec.Middleware(authOpts), handler)
	} else {
		r.POST(path, handler)
	}
}

func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.IsAuth {
		r.GET(path, midsec.Middleware(authOpts), handler)
	} else {
		r.GET(path, handler)
	}
}
