package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tsec "CollabProject/tools/security"
)

func newAuthRouter(t *testing.T, opts *Options) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	token, _, err := tsec.Generate(opts.JWT, tsec.Identity{UserID: "alice"})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/protected", Middleware(opts), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": c.GetString(CtxUserIDKey)})
	})
	return r, token
}

func doGet(r *gin.Engine, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddlewareAcceptsBearerScheme(t *testing.T) {
	opts := DefaultOptions(tsec.DefaultOptions([]byte("test-secret")))
	r, token := newAuthRouter(t, opts)

	w := doGet(r, "Authorization", "Bearer "+token)
	assert.Contains(t, w.Body.String(), `"user":"alice"`)
}

func TestMiddlewareAcceptsRawToken(t *testing.T) {
	opts := DefaultOptions(tsec.DefaultOptions([]byte("test-secret")))
	r, token := newAuthRouter(t, opts)

	w := doGet(r, "Authorization", token)
	assert.Contains(t, w.Body.String(), `"user":"alice"`)
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	opts := DefaultOptions(tsec.DefaultOptions([]byte("test-secret")))
	r, _ := newAuthRouter(t, opts)

	w := doGet(r, "", "")
	assert.Contains(t, w.Body.String(), `"code":1501`)
	assert.NotContains(t, w.Body.String(), `"user"`)
}

func TestMiddlewareRejectsBadToken(t *testing.T) {
	opts := DefaultOptions(tsec.DefaultOptions([]byte("test-secret")))
	r, _ := newAuthRouter(t, opts)

	w := doGet(r, "Authorization", "Bearer not-a-token")
	assert.Contains(t, w.Body.String(), `"code":1503`)
	assert.NotContains(t, w.Body.String(), `"user"`)
}
