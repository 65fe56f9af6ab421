package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"botcloud/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func setupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TokenAuthMiddleware())
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, Caller(c))
	})
	return r
}

func withToken(t *testing.T, token string) {
	old := config.BotCloudToken
	config.BotCloudToken = token
	t.Cleanup(func() { config.BotCloudToken = old })
}

func TestNoTokenConfiguredAllowsAll(t *testing.T) {
	withToken(t, "")
	r := setupRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/whoami", nil)
	req.Header.Set(CallerHeader, "alice")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())
}

func TestTokenAuth(t *testing.T) {
	withToken(t, "s3cret")
	r := setupRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/whoami", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/whoami", nil)
	req.Header.Set("Authorization", "token wrong")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/whoami", nil)
	req.Header.Set("Authorization", "token s3cret")
	req.Header.Set(CallerHeader, "bob")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bob", w.Body.String())
}

func TestBasicAuthUsesUsernameAsCaller(t *testing.T) {
	withToken(t, "s3cret")
	r := setupRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/whoami", nil)
	req.SetBasicAuth("carol", "s3cret")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "carol", w.Body.String())
}

func TestCheckOwner(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, CheckOwner(ctx, AllowAll{}, "", "alpha"))

	owners := OwnershipFunc(func(_ context.Context, caller, botID string) (bool, error) {
		return caller == "alice", nil
	})
	assert.NoError(t, CheckOwner(ctx, owners, "alice", "alpha"))
	assert.ErrorIs(t, CheckOwner(ctx, owners, "mallory", "alpha"), ErrNotOwner)

	broken := OwnershipFunc(func(context.Context, string, string) (bool, error) {
		return false, errors.New("user service down")
	})
	assert.Error(t, CheckOwner(ctx, broken, "alice", "alpha"))
}
