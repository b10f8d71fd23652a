package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newWhitelistRouter(entries []string) *gin.Engine {
	r := gin.New()
	r.Use(IPWhitelist(entries))
	r.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func whitelistStatus(r *gin.Engine, ip string) int {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("X-Real-IP", ip)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestIPWhitelist_Empty_AllowsAll(t *testing.T) {
	r := newWhitelistRouter(nil)
	assert.Equal(t, http.StatusOK, whitelistStatus(r, "1.2.3.4"))
}

func TestIPWhitelist_ExactIP(t *testing.T) {
	r := newWhitelistRouter([]string{"192.168.1.1"})
	assert.Equal(t, http.StatusOK, whitelistStatus(r, "192.168.1.1"))
	assert.Equal(t, http.StatusForbidden, whitelistStatus(r, "192.168.1.2"))
}

func TestIPWhitelist_CIDR(t *testing.T) {
	r := newWhitelistRouter([]string{"10.0.0.0/8", "::1"})
	assert.Equal(t, http.StatusOK, whitelistStatus(r, "10.20.30.40"))
	assert.Equal(t, http.StatusOK, whitelistStatus(r, "::1"))
	assert.Equal(t, http.StatusForbidden, whitelistStatus(r, "11.0.0.1"))
}

func TestIPWhitelist_OnlyGarbageBlocksAll(t *testing.T) {
	r := newWhitelistRouter([]string{"not-an-ip"})
	assert.Equal(t, http.StatusForbidden, whitelistStatus(r, "127.0.0.1"))
}
