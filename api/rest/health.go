package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	dbadapter "github.com/nisekogame/backend/db"
	mw "github.com/nisekogame/backend/middleware"
	"gorm.io/gorm"
)

// Health handles GET /health. It reports 503 when the store does not answer
// a ping within two seconds.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := dbadapter.Ping(ctx, db); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable", "kind": mw.KindStoreUnavailable})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
