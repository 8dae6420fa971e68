package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"crm-platform/internal/auth"
	"crm-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	mutationCapPrefix = "crm:mutcap:"
	mutationCapTTL    = 30 * time.Second
)

// MutationCap limits in-flight mutating requests per user. It guards the
// lifecycle endpoints against client retry storms that would otherwise
// hammer the slot-conflict path. Fails open when redis is unavailable.
func MutationCap(rdb *redis.Client, limit int, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rdb == nil {
			c.Next()
			return
		}
		userID, err := auth.UserID(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
			return
		}
		key := mutationCapPrefix + userID

		ok, err := utils.AcquireConcurrencyCap(c.Request.Context(), rdb, key, limit, mutationCapTTL)
		if err != nil {
			log.Warn("mutation cap acquire failed", "err", err, "user_id", userID)
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many concurrent requests"})
			return
		}
		defer func() {
			if err := utils.ReleaseConcurrencyCap(c.Request.Context(), rdb, key); err != nil {
				log.Warn("mutation cap release failed", "err", err, "user_id", userID)
			}
		}()

		c.Next()
	}
}
