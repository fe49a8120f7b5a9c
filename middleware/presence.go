package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/tovplay/cache"
	"github.com/kasuganosora/tovplay/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Presence stamps accounts.last_seen_at for authenticated requests. Writes
// are throttled to one per account per interval through the cache.
func Presence(db *gorm.DB, c cache.Cache, interval time.Duration, log *zap.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if id := GetAccountID(ctx); id != 0 {
			Touch(ctx.Request.Context(), db, c, id, interval, log)
		}
		ctx.Next()
	}
}

// Touch records that accountID was seen now unless it was already
// recorded within interval.
func Touch(ctx context.Context, db *gorm.DB, c cache.Cache, accountID int64, interval time.Duration, log *zap.Logger) {
	key := "seen:" + strconv.FormatInt(accountID, 10)
	if interval > 0 {
		if ok, err := c.Exists(ctx, key); err == nil && ok {
			return
		}
	}
	err := db.WithContext(ctx).Model(&model.Account{}).
		Where("id = ?", accountID).
		Update("last_seen_at", time.Now()).Error
	if err != nil {
		log.Warn("presence update failed", zap.Int64("account_id", accountID), zap.Error(err))
		return
	}
	if interval > 0 {
		_ = c.Set(ctx, key, "1", interval)
	}
}
