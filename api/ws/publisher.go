package ws

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/kasuganosora/tovplay/cache"
	"go.uber.org/zap"
)

// Channel returns the pub/sub channel carrying pushes for accountID.
func Channel(accountID int64) string {
	return "notify:" + strconv.FormatInt(accountID, 10)
}

// Publisher pushes messages to accounts through the cache pub/sub so that
// every devserver instance can deliver them. It implements social.Notifier.
type Publisher struct {
	ps     cache.PubSub
	logger *zap.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(ps cache.PubSub, logger *zap.Logger) *Publisher {
	return &Publisher{ps: ps, logger: logger}
}

// Push publishes a message of msgType to accountID. Failures are logged;
// clients fall back to polling.
func (p *Publisher) Push(ctx context.Context, accountID int64, msgType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn("encode push payload", zap.String("type", msgType), zap.Error(err))
		return
	}
	data, err := json.Marshal(Packet{Type: msgType, Payload: raw})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := p.ps.Publish(ctx, Channel(accountID), string(data)); err != nil {
		p.logger.Warn("publish push",
			zap.Int64("account_id", accountID),
			zap.String("type", msgType),
			zap.Error(err))
	}
}
