package ws

import (
	"sync"

	"github.com/kasuganosora/tovplay/metrics"
	"go.uber.org/zap"
)

// Hub tracks the open sessions of every account.
type Hub struct {
	mu       sync.RWMutex
	sessions map[int64]map[*Session]struct{}
	logger   *zap.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{sessions: make(map[int64]map[*Session]struct{}), logger: logger}
}

// Register adds s.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[s.AccountID]
	if !ok {
		set = make(map[*Session]struct{})
		h.sessions[s.AccountID] = set
	}
	set[s] = struct{}{}
	metrics.WSConnections.Inc()
	h.logger.Debug("ws session registered",
		zap.Int64("account_id", s.AccountID),
		zap.Int("sessions", len(set)))
}

// Unregister removes s.
func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.sessions[s.AccountID]
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	metrics.WSConnections.Dec()
	if len(set) == 0 {
		delete(h.sessions, s.AccountID)
	}
}

// Online reports whether accountID has at least one open session.
func (h *Hub) Online(accountID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[accountID]) > 0
}

// Count returns the number of open sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.sessions {
		n += len(set)
	}
	return n
}

// CloseAll closes every session.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.sessions {
		for s := range set {
			s.Close()
		}
	}
}
