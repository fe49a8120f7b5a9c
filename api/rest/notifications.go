package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/tovplay/social"
	"go.uber.org/zap"
)

// NotificationHandler handles /notifications.
type NotificationHandler struct {
	svc    *social.Service
	logger *zap.Logger
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(svc *social.Service, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{svc: svc, logger: logger}
}

// List handles GET /api/notifications/.
func (h *NotificationHandler) List(c *gin.Context) {
	acc := viewer(c, h.svc, h.logger)
	if acc == nil {
		return
	}
	out, err := h.svc.Notifications(c.Request.Context(), acc)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// flexID accepts an id sent as a JSON number or string.
type flexID int64

func (id *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(bytes.Trim(bytes.TrimSpace(b), `"`))
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	*id = flexID(n)
	return nil
}

// MarkRead handles POST /api/notifications/mark_read with a JSON array
// of ids.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	var raw []flexID
	if err := json.NewDecoder(c.Request.Body).Decode(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected an array of notification ids"})
		return
	}
	acc := viewer(c, h.svc, h.logger)
	if acc == nil {
		return
	}
	ids := make([]int64, len(raw))
	for i, id := range raw {
		ids[i] = int64(id)
	}
	n, err := h.svc.MarkRead(c.Request.Context(), acc, ids)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}
