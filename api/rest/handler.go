// Package rest implements the devserver's JSON endpoints on top of the
// social service.
package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/tovplay/audit"
	mw "github.com/kasuganosora/tovplay/middleware"
	"github.com/kasuganosora/tovplay/model"
	"github.com/kasuganosora/tovplay/social"
	"go.uber.org/zap"
)

// Auditor records audit entries. *audit.Service implements it.
type Auditor interface {
	Log(entry audit.Entry)
}

type nopAuditor struct{}

func (nopAuditor) Log(audit.Entry) {}

func orNop(a Auditor) Auditor {
	if a == nil {
		return nopAuditor{}
	}
	return a
}

// statusOf maps a service error to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, social.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, social.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, social.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, social.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, social.ErrAuth):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, log *zap.Logger, err error) {
	status := statusOf(err)
	var se *social.Error
	if status == http.StatusInternalServerError || !errors.As(err, &se) {
		log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("trace_id", mw.GetTraceID(c)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": se.Msg})
}

// viewer loads the authenticated account. It writes the response and
// returns nil when the account is gone.
func viewer(c *gin.Context, svc *social.Service, log *zap.Logger) *model.Account {
	acc, err := svc.Account(c.Request.Context(), mw.GetAccountID(c))
	if err != nil {
		if errors.Is(err, social.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return nil
		}
		writeError(c, log, err)
		return nil
	}
	return acc
}

func entry(c *gin.Context, start time.Time, action, target string, req any, err error) audit.Entry {
	e := audit.Entry{
		TraceID:  mw.GetTraceID(c),
		Username: mw.GetUsername(c),
		Action:   action,
		Target:   target,
		Request:  req,
		IP:       c.ClientIP(),
		Duration: time.Since(start),
	}
	if id := mw.GetAccountID(c); id != 0 {
		e.AccountID = &id
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
