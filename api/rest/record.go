package rest

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nisekogame/backend/audit"
	mw "github.com/nisekogame/backend/middleware"
)

// recordAudit enqueues one audit row for a mutating request.
func recordAudit(c *gin.Context, svc *audit.Service, action, subject string, req interface{}, err error, start time.Time) {
	if svc == nil {
		return
	}
	entry := audit.Entry{
		TraceID:    mw.GetTraceID(c),
		Action:     action,
		Subject:    subject,
		Request:    req,
		Outcome:    audit.OutcomeAccepted,
		IP:         c.ClientIP(),
		DurationMs: int(time.Since(start).Milliseconds()),
	}
	if err != nil {
		entry.Error = err.Error()
		entry.Outcome = audit.OutcomeRejected
		if status, _ := classify(err); status >= http.StatusInternalServerError {
			entry.Outcome = audit.OutcomeFailed
		}
	}
	svc.Log(entry)
}

// outcomeLabel is the metrics label for a submission result: "accepted" or
// the snake_cased error kind.
func outcomeLabel(err error) string {
	if err == nil {
		return "accepted"
	}
	_, kind := classify(err)
	return snake(kind)
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
