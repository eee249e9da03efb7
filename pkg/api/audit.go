package api

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/integration-hub/pkg/apiresponses"
	"github.com/telekom/integration-hub/pkg/audit"
	"github.com/telekom/integration-hub/pkg/system"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// AuditReader queries and verifies the audit trail.
type AuditReader interface {
	Query(ctx context.Context, f audit.Filter) ([]audit.Record, error)
	Verify(ctx context.Context, f audit.Filter) (int, error)
	SinkHealth() []audit.SinkHealth
}

// AuditQueryResponse wraps query results.
type AuditQueryResponse struct {
	Records []audit.Record `json:"records"`
	Count   int            `json:"count"`
}

// VerifyResponse reports a successful chain verification.
type VerifyResponse struct {
	Valid         bool   `json:"valid"`
	Verified      int    `json:"verified"`
	CorrelationID string `json:"correlationId,omitempty"`
}

type AuditController struct {
	reader AuditReader
	log    *zap.SugaredLogger
}

func NewAuditController(reader AuditReader, log *zap.SugaredLogger) *AuditController {
	return &AuditController{reader: reader, log: log}
}

func (ac *AuditController) BasePath() string           { return "audit" }
func (ac *AuditController) Handlers() []gin.HandlerFunc { return nil }

func (ac *AuditController) Register(rg *gin.RouterGroup) error {
	rg.GET("", ac.query)
	rg.GET("/verify", ac.verify)
	rg.GET("/sinks", ac.sinks)
	return nil
}

func (ac *AuditController) query(c *gin.Context) {
	log := system.GetReqLogger(c, ac.log)

	f, field, err := parseAuditFilter(c)
	if err != nil {
		apiresponses.RespondValidationError(c, err.Error(), field)
		return
	}
	records, err := ac.reader.Query(c.Request.Context(), f)
	if err != nil {
		respondError(c, "query audit trail", err, log)
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	apiresponses.RespondOK(c, AuditQueryResponse{Records: records, Count: len(records)})
}

func (ac *AuditController) verify(c *gin.Context) {
	log := system.GetReqLogger(c, ac.log)

	f := audit.Filter{CorrelationID: c.Query("correlationId")}
	n, err := ac.reader.Verify(c.Request.Context(), f)
	switch {
	case errors.Is(err, audit.ErrChainBroken):
		log.Warnw("audit chain verification failed", "correlation_id", f.CorrelationID, "error", err)
		apiresponses.RespondChainBroken(c, err.Error())
		return
	case err != nil:
		respondError(c, "verify audit trail", err, log)
		return
	}
	apiresponses.RespondOK(c, VerifyResponse{Valid: true, Verified: n, CorrelationID: f.CorrelationID})
}

func (ac *AuditController) sinks(c *gin.Context) {
	apiresponses.RespondOK(c, ac.reader.SinkHealth())
}

// parseAuditFilter reads the query string. On error it also returns the
// offending parameter name.
func parseAuditFilter(c *gin.Context) (audit.Filter, string, error) {
	f := audit.Filter{
		CorrelationID: c.Query("correlationId"),
		Module:        c.Query("module"),
		ResourceID:    c.Query("resourceId"),
		Action:        c.Query("action"),
		EventID:       c.Query("eventId"),
		HandlerID:     c.Query("handlerId"),
		Status:        audit.Status(c.Query("status")),
		Limit:         defaultQueryLimit,
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, "status", fmt.Errorf("invalid status: unknown value %q", f.Status)
	}
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, p.name, fmt.Errorf("invalid %s: must be RFC 3339", p.name)
		}
		*p.dst = t.UTC()
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return f, "to", errors.New("invalid to: must be after from")
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxQueryLimit {
			return f, "limit", fmt.Errorf("invalid limit: must be between 1 and %d", maxQueryLimit)
		}
		f.Limit = n
	}
	return f, "", nil
}
