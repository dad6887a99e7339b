package middleware

import (
	"encoding/json"
	"net/http"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
)

const ctxDeniedCapability = "denied_capability"

// AuditDenials records an ACCESS_DENIED entry for every request answered
// with 403 once the caller is known. State-changing actions are audited by
// the services themselves.
func AuditDenials(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Status() != http.StatusForbidden {
			return
		}
		actor, ok := ActorFrom(c)
		if !ok {
			if role, exists := c.Get(CtxRole); exists && role == domain.RoleService {
				actor = domain.Actor{Role: domain.RoleService}
			} else {
				return
			}
		}

		details := map[string]any{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}
		if capability, exists := c.Get(ctxDeniedCapability); exists {
			details["capability"] = capability
		}
		data, _ := json.Marshal(details)

		entry := domain.NewAuditLog(actor, domain.AuditAccessDenied, domain.ResourceEndpoint,
			c.Request.Method+" "+c.Request.URL.Path, "")
		entry.IPAddress = c.ClientIP()
		entry.Details = string(data)
		auditSvc.Log(c.Request.Context(), entry)
	}
}
