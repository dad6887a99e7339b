package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports/mocks"
	"marketplace-ledger/pkg/apperror"
	"marketplace-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

func auditRouter(auditSvc *mocks.MockAuditService, role domain.Role, userID uuid.UUID) *gin.Engine {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if userID != uuid.Nil {
			c.Set(CtxUserID, userID)
		}
		if role != "" {
			c.Set(CtxRole, role)
		}
		c.Next()
	}, AuditDenials(auditSvc))
	router.POST("/admin/wallets/reset", RequireCapability(domain.CapWalletReset), func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})
	router.GET("/withdrawals/:id", func(c *gin.Context) {
		response.Error(c, apperror.ErrForbidden())
	})
	return router
}

func TestAuditDenials_RecordsForbidden(t *testing.T) {
	ctrl := gomock.NewController(t)
	auditSvc := mocks.NewMockAuditService(ctrl)
	userID := uuid.New()

	auditSvc.EXPECT().Log(gomock.Any(), gomock.Any()).Do(func(_ context.Context, entry *domain.AuditLog) {
		assert.Equal(t, domain.AuditAccessDenied, entry.Action)
		assert.Equal(t, domain.ResourceEndpoint, entry.ResourceType)
		assert.Equal(t, "POST /admin/wallets/reset", entry.ResourceID)
		assert.Equal(t, userID, *entry.ActorID)
		assert.Equal(t, domain.RoleAdmin, entry.ActorRole)
		assert.Contains(t, entry.Details, `"capability":"wallet:reset"`)
		assert.NotEmpty(t, entry.IPAddress)
	})

	w := httptest.NewRecorder()
	auditRouter(auditSvc, domain.RoleAdmin, userID).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/wallets/reset", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuditDenials_HandlerForbidden(t *testing.T) {
	ctrl := gomock.NewController(t)
	auditSvc := mocks.NewMockAuditService(ctrl)
	id := uuid.New()

	auditSvc.EXPECT().Log(gomock.Any(), gomock.Any()).Do(func(_ context.Context, entry *domain.AuditLog) {
		assert.Equal(t, "GET /withdrawals/"+id.String(), entry.ResourceID)
		assert.NotContains(t, entry.Details, "capability")
		assert.Contains(t, entry.Details, `"path":"/withdrawals/:id"`)
	})

	w := httptest.NewRecorder()
	auditRouter(auditSvc, domain.RoleUser, uuid.New()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/withdrawals/"+id.String(), nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuditDenials_SkipsAllowedRequests(t *testing.T) {
	ctrl := gomock.NewController(t)
	auditSvc := mocks.NewMockAuditService(ctrl)
	auditSvc.EXPECT().Log(gomock.Any(), gomock.Any()).Times(0)

	w := httptest.NewRecorder()
	auditRouter(auditSvc, domain.RoleSuperAdmin, uuid.New()).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/wallets/reset", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuditDenials_SkipsAnonymous(t *testing.T) {
	ctrl := gomock.NewController(t)
	auditSvc := mocks.NewMockAuditService(ctrl)
	auditSvc.EXPECT().Log(gomock.Any(), gomock.Any()).Times(0)

	w := httptest.NewRecorder()
	auditRouter(auditSvc, "", uuid.Nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/withdrawals/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}
