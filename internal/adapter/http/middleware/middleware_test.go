package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"
	"marketplace-ledger/internal/core/ports/mocks"
	"marketplace-ledger/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testAccessKey = "ak_integration"
	testSecret    = "integration-secret"
)

func hmacRouter(sigSvc ports.SignatureService, nonceStore ports.NonceStore) *gin.Engine {
	router := gin.New()
	router.POST("/test", HMACAuth(testAccessKey, testSecret, sigSvc, nonceStore, zerolog.Nop()), func(c *gin.Context) {
		role, _ := c.Get(CtxRole)
		c.JSON(200, gin.H{"role": role})
	})
	return router
}

func signedRequest(t *testing.T, body, nonce string, ts int64) *http.Request {
	t.Helper()
	sigSvc := service.NewHMACSignatureService()
	canonical := sigSvc.BuildCanonicalString(http.MethodPost, "/test", ts, nonce, body)

	req := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(body))
	req.Header.Set(HeaderAccessKey, testAccessKey)
	req.Header.Set(HeaderSignature, sigSvc.Sign(testSecret, canonical))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderNonce, nonce)
	return req
}

func TestHMACAuth_MissingHeaders(t *testing.T) {
	ctrl := gomock.NewController(t)
	router := hmacRouter(mocks.NewMockSignatureService(ctrl), mocks.NewMockNonceStore(ctrl))

	req := httptest.NewRequest(http.MethodPost, "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHMACAuth_ExpiredTimestamp(t *testing.T) {
	ctrl := gomock.NewController(t)
	router := hmacRouter(mocks.NewMockSignatureService(ctrl), mocks.NewMockNonceStore(ctrl))

	req := httptest.NewRequest(http.MethodPost, "/test", nil)
	req.Header.Set(HeaderAccessKey, testAccessKey)
	req.Header.Set(HeaderSignature, "sig")
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(time.Now().Add(-120*time.Second).Unix(), 10))
	req.Header.Set(HeaderNonce, "nonce123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHMACAuth_InvalidAccessKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	router := hmacRouter(mocks.NewMockSignatureService(ctrl), mocks.NewMockNonceStore(ctrl))

	req := httptest.NewRequest(http.MethodPost, "/test", nil)
	req.Header.Set(HeaderAccessKey, "invalid_key")
	req.Header.Set(HeaderSignature, "sig")
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set(HeaderNonce, "nonce123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHMACAuth_UnconfiguredSecretRejects(t *testing.T) {
	router := gin.New()
	router.POST("/test", HMACAuth(testAccessKey, "", service.NewHMACSignatureService(), nil, zerolog.Nop()), func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedRequest(t, `{}`, "n-1", time.Now().Unix()))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHMACAuth_NonceReplay(t *testing.T) {
	ctrl := gomock.NewController(t)
	nonceStore := mocks.NewMockNonceStore(ctrl)
	router := hmacRouter(service.NewHMACSignatureService(), nonceStore)

	nonceStore.EXPECT().CheckAndSet(gomock.Any(), testAccessKey, "nonce-dup", nonceTTL).Return(false, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedRequest(t, `{}`, "nonce-dup", time.Now().Unix()))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "SEC_004")
}

func TestHMACAuth_NonceStoreDownAllows(t *testing.T) {
	ctrl := gomock.NewController(t)
	nonceStore := mocks.NewMockNonceStore(ctrl)
	router := hmacRouter(service.NewHMACSignatureService(), nonceStore)

	nonceStore.EXPECT().CheckAndSet(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(false, errors.New("redis down"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, signedRequest(t, `{}`, "n-2", time.Now().Unix()))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHMACAuth_BadSignature(t *testing.T) {
	ctrl := gomock.NewController(t)
	nonceStore := mocks.NewMockNonceStore(ctrl)
	router := hmacRouter(service.NewHMACSignatureService(), nonceStore)

	nonceStore.EXPECT().CheckAndSet(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil)

	req := signedRequest(t, `{"amount":"10.00"}`, "n-3", time.Now().Unix())
	// Body swapped after signing.
	req.Body = httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(`{"amount":"99.00"}`)).Body
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "SEC_002")
}

func TestHMACAuth_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	sigSvc := mocks.NewMockSignatureService(ctrl)
	nonceStore := mocks.NewMockNonceStore(ctrl)

	nowTs := time.Now().Unix()
	body := `{"amount":"50.00"}`

	nonceStore.EXPECT().CheckAndSet(gomock.Any(), testAccessKey, "nonce-ok", nonceTTL).Return(true, nil)
	sigSvc.EXPECT().BuildCanonicalString("POST", "/test", nowTs, "nonce-ok", body).Return("canonical")
	sigSvc.EXPECT().Verify(testSecret, "canonical", "valid_sig").Return(true)

	var capturedBody string
	router := gin.New()
	router.POST("/test", HMACAuth(testAccessKey, testSecret, sigSvc, nonceStore, zerolog.Nop()), func(c *gin.Context) {
		raw, _ := c.GetRawData()
		capturedBody = string(raw)
		role, _ := c.Get(CtxRole)
		assert.Equal(t, domain.RoleService, role)
		assert.Equal(t, testAccessKey, c.GetString(CtxAccessKey))
		c.JSON(200, gin.H{"ok": true})
	})

	req := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(body))
	req.Header.Set(HeaderAccessKey, testAccessKey)
	req.Header.Set(HeaderSignature, "valid_sig")
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(nowTs, 10))
	req.Header.Set(HeaderNonce, "nonce-ok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	// The handler still sees the full body.
	assert.Equal(t, body, capturedBody)
}

func TestJWTAuth_MissingHeader(t *testing.T) {
	ctrl := gomock.NewController(t)
	tokenSvc := mocks.NewMockTokenService(ctrl)

	router := gin.New()
	router.GET("/test", JWTAuth(tokenSvc, zerolog.Nop()), func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	for _, header := range []string{"", "Basic abc", "Bearer "} {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "header %q", header)
	}
}

func TestJWTAuth_InvalidToken(t *testing.T) {
	ctrl := gomock.NewController(t)
	tokenSvc := mocks.NewMockTokenService(ctrl)

	tokenSvc.EXPECT().Validate("bad_token").Return(nil, assert.AnError)

	router := gin.New()
	router.GET("/test", JWTAuth(tokenSvc, zerolog.Nop()), func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer bad_token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuth_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	tokenSvc := mocks.NewMockTokenService(ctrl)

	userID := uuid.New()
	tokenSvc.EXPECT().Validate("good_token").Return(&ports.TokenClaims{
		UserID: userID,
		Role:   domain.RoleModerator,
	}, nil)

	var captured domain.Actor
	router := gin.New()
	router.GET("/test", JWTAuth(tokenSvc, zerolog.Nop()), func(c *gin.Context) {
		captured, _ = ActorFrom(c)
		c.JSON(200, gin.H{"ok": true})
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer good_token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.Actor{ID: userID, Role: domain.RoleModerator}, captured)
}

func TestRequireCapability(t *testing.T) {
	tests := []struct {
		name string
		role domain.Role
		auth bool
		want int
	}{
		{"super admin", domain.RoleSuperAdmin, true, http.StatusOK},
		{"admin", domain.RoleAdmin, true, http.StatusForbidden},
		{"moderator", domain.RoleModerator, true, http.StatusForbidden},
		{"user", domain.RoleUser, true, http.StatusForbidden},
		{"anonymous", "", false, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.POST("/reset", func(c *gin.Context) {
				if tt.auth {
					c.Set(CtxUserID, uuid.New())
					c.Set(CtxRole, tt.role)
				}
				c.Next()
			}, RequireCapability(domain.CapWalletReset), func(c *gin.Context) {
				c.JSON(200, gin.H{"ok": true})
			})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/reset", nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) {
		c.String(200, c.GetString(CtxRequestID))
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(HeaderRequestID, "req-abc")
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-abc", w.Body.String())
	assert.Equal(t, "req-abc", w.Header().Get(HeaderRequestID))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	_, err := uuid.Parse(w.Body.String())
	assert.NoError(t, err)
}

func TestRecovery_PanicRecovered(t *testing.T) {
	router := gin.New()
	router.Use(RequestID(), Recovery(zerolog.Nop()))
	router.GET("/panic", func(c *gin.Context) {
		panic("something went wrong")
	})

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set(HeaderRequestID, "req-panic")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "SYS_001", resp["error_code"])
	assert.Equal(t, "req-panic", resp["request_id"])
}
