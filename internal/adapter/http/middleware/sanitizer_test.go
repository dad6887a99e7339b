package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

// bodyRouter binds a withdrawal-shaped body behind the body limit and
// the content type check.
func bodyRouter(limit int64) *gin.Engine {
	r := gin.New()
	r.Use(MaxBodySize(limit), RequireJSON())
	r.POST("/withdrawals", func(c *gin.Context) {
		var req struct {
			Amount string `json:"amount"`
			Note   string `json:"note"`
		}
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.String(http.StatusRequestEntityTooLarge, "rejected")
				return
			}
		}
		c.String(http.StatusOK, req.Amount)
	})
	return r
}

func TestMaxBodySize(t *testing.T) {
	tests := []struct {
		name  string
		limit int64
		body  string
		want  int
	}{
		{"within limit", 1024, `{"amount":"40.00"}`, http.StatusOK},
		{"exact limit", int64(len(`{"amount":"1"}`)), `{"amount":"1"}`, http.StatusOK},
		{"oversized note", 64, `{"amount":"1","note":"` + strings.Repeat("x", 200) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/withdrawals", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			bodyRouter(tt.limit).ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRequireJSON(t *testing.T) {
	r := bodyRouter(1024)

	tests := []struct {
		name        string
		body        string
		contentType string
		want        int
	}{
		{"json", `{"amount":"1"}`, "application/json", http.StatusOK},
		{"json with charset", `{"amount":"1"}`, "application/json; charset=utf-8", http.StatusOK},
		{"form", "amount=1", "application/x-www-form-urlencoded", http.StatusBadRequest},
		{"missing header", `{"amount":"1"}`, "", http.StatusBadRequest},
		{"empty body", "", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/withdrawals", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
