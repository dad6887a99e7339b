package handler

import (
	"strconv"
	"time"

	"marketplace-ledger/internal/adapter/http/dto"
	"marketplace-ledger/internal/adapter/http/middleware"
	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/pkg/apperror"
	"marketplace-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// actor returns the authenticated caller or writes 401.
func actor(c *gin.Context) (domain.Actor, bool) {
	a, ok := middleware.ActorFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return domain.Actor{}, false
	}
	return a, true
}

// bind decodes and sanitizes the JSON body into req or writes 400.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return false
	}
	dto.SanitizeStruct(req)
	return true
}

// pathID parses the :id path parameter or writes 400.
func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrValidation("id", "id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(defaultPageSize)))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}
	return page, pageSize
}

// timeRange reads the optional RFC 3339 from/to query parameters.
func timeRange(c *gin.Context) (from, to *time.Time, err error) {
	parse := func(key string) (*time.Time, error) {
		raw := c.Query(key)
		if raw == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, apperror.ErrValidation("time_range", key+" must be an RFC 3339 timestamp")
		}
		return &t, nil
	}
	if from, err = parse("from"); err != nil {
		return nil, nil, err
	}
	if to, err = parse("to"); err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

// queryUUID parses an optional UUID query parameter.
func queryUUID(c *gin.Context, key string) (*uuid.UUID, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperror.ErrValidation(key, key+" must be a UUID")
	}
	return &id, nil
}

// targetUser resolves whose wallet a read concerns. Only report readers may
// look at another user's wallet.
func targetUser(c *gin.Context, caller domain.Actor) (uuid.UUID, error) {
	other, err := queryUUID(c, "user_id")
	if err != nil {
		return uuid.Nil, err
	}
	if other == nil || *other == caller.ID {
		return caller.ID, nil
	}
	if !caller.Role.Can(domain.CapReportRead) {
		return uuid.Nil, apperror.ErrForbidden()
	}
	return *other, nil
}

func pageTotal(total int64) *int64 {
	return &total
}
