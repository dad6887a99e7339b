package service

import (
	"errors"
	"fmt"
	"time"

	"marketplace-ledger/pkg/apperror"
)

// internalErr keeps AppErrors raised further down intact and wraps anything else as SYS_001.
func internalErr(op string, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperror.InternalError(fmt.Errorf("%s: %w", op, err))
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// normalizePage clamps admin list pagination.
func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize < 1:
		pageSize = 20
	case pageSize > 100:
		pageSize = 100
	}
	return page, pageSize
}
