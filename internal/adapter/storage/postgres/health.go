package postgres

import (
	"context"
	"fmt"
)

// HealthCheck reports PostgreSQL as healthy once the ledger schema is
// reachable, not merely the server.
type HealthCheck struct {
	pool Pool
}

func NewHealthCheck(pool Pool) *HealthCheck {
	return &HealthCheck{pool: pool}
}

func (h *HealthCheck) Ping(ctx context.Context) error {
	if _, err := h.pool.Exec(ctx, `SELECT 1 FROM wallets LIMIT 1`); err != nil {
		return fmt.Errorf("wallets table: %w", err)
	}
	return nil
}

func (h *HealthCheck) Name() string {
	return "postgresql"
}
