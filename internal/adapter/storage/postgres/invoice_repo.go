package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// InvoiceSequenceRepo implements ports.InvoiceSequenceRepository.
type InvoiceSequenceRepo struct {
	pool Pool
}

// NewInvoiceSequenceRepo creates a new InvoiceSequenceRepo.
func NewInvoiceSequenceRepo(pool Pool) *InvoiceSequenceRepo {
	return &InvoiceSequenceRepo{pool: pool}
}

// Get fetches a month's sequence (non-locking read).
func (r *InvoiceSequenceRepo) Get(ctx context.Context, yearMonth string) (*domain.InvoiceSequence, error) {
	query := `SELECT year_month, prefix, number_start, next_number, updated_at
		FROM invoice_sequences WHERE year_month = $1`

	s, err := scanSequence(r.pool.QueryRow(ctx, query, yearMonth))
	if err != nil {
		return nil, fmt.Errorf("get invoice sequence: %w", err)
	}
	return s, nil
}

// GetForUpdate fetches a month's sequence with pessimistic locking. Concurrent
// allocations for the same month queue on this row lock.
func (r *InvoiceSequenceRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, yearMonth string) (*domain.InvoiceSequence, error) {
	query := `SELECT year_month, prefix, number_start, next_number, updated_at
		FROM invoice_sequences WHERE year_month = $1 FOR UPDATE`

	s, err := scanSequence(tx.QueryRow(ctx, query, yearMonth))
	if err != nil {
		return nil, fmt.Errorf("get invoice sequence for update: %w", err)
	}
	return s, nil
}

// InsertIfAbsent creates the month's row unless a concurrent writer already did.
func (r *InvoiceSequenceRepo) InsertIfAbsent(ctx context.Context, tx pgx.Tx, s *domain.InvoiceSequence) error {
	query := `INSERT INTO invoice_sequences (year_month, prefix, number_start, next_number, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (year_month) DO NOTHING`

	if _, err := tx.Exec(ctx, query, s.YearMonth, s.Prefix, s.NumberStart, s.NextNumber, s.UpdatedAt); err != nil {
		return fmt.Errorf("insert invoice sequence: %w", err)
	}
	return nil
}

// Save upserts prefix, number start and next number.
func (r *InvoiceSequenceRepo) Save(ctx context.Context, tx pgx.Tx, s *domain.InvoiceSequence) error {
	query := `INSERT INTO invoice_sequences (year_month, prefix, number_start, next_number, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (year_month) DO UPDATE
		SET prefix = EXCLUDED.prefix, number_start = EXCLUDED.number_start,
			next_number = EXCLUDED.next_number, updated_at = EXCLUDED.updated_at`

	if _, err := tx.Exec(ctx, query, s.YearMonth, s.Prefix, s.NumberStart, s.NextNumber, s.UpdatedAt); err != nil {
		return fmt.Errorf("save invoice sequence: %w", err)
	}
	return nil
}

// UpdateNext stores the next number to hand out.
func (r *InvoiceSequenceRepo) UpdateNext(ctx context.Context, tx pgx.Tx, yearMonth string, next int64) error {
	query := `UPDATE invoice_sequences SET next_number = $1, updated_at = NOW() WHERE year_month = $2`

	tag, err := tx.Exec(ctx, query, next, yearMonth)
	if err != nil {
		return fmt.Errorf("update invoice sequence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invoice sequence not found: %s", yearMonth)
	}
	return nil
}

func scanSequence(row pgx.Row) (*domain.InvoiceSequence, error) {
	s := &domain.InvoiceSequence{}
	if err := row.Scan(&s.YearMonth, &s.Prefix, &s.NumberStart, &s.NextNumber, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

const invoiceColumns = `id, invoice_number, year_month, invoice_date, buyer_tax_id, buyer_name, buyer_email,
		seller_tax_id, items, subtotal, tax_rate, tax_amount, total, currency, status, reference_id,
		issued_by, void_reason, voided_by, voided_at, created_at`

// InvoiceRepo implements ports.InvoiceRepository.
type InvoiceRepo struct {
	pool Pool
}

// NewInvoiceRepo creates a new InvoiceRepo.
func NewInvoiceRepo(pool Pool) *InvoiceRepo {
	return &InvoiceRepo{pool: pool}
}

// Create inserts an invoice within a transaction.
func (r *InvoiceRepo) Create(ctx context.Context, tx pgx.Tx, inv *domain.Invoice) error {
	items, err := json.Marshal(inv.Items)
	if err != nil {
		return fmt.Errorf("marshal invoice items: %w", err)
	}

	query := `INSERT INTO invoices (` + invoiceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	_, err = tx.Exec(ctx, query,
		inv.ID, inv.InvoiceNumber, inv.YearMonth, inv.InvoiceDate,
		inv.Buyer.TaxID, inv.Buyer.Name, inv.Buyer.Email,
		inv.SellerTaxID, items, inv.Subtotal, inv.TaxRate, inv.TaxAmount, inv.Total,
		inv.Currency, inv.Status, inv.ReferenceID,
		inv.IssuedBy, inv.VoidReason, inv.VoidedBy, inv.VoidedAt, inv.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert invoice: %w", ports.ErrDuplicate)
		}
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

// GetByID fetches an invoice (non-locking read).
func (r *InvoiceRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`

	inv, err := scanInvoice(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get invoice by id: %w", err)
	}
	return inv, nil
}

// GetByIDForUpdate fetches an invoice with pessimistic locking.
func (r *InvoiceRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1 FOR UPDATE`

	inv, err := scanInvoice(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get invoice for update: %w", err)
	}
	return inv, nil
}

// GetByReference fetches the invoice issued for a saga reference.
func (r *InvoiceRepo) GetByReference(ctx context.Context, referenceID string) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE reference_id = $1`

	inv, err := scanInvoice(r.pool.QueryRow(ctx, query, referenceID))
	if err != nil {
		return nil, fmt.Errorf("get invoice by reference: %w", err)
	}
	return inv, nil
}

// UpdateStatus writes the status and void fields of inv.
func (r *InvoiceRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, inv *domain.Invoice) error {
	query := `UPDATE invoices SET status = $1, void_reason = $2, voided_by = $3, voided_at = $4 WHERE id = $5`

	tag, err := tx.Exec(ctx, query, inv.Status, inv.VoidReason, inv.VoidedBy, inv.VoidedAt, inv.ID)
	if err != nil {
		return fmt.Errorf("update invoice status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invoice not found: %s", inv.ID)
	}
	return nil
}

// CountByYearMonth counts invoices of any status issued for a month.
func (r *InvoiceRepo) CountByYearMonth(ctx context.Context, tx pgx.Tx, yearMonth string) (int64, error) {
	var n int64
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM invoices WHERE year_month = $1`, yearMonth).Scan(&n); err != nil {
		return 0, fmt.Errorf("count invoices: %w", err)
	}
	return n, nil
}

// List fetches invoices with filtering and pagination, in track number order.
func (r *InvoiceRepo) List(ctx context.Context, params ports.InvoiceListParams) ([]domain.Invoice, int64, error) {
	conditions := []string{"TRUE"}
	var args []any
	argIdx := 1

	if params.YearMonth != "" {
		conditions = append(conditions, fmt.Sprintf("year_month = $%d", argIdx))
		args = append(args, params.YearMonth)
		argIdx++
	}
	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	where := "WHERE " + strings.Join(conditions, " AND ")

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM invoices "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT %s FROM invoices %s ORDER BY invoice_number LIMIT $%d OFFSET $%d`,
		invoiceColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan invoice row: %w", err)
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate invoice rows: %w", err)
	}
	return invoices, total, nil
}

func scanInvoice(row pgx.Row) (*domain.Invoice, error) {
	inv := &domain.Invoice{}
	var items []byte
	err := row.Scan(
		&inv.ID, &inv.InvoiceNumber, &inv.YearMonth, &inv.InvoiceDate,
		&inv.Buyer.TaxID, &inv.Buyer.Name, &inv.Buyer.Email,
		&inv.SellerTaxID, &items, &inv.Subtotal, &inv.TaxRate, &inv.TaxAmount, &inv.Total,
		&inv.Currency, &inv.Status, &inv.ReferenceID,
		&inv.IssuedBy, &inv.VoidReason, &inv.VoidedBy, &inv.VoidedAt, &inv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(items, &inv.Items); err != nil {
		return nil, fmt.Errorf("unmarshal invoice items: %w", err)
	}
	return inv, nil
}
