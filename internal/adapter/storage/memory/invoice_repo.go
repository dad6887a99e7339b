package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"marketplace-ledger/internal/core/domain"
	"marketplace-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// InvoiceSequenceRepo implements ports.InvoiceSequenceRepository.
type InvoiceSequenceRepo struct {
	store *Store
}

// NewInvoiceSequenceRepo creates a new InvoiceSequenceRepo.
func NewInvoiceSequenceRepo(store *Store) *InvoiceSequenceRepo {
	return &InvoiceSequenceRepo{store: store}
}

// Get fetches the committed sequence of a month.
func (r *InvoiceSequenceRepo) Get(_ context.Context, yearMonth string) (*domain.InvoiceSequence, error) {
	var out *domain.InvoiceSequence
	r.store.read(func(st *state) {
		if s, ok := st.sequences[yearMonth]; ok {
			out = &s
		}
	})
	return out, nil
}

// GetForUpdate fetches the sequence of a month inside tx.
func (r *InvoiceSequenceRepo) GetForUpdate(_ context.Context, tx pgx.Tx, yearMonth string) (*domain.InvoiceSequence, error) {
	st, err := r.store.work(tx)
	if err != nil {
		return nil, fmt.Errorf("get invoice sequence for update: %w", err)
	}
	s, ok := st.sequences[yearMonth]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// InsertIfAbsent creates the month's row unless it exists.
func (r *InvoiceSequenceRepo) InsertIfAbsent(_ context.Context, tx pgx.Tx, s *domain.InvoiceSequence) error {
	st, err := r.store.work(tx)
	if err != nil {
		return fmt.Errorf("insert invoice sequence: %w", err)
	}
	if _, ok := st.sequences[s.YearMonth]; !ok {
		st.sequences[s.YearMonth] = *s
	}
	return nil
}

// Save upserts the month's row.
func (r *InvoiceSequenceRepo) Save(_ context.Context, tx pgx.Tx, s *domain.InvoiceSequence) error {
	st, err := r.store.work(tx)
	if err != nil {
		return fmt.Errorf("save invoice sequence: %w", err)
	}
	st.sequences[s.YearMonth] = *s
	return nil
}

// UpdateNext stores the next number to hand out.
func (r *InvoiceSequenceRepo) UpdateNext(_ context.Context, tx pgx.Tx, yearMonth string, next int64) error {
	st, err := r.store.work(tx)
	if err != nil {
		return fmt.Errorf("update invoice sequence: %w", err)
	}
	s, ok := st.sequences[yearMonth]
	if !ok {
		return fmt.Errorf("invoice sequence not found: %s", yearMonth)
	}
	s.NextNumber = next
	st.sequences[yearMonth] = s
	return nil
}

// InvoiceRepo implements ports.InvoiceRepository.
type InvoiceRepo struct {
	store *Store
}

// NewInvoiceRepo creates a new InvoiceRepo.
func NewInvoiceRepo(store *Store) *InvoiceRepo {
	return &InvoiceRepo{store: store}
}

// Create inserts an invoice. Invoice number and reference are unique.
func (r *InvoiceRepo) Create(_ context.Context, tx pgx.Tx, inv *domain.Invoice) error {
	st, err := r.store.work(tx)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	if _, ok := st.invoiceByNum[inv.InvoiceNumber]; ok {
		return fmt.Errorf("insert invoice: %w", ports.ErrDuplicate)
	}
	if inv.ReferenceID != nil {
		if _, ok := st.invoiceByRef[*inv.ReferenceID]; ok {
			return fmt.Errorf("insert invoice: %w", ports.ErrDuplicate)
		}
		st.invoiceByRef[*inv.ReferenceID] = inv.ID
	}
	stored := *inv
	stored.Items = slices.Clone(inv.Items)
	st.invoices[inv.ID] = stored
	st.invoiceByNum[inv.InvoiceNumber] = inv.ID
	return nil
}

// GetByID fetches a committed invoice.
func (r *InvoiceRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Invoice, error) {
	var out *domain.Invoice
	r.store.read(func(st *state) {
		out = invoiceOf(st, id)
	})
	return out, nil
}

// GetByIDForUpdate fetches an invoice inside tx.
func (r *InvoiceRepo) GetByIDForUpdate(_ context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Invoice, error) {
	st, err := r.store.work(tx)
	if err != nil {
		return nil, fmt.Errorf("get invoice for update: %w", err)
	}
	return invoiceOf(st, id), nil
}

// GetByReference fetches the committed invoice issued for a reference.
func (r *InvoiceRepo) GetByReference(_ context.Context, referenceID string) (*domain.Invoice, error) {
	var out *domain.Invoice
	r.store.read(func(st *state) {
		if id, ok := st.invoiceByRef[referenceID]; ok {
			out = invoiceOf(st, id)
		}
	})
	return out, nil
}

// UpdateStatus stores the void fields of inv.
func (r *InvoiceRepo) UpdateStatus(_ context.Context, tx pgx.Tx, inv *domain.Invoice) error {
	st, err := r.store.work(tx)
	if err != nil {
		return fmt.Errorf("update invoice status: %w", err)
	}
	cur, ok := st.invoices[inv.ID]
	if !ok {
		return fmt.Errorf("invoice not found: %s", inv.ID)
	}
	cur.Status = inv.Status
	cur.VoidReason = inv.VoidReason
	cur.VoidedBy = inv.VoidedBy
	cur.VoidedAt = inv.VoidedAt
	st.invoices[inv.ID] = cur
	return nil
}

// CountByYearMonth counts invoices of any status issued for a month.
func (r *InvoiceRepo) CountByYearMonth(_ context.Context, tx pgx.Tx, yearMonth string) (int64, error) {
	st, err := r.store.work(tx)
	if err != nil {
		return 0, fmt.Errorf("count invoices: %w", err)
	}
	var n int64
	for _, inv := range st.invoices {
		if inv.YearMonth == yearMonth {
			n++
		}
	}
	return n, nil
}

// List fetches invoices ordered by invoice number.
func (r *InvoiceRepo) List(_ context.Context, params ports.InvoiceListParams) ([]domain.Invoice, int64, error) {
	var all []domain.Invoice
	r.store.read(func(st *state) {
		for id, inv := range st.invoices {
			if params.YearMonth != "" && inv.YearMonth != params.YearMonth {
				continue
			}
			if params.Status != nil && inv.Status != *params.Status {
				continue
			}
			all = append(all, *invoiceOf(st, id))
		}
	})
	slices.SortFunc(all, func(a, b domain.Invoice) int { return strings.Compare(a.InvoiceNumber, b.InvoiceNumber) })
	return paginate(all, params.Page, params.PageSize), int64(len(all)), nil
}

func invoiceOf(st *state, id uuid.UUID) *domain.Invoice {
	inv, ok := st.invoices[id]
	if !ok {
		return nil
	}
	inv.Items = slices.Clone(inv.Items)
	return &inv
}
