package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStatus is the lifecycle state of an issued invoice.
type InvoiceStatus string

const (
	InvoiceIssued    InvoiceStatus = "issued"
	InvoiceVoided    InvoiceStatus = "voided"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

// TaxRate is the fixed business tax rate applied to every invoice.
var TaxRate = decimal.RequireFromString("0.05")

// MaxTrackNumber is the largest 8-digit sequence number.
const MaxTrackNumber int64 = 99_999_999

const yearMonthLayout = "2006-01"

var (
	prefixRe      = regexp.MustCompile(`^[A-Z]{2}$`)
	numberStartRe = regexp.MustCompile(`^[0-9]{8}$`)
	buyerTaxIDRe  = regexp.MustCompile(`^[0-9]{8}$`)
)

// ValidPrefix reports whether p is two uppercase letters.
func ValidPrefix(p string) bool {
	return prefixRe.MatchString(p)
}

// ParseNumberStart parses an 8-digit number start.
func ParseNumberStart(s string) (int64, bool) {
	if !numberStartRe.MatchString(s) {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ValidBuyerTaxID reports whether id is an 8-digit unified business number.
func ValidBuyerTaxID(id string) bool {
	return buyerTaxIDRe.MatchString(id)
}

// ValidYearMonth reports whether ym is formatted YYYY-MM.
func ValidYearMonth(ym string) bool {
	t, err := time.Parse(yearMonthLayout, ym)
	return err == nil && t.Format(yearMonthLayout) == ym
}

// YearMonthOf returns the YYYY-MM of t in loc.
func YearMonthOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(yearMonthLayout)
}

// FormatTrackNumber renders prefix + zero-padded 8-digit number.
func FormatTrackNumber(prefix string, n int64) string {
	return fmt.Sprintf("%s%08d", prefix, n)
}

// InvoiceSequence allocates track numbers for one calendar month.
type InvoiceSequence struct {
	YearMonth   string    `json:"year_month"`
	Prefix      string    `json:"prefix"`
	NumberStart int64     `json:"number_start"`
	NextNumber  int64     `json:"next_number"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SameSetting reports whether the sequence already uses prefix and start.
func (s *InvoiceSequence) SameSetting(prefix string, start int64) bool {
	return s.Prefix == prefix && s.NumberStart == start
}

// InvoiceItem is one billed line.
type InvoiceItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
}

// Buyer identifies who the invoice is issued to.
type Buyer struct {
	TaxID string `json:"tax_id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Invoice is a statutory e-invoice. InvoiceNumber never changes once issued
// and a voided number is never handed out again.
type Invoice struct {
	ID            uuid.UUID       `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	YearMonth     string          `json:"year_month"`
	InvoiceDate   time.Time       `json:"invoice_date"`
	Buyer         Buyer           `json:"buyer"`
	SellerTaxID   string          `json:"seller_tax_id"`
	Items         []InvoiceItem   `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	Status        InvoiceStatus   `json:"status"`
	ReferenceID   *string         `json:"reference_id,omitempty"`
	IssuedBy      *uuid.UUID      `json:"issued_by,omitempty"`
	VoidReason    string          `json:"void_reason,omitempty"`
	VoidedBy      *uuid.UUID      `json:"voided_by,omitempty"`
	VoidedAt      *time.Time      `json:"voided_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// PriceItems fills each line amount and returns the invoice totals.
// tax = round(subtotal * TaxRate, 2), half away from zero.
func PriceItems(items []InvoiceItem) (lines []InvoiceItem, subtotal, tax, total decimal.Decimal) {
	lines = make([]InvoiceItem, len(items))
	subtotal = decimal.Zero
	for i, it := range items {
		it.Amount = it.Quantity.Mul(it.UnitPrice).Round(MoneyScale)
		lines[i] = it
		subtotal = subtotal.Add(it.Amount)
	}
	tax = subtotal.Mul(TaxRate).Round(MoneyScale)
	total = subtotal.Add(tax)
	return lines, subtotal, tax, total
}
