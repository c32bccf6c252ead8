// Package models defines the core domain entities: transactions, detector results, and risk assessments.
package models

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// DateLayout is the calendar-day format used on the command line, in storage and in reports.
const DateLayout = "2006-01-02"

var (
	// ErrInvalidInput is returned when the analysis date or the transaction table is unusable.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInsufficientHistory is returned when a baseline or model cannot be built from the available days.
	ErrInsufficientHistory = errors.New("insufficient history")
)

// Transaction is one cleaned sale line. Date is normalised to midnight UTC.
// UnitPrice is zero when the source did not carry a unit price column.
type Transaction struct {
	Date        time.Time `json:"transaction_date"`
	ProductName string    `json:"product_name"`
	Quantity    float64   `json:"quantity"`
	Amount      float64   `json:"amount"`
	UnitPrice   float64   `json:"unit_price,omitempty"`
	BranchID    string    `json:"branch_id,omitempty"`
}

// Validate checks transaction field constraints. Quantity and amount must be finite and positive.
func (t *Transaction) Validate() error {
	if t.Date.IsZero() {
		return errors.New("transaction date must be set")
	}
	if t.ProductName == "" {
		return errors.New("product name must not be empty")
	}
	if !(t.Quantity > 0) || math.IsInf(t.Quantity, 0) {
		return errors.New("quantity must be a positive finite number")
	}
	if !(t.Amount > 0) || math.IsInf(t.Amount, 0) {
		return errors.New("amount must be a positive finite number")
	}
	if !(t.UnitPrice >= 0) || math.IsInf(t.UnitPrice, 0) {
		return errors.New("unit price must be a non-negative finite number")
	}
	return nil
}

// Day truncates t to its calendar day at midnight UTC, keeping the wall-clock date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WeekdayIndex returns the day of week with Monday = 0 and Sunday = 6.
func WeekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// IsWeekday reports whether t falls Monday through Friday.
func IsWeekday(t time.Time) bool {
	return WeekdayIndex(t) < 5
}

// Table is an immutable, date-sorted set of transactions shared by all detectors for one run.
type Table struct {
	rows         []Transaction
	hasUnitPrice bool
	hasBranch    bool
}

// NewTable validates and sorts the given rows. The input slice is copied.
func NewTable(rows []Transaction) (*Table, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: transaction table is empty", ErrInvalidInput)
	}
	t := &Table{rows: make([]Transaction, len(rows))}
	for i, r := range rows {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrInvalidInput, i, err)
		}
		r.Date = Day(r.Date)
		if r.UnitPrice > 0 {
			t.hasUnitPrice = true
		}
		if r.BranchID != "" {
			t.hasBranch = true
		}
		t.rows[i] = r
	}
	sort.SliceStable(t.rows, func(i, j int) bool {
		return t.rows[i].Date.Before(t.rows[j].Date)
	})
	return t, nil
}

// Rows returns the underlying rows. Callers must not modify them.
func (t *Table) Rows() []Transaction {
	if t == nil {
		return nil
	}
	return t.rows
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rows)
}

// HasUnitPrice reports whether any row carries a unit price.
func (t *Table) HasUnitPrice() bool { return t != nil && t.hasUnitPrice }

// HasBranch reports whether any row carries a branch id.
func (t *Table) HasBranch() bool { return t != nil && t.hasBranch }

// Dates returns the distinct calendar days present, ascending.
func (t *Table) Dates() []time.Time {
	var dates []time.Time
	for _, r := range t.Rows() {
		if len(dates) == 0 || !dates[len(dates)-1].Equal(r.Date) {
			dates = append(dates, r.Date)
		}
	}
	return dates
}

// Span returns the first and last day in the table.
func (t *Table) Span() (first, last time.Time) {
	if t.Len() == 0 {
		return time.Time{}, time.Time{}
	}
	return t.rows[0].Date, t.rows[len(t.rows)-1].Date
}
