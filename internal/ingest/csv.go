// Package ingest loads transaction exports into a cleaned, date-sorted table.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/rewired-gh/pharmguard/internal/logger"
	"github.com/rewired-gh/pharmguard/internal/models"
)

// Canonical column names.
const (
	ColDate      = "transaction_date"
	ColProduct   = "product_name"
	ColQuantity  = "quantity"
	ColAmount    = "amount"
	ColUnitPrice = "unit_price"
	ColBranch    = "branch_id"
)

// Aliases lists accepted header spellings per canonical column, matched case-insensitively
// after the canonical name itself.
var Aliases = map[string][]string{
	ColDate:      {"date", "sale_date", "trans_date", "invoice_date"},
	ColProduct:   {"product", "item_name", "description", "item", "item_description*", "item_description"},
	ColQuantity:  {"qty", "quantity_sold"},
	ColAmount:    {"total", "total_amount", "sale_amount"},
	ColUnitPrice: {"price", "selling_price"},
	ColBranch:    {"branch", "location"},
}

// Result is a loaded table plus what happened during cleaning.
type Result struct {
	Table         *models.Table
	Rows          int
	Dropped       int
	Columns       map[string]string
	DerivedAmount bool
}

// LoadFile reads a CSV export from path.
func LoadFile(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transactions file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	res, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.Info("Loaded %d transactions from %s (%d rows dropped)", res.Table.Len(), path, res.Dropped)
	return res, nil
}

// Load parses CSV from r. Rows with an unparsable date, a missing amount, or a non-positive
// amount or quantity are dropped. Amount is derived from unit_price * quantity when the column is absent.
func Load(r io.Reader) (*Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: file is empty", models.ErrInvalidInput)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	idx, columns, err := mapColumns(header)
	if err != nil {
		return nil, err
	}
	_, hasAmount := idx[ColAmount]
	res := &Result{Columns: columns, DerivedAmount: !hasAmount}

	var rows []models.Transaction
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read line %d: %w", line, err)
		}
		res.Rows++

		t, ok := parseRow(record, idx)
		if !ok {
			res.Dropped++
			continue
		}
		rows = append(rows, t)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no valid transactions after cleaning", models.ErrInvalidInput)
	}
	tbl, err := models.NewTable(rows)
	if err != nil {
		return nil, err
	}
	res.Table = tbl
	return res, nil
}

func mapColumns(header []string) (map[string]int, map[string]string, error) {
	normalized := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := normalized[key]; !dup {
			normalized[key] = i
		}
	}

	idx := make(map[string]int)
	columns := make(map[string]string)
	for _, canonical := range []string{ColDate, ColProduct, ColQuantity, ColAmount, ColUnitPrice, ColBranch} {
		for _, name := range append([]string{canonical}, Aliases[canonical]...) {
			if i, ok := normalized[name]; ok {
				idx[canonical] = i
				columns[canonical] = header[i]
				break
			}
		}
	}

	var missing []string
	for _, required := range []string{ColDate, ColProduct, ColQuantity} {
		if _, ok := idx[required]; !ok {
			missing = append(missing, required)
		}
	}
	_, hasAmount := idx[ColAmount]
	_, hasPrice := idx[ColUnitPrice]
	if !hasAmount && !hasPrice {
		missing = append(missing, ColAmount+" (or "+ColUnitPrice+")")
	}
	if len(missing) > 0 {
		return nil, nil, fmt.Errorf("%w: missing required columns: %s", models.ErrInvalidInput, strings.Join(missing, ", "))
	}
	return idx, columns, nil
}

func parseRow(record []string, idx map[string]int) (models.Transaction, bool) {
	field := func(col string) string {
		i, ok := idx[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	date, err := ParseDate(field(ColDate))
	if err != nil {
		return models.Transaction{}, false
	}
	qty, qtyOK := ParseNumber(field(ColQuantity))
	price, priceOK := ParseNumber(field(ColUnitPrice))
	if !priceOK || price < 0 {
		price = 0
	}

	var amount float64
	var amountOK bool
	if _, ok := idx[ColAmount]; ok {
		amount, amountOK = ParseNumber(field(ColAmount))
	} else if priceOK && qtyOK {
		amount, amountOK = price*qty, true
	}

	t := models.Transaction{
		Date:        date,
		ProductName: field(ColProduct),
		Quantity:    qty,
		Amount:      amount,
		UnitPrice:   price,
		BranchID:    field(ColBranch),
	}
	if !qtyOK || !amountOK || t.Validate() != nil {
		return models.Transaction{}, false
	}
	return t, true
}

// ParseDate accepts the date formats found in common POS exports and returns the calendar day.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return models.Day(t), nil
}

// ParseNumber reads a finite number that may carry thousands separators or a currency prefix.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "GHSghs₵$ ")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
