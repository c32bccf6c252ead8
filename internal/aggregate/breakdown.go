package aggregate

import (
	"sort"
	"time"

	"github.com/rewired-gh/pharmguard/internal/models"
)

// ProductLine is one product's revenue and units on a day.
type ProductLine struct {
	Name     string  `json:"name" yaml:"name"`
	Revenue  float64 `json:"revenue" yaml:"revenue"`
	Quantity float64 `json:"quantity" yaml:"quantity"`
}

// Breakdown describes a single day for manual investigation.
type Breakdown struct {
	Date         time.Time     `json:"date" yaml:"date"`
	Transactions int           `json:"transactions" yaml:"transactions"`
	TotalSales   float64       `json:"total_sales" yaml:"total_sales"`
	MeanSale     float64       `json:"mean_sale" yaml:"mean_sale"`
	TopProducts  []ProductLine `json:"top_products" yaml:"top_products"`
	HighValue    []ProductLine `json:"high_value_products" yaml:"high_value_products"`
	Small        int           `json:"small_transactions" yaml:"small_transactions"`
	Medium       int           `json:"medium_transactions" yaml:"medium_transactions"`
	Large        int           `json:"large_transactions" yaml:"large_transactions"`
}

// BreakdownOptions sets the thresholds used to bucket a day.
type BreakdownOptions struct {
	TopN               int
	HighValueThreshold float64
	SmallThreshold     float64
	LargeThreshold     float64
}

// UnitPrice returns the row's unit price, deriving it from amount/quantity when absent.
func UnitPrice(t models.Transaction) float64 {
	if t.UnitPrice > 0 {
		return t.UnitPrice
	}
	return t.Amount / t.Quantity
}

// BreakdownOf summarises the rows of day.
func BreakdownOf(tbl *models.Table, day time.Time, opts BreakdownOptions) Breakdown {
	rows := On(tbl, day)
	b := Breakdown{
		Date:         models.Day(day),
		Transactions: len(rows),
		TotalSales:   Sum(rows, Amount),
		MeanSale:     Mean(rows, Amount),
	}

	all := make(map[string]*ProductLine)
	high := make(map[string]*ProductLine)
	for _, r := range rows {
		addLine(all, r)
		if UnitPrice(r) >= opts.HighValueThreshold {
			addLine(high, r)
		}
		switch {
		case r.Amount < opts.SmallThreshold:
			b.Small++
		case r.Amount >= opts.LargeThreshold:
			b.Large++
		default:
			b.Medium++
		}
	}
	b.TopProducts = topLines(all, opts.TopN)
	b.HighValue = topLines(high, opts.TopN)
	return b
}

func addLine(m map[string]*ProductLine, r models.Transaction) {
	l, ok := m[r.ProductName]
	if !ok {
		l = &ProductLine{Name: r.ProductName}
		m[r.ProductName] = l
	}
	l.Revenue += r.Amount
	l.Quantity += r.Quantity
}

func topLines(m map[string]*ProductLine, n int) []ProductLine {
	out := make([]ProductLine, 0, len(m))
	for _, l := range m {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Revenue != out[j].Revenue {
			return out[i].Revenue > out[j].Revenue
		}
		return out[i].Name < out[j].Name
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
