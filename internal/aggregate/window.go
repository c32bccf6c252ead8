// Package aggregate slices a transaction table by date and folds rows into per-day totals.
// Every detector builds its baselines from these primitives.
package aggregate

import (
	"sort"
	"time"

	"github.com/rewired-gh/pharmguard/internal/models"
)

// Filter keeps a row when it returns true.
type Filter func(models.Transaction) bool

// ByBranch keeps rows of one branch. An empty id or a table without branches disables the filter.
func ByBranch(tbl *models.Table, branchID string) Filter {
	if branchID == "" || !tbl.HasBranch() {
		return nil
	}
	return func(t models.Transaction) bool { return t.BranchID == branchID }
}

// ByProducts keeps rows whose product is in names.
func ByProducts(names []string) Filter {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return func(t models.Transaction) bool {
		_, ok := set[t.ProductName]
		return ok
	}
}

// ByWeekday keeps rows on the given weekday index (Monday = 0).
func ByWeekday(idx int) Filter {
	return func(t models.Transaction) bool { return models.WeekdayIndex(t.Date) == idx }
}

// Range returns rows dated within [from, to], both inclusive.
func Range(tbl *models.Table, from, to time.Time, filters ...Filter) []models.Transaction {
	rows := tbl.Rows()
	from, to = models.Day(from), models.Day(to)
	if to.Before(from) {
		return nil
	}
	lo := sort.Search(len(rows), func(i int) bool { return !rows[i].Date.Before(from) })
	hi := sort.Search(len(rows), func(i int) bool { return rows[i].Date.After(to) })
	if lo >= hi {
		return nil
	}
	return apply(rows[lo:hi], filters)
}

// Window returns rows dated within [target-startOffset, target-endOffset] days.
func Window(tbl *models.Table, target time.Time, startOffset, endOffset int, filters ...Filter) []models.Transaction {
	target = models.Day(target)
	return Range(tbl, target.AddDate(0, 0, -startOffset), target.AddDate(0, 0, -endOffset), filters...)
}

// On returns the rows of a single day.
func On(tbl *models.Table, day time.Time, filters ...Filter) []models.Transaction {
	return Window(tbl, day, 0, 0, filters...)
}

// History returns the trailing window that ends the day before target and reaches back
// days further, so it spans days+1 calendar days.
func History(tbl *models.Table, target time.Time, days int, filters ...Filter) []models.Transaction {
	return Window(tbl, target, days+1, 1, filters...)
}

// Before returns every row dated strictly before target.
func Before(tbl *models.Table, target time.Time) []models.Transaction {
	rows := tbl.Rows()
	target = models.Day(target)
	hi := sort.Search(len(rows), func(i int) bool { return !rows[i].Date.Before(target) })
	return rows[:hi]
}

func apply(rows []models.Transaction, filters []Filter) []models.Transaction {
	active := filters[:0:0]
	for _, f := range filters {
		if f != nil {
			active = append(active, f)
		}
	}
	if len(active) == 0 {
		return rows
	}
	var out []models.Transaction
next:
	for _, r := range rows {
		for _, f := range active {
			if !f(r) {
				continue next
			}
		}
		out = append(out, r)
	}
	return out
}

// Column selects the numeric field to aggregate.
type Column func(models.Transaction) float64

func Amount(t models.Transaction) float64   { return t.Amount }
func Quantity(t models.Transaction) float64 { return t.Quantity }

// DayTotal is the aggregate of one column over one calendar day.
type DayTotal struct {
	Day   time.Time
	Sum   float64
	Count int
}

// Mean is Sum / Count.
func (d DayTotal) Mean() float64 {
	if d.Count == 0 {
		return 0
	}
	return d.Sum / float64(d.Count)
}

// ByDay groups date-sorted rows by calendar day, ascending.
func ByDay(rows []models.Transaction, col Column) []DayTotal {
	var out []DayTotal
	for _, r := range rows {
		if n := len(out); n == 0 || !out[n-1].Day.Equal(r.Date) {
			out = append(out, DayTotal{Day: r.Date})
		}
		cur := &out[len(out)-1]
		cur.Sum += col(r)
		cur.Count++
	}
	return out
}

// Sum adds col over rows.
func Sum(rows []models.Transaction, col Column) float64 {
	var total float64
	for _, r := range rows {
		total += col(r)
	}
	return total
}

// Mean averages col over rows; zero for no rows.
func Mean(rows []models.Transaction, col Column) float64 {
	if len(rows) == 0 {
		return 0
	}
	return Sum(rows, col) / float64(len(rows))
}

// Count returns how many rows satisfy keep.
func Count(rows []models.Transaction, keep Filter) int {
	n := 0
	for _, r := range rows {
		if keep(r) {
			n++
		}
	}
	return n
}

// Sums extracts Sum from each day total.
func Sums(days []DayTotal) []float64 {
	out := make([]float64, len(days))
	for i, d := range days {
		out[i] = d.Sum
	}
	return out
}

// Counts extracts Count from each day total.
func Counts(days []DayTotal) []float64 {
	out := make([]float64, len(days))
	for i, d := range days {
		out[i] = float64(d.Count)
	}
	return out
}

// Means extracts Mean from each day total.
func Means(days []DayTotal) []float64 {
	out := make([]float64, len(days))
	for i, d := range days {
		out[i] = d.Mean()
	}
	return out
}
