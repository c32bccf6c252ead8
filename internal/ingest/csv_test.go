package ingest

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/pharmguard/internal/models"
)

func TestLoadCanonicalColumns(t *testing.T) {
	input := `transaction_date,product_name,quantity,amount,unit_price,branch_id
2024-03-02,Paracetamol,2,10.00,5.00,accra
2024-03-01,Insulin,1,"1,250.50",1250.50,accra
2024-03-01,Amoxicillin,3,45,15,kumasi
`
	res, err := Load(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if res.Rows != 3 || res.Dropped != 0 {
		t.Errorf("rows=%d dropped=%d, want 3 and 0", res.Rows, res.Dropped)
	}
	if res.DerivedAmount {
		t.Error("amount column present, should not be derived")
	}

	rows := res.Table.Rows()
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	first := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if !rows[0].Date.Equal(first) {
		t.Errorf("rows not sorted by date: first is %v", rows[0].Date)
	}
	if rows[0].Amount != 1250.50 {
		t.Errorf("thousands separator not handled: %v", rows[0].Amount)
	}
	if !res.Table.HasUnitPrice() || !res.Table.HasBranch() {
		t.Error("optional columns not detected")
	}
}

func TestLoadAliasesAndDerivedAmount(t *testing.T) {
	input := `Sale_Date,Item_Description*,QTY,Selling_Price
03/01/2024,Augmentin,2,60
03/01/2024,Vitamin C,4,2.5
`
	res, err := Load(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !res.DerivedAmount {
		t.Error("expected amount derived from unit price")
	}
	if got := res.Columns[ColProduct]; got != "Item_Description*" {
		t.Errorf("product column mapped to %q", got)
	}

	rows := res.Table.Rows()
	var total float64
	for _, r := range rows {
		total += r.Amount
	}
	if total != 130 {
		t.Errorf("derived total = %v, want 130", total)
	}
	if res.Table.HasBranch() {
		t.Error("no branch column was supplied")
	}
}

func TestLoadDropsBadRows(t *testing.T) {
	input := `date,product,qty,total
2024-03-01,Paracetamol,1,5
not-a-date,Paracetamol,1,5
2024-03-01,Paracetamol,0,5
2024-03-01,Paracetamol,1,-2
2024-03-01,,1,5
2024-03-01,Paracetamol,one,5
`
	res, err := Load(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if res.Rows != 6 || res.Dropped != 5 || res.Table.Len() != 1 {
		t.Errorf("rows=%d dropped=%d kept=%d, want 6, 5, 1", res.Rows, res.Dropped, res.Table.Len())
	}
}

func TestLoadDropsNonFiniteNumbers(t *testing.T) {
	input := `date,product,qty,total,price
2024-03-01,Paracetamol,1,NaN,5
2024-03-01,Insulin,1,Inf,120
2024-03-01,Vitamin C,+Inf,20,2
2024-03-01,Amoxicillin,1,15,NaN
2024-03-01,Augmentin,2,60,30
`
	res, err := Load(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if res.Dropped != 3 || res.Table.Len() != 2 {
		t.Fatalf("dropped=%d kept=%d, want 3 and 2", res.Dropped, res.Table.Len())
	}
	for _, r := range res.Table.Rows() {
		if math.IsNaN(r.Amount) || math.IsInf(r.Amount, 0) || math.IsInf(r.Quantity, 0) || math.IsNaN(r.UnitPrice) {
			t.Errorf("non-finite value kept: %+v", r)
		}
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"missing product", "date,qty,total\n2024-03-01,1,5\n"},
		{"missing amount and price", "date,product,qty\n2024-03-01,A,1\n"},
		{"no valid rows", "date,product,qty,total\nbad,A,1,5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.input))
			if !errors.Is(err, models.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sales.csv")
	if err := os.WriteFile(path, []byte("date,product,qty,total\n2024-03-01,A,1,5\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	res, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if res.Table.Len() != 1 {
		t.Errorf("expected 1 row, got %d", res.Table.Len())
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"12.5", 12.5, true},
		{"1,200", 1200, true},
		{"GHS 45.00", 45, true},
		{"$7", 7, true},
		{"", 0, false},
		{"abc", 0, false},
		{"NaN", 0, false},
		{"Inf", 0, false},
		{"+Inf", 0, false},
		{"-infinity", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseNumber(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseNumber(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseDateTruncatesTime(t *testing.T) {
	got, err := ParseDate("2024-03-01 17:45:00")
	if err != nil {
		t.Fatalf("ParseDate failed: %v", err)
	}
	if want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("ParseDate = %v, want %v", got, want)
	}
}
