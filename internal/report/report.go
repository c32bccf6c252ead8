// Package report renders assessments, scan summaries and day breakdowns as text, JSON or YAML.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/rewired-gh/pharmguard/internal/aggregate"
	"github.com/rewired-gh/pharmguard/internal/models"
	"github.com/rewired-gh/pharmguard/internal/monitor"
)

// Format selects the output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", s)
	}
}

// Renderer writes reports to one destination.
type Renderer struct {
	w        io.Writer
	format   Format
	currency string
}

func New(w io.Writer, format Format, currency string) *Renderer {
	return &Renderer{w: w, format: format, currency: currency}
}

func (r *Renderer) encode(v interface{}) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(r.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("format %q is not structured", r.format)
}

// Assessment renders one day's verdict. Detectors are listed in the order the monitor ran them.
func (r *Renderer) Assessment(a *models.Assessment) error {
	if r.format != FormatText {
		return r.encode(a)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Date:          %s\n", a.Date.Format(models.DateLayout))
	if a.BranchID != "" {
		fmt.Fprintf(&b, "Branch:        %s\n", a.BranchID)
	}
	fmt.Fprintf(&b, "Risk score:    %d/%d\n", a.TotalRiskScore, models.MaxRiskScore)
	fmt.Fprintf(&b, "Risk level:    %s\n", strings.ToUpper(string(a.RiskLevel)))
	fmt.Fprintf(&b, "Action:        %s\n", a.RecommendedAction)

	if len(a.AlertMessages) > 0 {
		b.WriteString("\nIssues detected:\n")
		for i, msg := range a.AlertMessages {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, msg)
		}
	}

	b.WriteString("\nDetectors:\n")
	for _, name := range detectorOrder(a) {
		res := a.Results[name]
		switch {
		case !res.CanAnalyze:
			fmt.Fprintf(&b, "  %-20s skipped  %s\n", name, strings.Join(res.Messages, "; "))
		case res.Alert:
			fmt.Fprintf(&b, "  %-20s %3d pts  ALERT\n", name, res.RiskScore)
		default:
			fmt.Fprintf(&b, "  %-20s %3d pts\n", name, res.RiskScore)
		}
	}
	if a.RequiresAlert {
		b.WriteString("\nAlert required.\n")
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

func detectorOrder(a *models.Assessment) []string {
	if len(a.Detectors) > 0 {
		return a.Detectors
	}
	names := make([]string, 0, len(a.Results))
	for name := range a.Results {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summary renders the result of a scan.
func (r *Renderer) Summary(s monitor.ScanSummary) error {
	if r.format != FormatText {
		return r.encode(s)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Days analyzed:      %s\n", humanize.Comma(int64(s.Days)))
	fmt.Fprintf(&b, "Average risk score: %.1f\n", s.AverageScore)
	fmt.Fprintf(&b, "Max risk score:     %d\n", s.MaxScore)
	fmt.Fprintf(&b, "Alert days:         %d (%s)\n", s.AlertDays, percent(s.AlertDays, s.Days))

	b.WriteString("\nRisk levels:\n")
	for _, lc := range s.Levels {
		fmt.Fprintf(&b, "  %-9s %5d (%s)\n", lc.Level, lc.Count, percent(lc.Count, s.Days))
	}

	if len(s.TopDays) > 0 {
		b.WriteString("\nRiskiest days:\n")
		for _, d := range s.TopDays {
			fmt.Fprintf(&b, "  %s  %3d  %-8s  %s  %s tx\n",
				d.Date.Format(models.DateLayout), d.Score, d.Level,
				r.money(d.DailySales), humanize.Comma(int64(d.Transactions)))
		}
	}

	if len(s.AlertDates) > 0 {
		dates := make([]string, len(s.AlertDates))
		for i, d := range s.AlertDates {
			dates[i] = d.Format(models.DateLayout)
		}
		fmt.Fprintf(&b, "\nAlert dates: %s\n", strings.Join(dates, ", "))
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

// Breakdown renders the investigation view of a single day.
func (r *Renderer) Breakdown(bd aggregate.Breakdown) error {
	if r.format != FormatText {
		return r.encode(bd)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Date:          %s\n", bd.Date.Format(models.DateLayout))
	fmt.Fprintf(&b, "Transactions:  %s\n", humanize.Comma(int64(bd.Transactions)))
	fmt.Fprintf(&b, "Total sales:   %s\n", r.money(bd.TotalSales))
	fmt.Fprintf(&b, "Mean sale:     %s\n", r.money(bd.MeanSale))

	writeLines(&b, "Top products by revenue", bd.TopProducts, r.money)
	writeLines(&b, "High-value products sold", bd.HighValue, r.money)

	b.WriteString("\nTransaction sizes:\n")
	fmt.Fprintf(&b, "  small   %5d\n", bd.Small)
	fmt.Fprintf(&b, "  medium  %5d\n", bd.Medium)
	fmt.Fprintf(&b, "  large   %5d\n", bd.Large)
	_, err := io.WriteString(r.w, b.String())
	return err
}

func writeLines(b *strings.Builder, title string, lines []aggregate.ProductLine, money func(float64) string) {
	fmt.Fprintf(b, "\n%s:\n", title)
	if len(lines) == 0 {
		b.WriteString("  none\n")
		return
	}
	for i, l := range lines {
		fmt.Fprintf(b, "  %2d. %-30s %14s  qty %s\n", i+1, l.Name, money(l.Revenue), humanize.Ftoa(l.Quantity))
	}
}

// HistoryEntry is one stored assessment as listed by the history view.
type HistoryEntry struct {
	ID         string             `json:"id" yaml:"id"`
	Notified   bool               `json:"notified" yaml:"notified"`
	Assessment *models.Assessment `json:"assessment" yaml:"assessment"`
}

// History renders stored assessments, riskiest first.
func (r *Renderer) History(entries []HistoryEntry) error {
	if r.format != FormatText {
		return r.encode(entries)
	}

	var b strings.Builder
	if len(entries) == 0 {
		b.WriteString("No stored assessments.\n")
	}
	for _, e := range entries {
		a := e.Assessment
		mark := " "
		if e.Notified {
			mark = "*"
		}
		branch := a.BranchID
		if branch == "" {
			branch = "-"
		}
		fmt.Fprintf(&b, "%s %s  %-12s %3d  %-8s  %s\n",
			mark, a.Date.Format(models.DateLayout), branch, a.TotalRiskScore, a.RiskLevel, strings.Join(a.AlgorithmsRun, ","))
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

func (r *Renderer) money(v float64) string {
	return fmt.Sprintf("%s %s", r.currency, humanize.FormatFloat("#,###.##", v))
}

func percent(n, total int) string {
	if total == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.0f%%", math.Round(float64(n)*100/float64(total)))
}
