package detector

import (
	"context"
	"fmt"
	"sort"

	"github.com/rewired-gh/pharmguard/internal/aggregate"
	"github.com/rewired-gh/pharmguard/internal/logger"
	"github.com/rewired-gh/pharmguard/internal/models"
)

// HighValueConfig tunes tracking of expensive products.
type HighValueConfig struct {
	PriceThreshold  float64 `mapstructure:"price_threshold"`
	HistoryDays     int     `mapstructure:"history_days"`
	QtyRatio        float64 `mapstructure:"quantity_ratio"`
	QtyPoints       int     `mapstructure:"quantity_points"`
	ZeroSaleMinMean float64 `mapstructure:"zero_sale_min_mean"`
	ZeroSalePoints  int     `mapstructure:"zero_sale_points"`
	ValueRatio      float64 `mapstructure:"value_ratio"`
	ValuePoints     int     `mapstructure:"value_points"`
	UnsoldShare     float64 `mapstructure:"unsold_share"`
	UnsoldPoints    int     `mapstructure:"unsold_points"`
	Cap             int     `mapstructure:"cap"`
}

func DefaultHighValueConfig() HighValueConfig {
	return HighValueConfig{
		PriceThreshold:  50,
		HistoryDays:     30,
		QtyRatio:        0.5,
		QtyPoints:       25,
		ZeroSaleMinMean: 2,
		ZeroSalePoints:  20,
		ValueRatio:      0.4,
		ValuePoints:     15,
		UnsoldShare:     0.7,
		UnsoldPoints:    10,
		Cap:             35,
	}
}

// HighValue watches quantity and value of high-priced products against their trailing daily means.
type HighValue struct {
	cfg      HighValueConfig
	currency string
}

func NewHighValue(cfg HighValueConfig, currency string) *HighValue {
	return &HighValue{cfg: cfg, currency: currency}
}

func (h *HighValue) Name() string { return NameHighValue }

// IdentifyHighValueProducts returns, sorted by name, the products whose mean unit price meets threshold.
// Rows without a unit price fall back to sum(amount)/sum(quantity) for their product.
func IdentifyHighValueProducts(tbl *models.Table, threshold float64) []string {
	type acc struct {
		priceSum   float64
		priceCount int
		amount     float64
		quantity   float64
	}
	byProduct := make(map[string]*acc)
	for _, r := range tbl.Rows() {
		a, ok := byProduct[r.ProductName]
		if !ok {
			a = &acc{}
			byProduct[r.ProductName] = a
		}
		if r.UnitPrice > 0 {
			a.priceSum += r.UnitPrice
			a.priceCount++
		}
		a.amount += r.Amount
		a.quantity += r.Quantity
	}

	var out []string
	for name, a := range byProduct {
		var price float64
		switch {
		case a.priceCount > 0:
			price = a.priceSum / float64(a.priceCount)
		case a.quantity > 0:
			price = a.amount / a.quantity
		}
		if price >= threshold {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (h *HighValue) Detect(_ context.Context, in Input) (models.DetectorResult, error) {
	const algorithm = "high_value_product_tracking"

	products := in.HighValueProducts
	if len(products) == 0 {
		products = IdentifyHighValueProducts(in.Table, h.cfg.PriceThreshold)
		logger.Debug("auto-detected %d high-value products (>= %.2f)", len(products), h.cfg.PriceThreshold)
	}
	if len(products) == 0 {
		return models.Unanalyzed(algorithm, "No high-value products identified"), nil
	}

	tracked := aggregate.ByProducts(products)
	hist := aggregate.History(in.Table, in.Date, h.cfg.HistoryDays, tracked)
	if len(hist) == 0 {
		return models.Unanalyzed(algorithm, "Insufficient historical data for high-value products"), nil
	}
	today := aggregate.On(in.Table, in.Date, tracked)

	histQty := aggregate.Summarize(aggregate.Sums(aggregate.ByDay(hist, aggregate.Quantity))).Mean
	histValue := aggregate.Summarize(aggregate.Sums(aggregate.ByDay(hist, aggregate.Amount))).Mean
	todayQty := aggregate.Sum(today, aggregate.Quantity)
	todayValue := aggregate.Sum(today, aggregate.Amount)

	score := 0
	messages := []string{}
	alert := false

	if histQty > 0 {
		if todayQty/histQty < h.cfg.QtyRatio {
			score += h.cfg.QtyPoints
			alert = true
			messages = append(messages,
				fmt.Sprintf("High-value products: Only %.0f units sold", todayQty),
				fmt.Sprintf("   Average: %.0f units | Today: %.0f units", histQty, todayQty),
			)
		}
		if todayQty == 0 && histQty > h.cfg.ZeroSaleMinMean {
			score += h.cfg.ZeroSalePoints
			alert = true
			messages = append(messages, "ZERO high-value product sales today (very unusual)")
		}
	}

	if histValue > 0 && todayValue/histValue < h.cfg.ValueRatio {
		score += h.cfg.ValuePoints
		alert = true
		messages = append(messages, fmt.Sprintf("High-value sales: %s (avg: %s)",
			money(h.currency, todayValue), money(h.currency, histValue)))
	}

	unsold := 0
	if len(today) > 0 {
		sold := make(map[string]bool)
		for _, r := range today {
			sold[r.ProductName] = true
		}
		for _, p := range products {
			if !sold[p] {
				unsold++
			}
		}
		if float64(unsold) >= float64(len(products))*h.cfg.UnsoldShare {
			score += h.cfg.UnsoldPoints
			messages = append(messages, fmt.Sprintf("%d/%d high-value products NOT sold today", unsold, len(products)))
		}
	}

	return models.DetectorResult{
		Algorithm:  algorithm,
		RiskScore:  capScore(score, h.cfg.Cap),
		Alert:      alert,
		Messages:   messages,
		CanAnalyze: true,
		Metrics: map[string]float64{
			"high_value_products_count": float64(len(products)),
			"today_qty":                 todayQty,
			"avg_qty":                   histQty,
			"today_value":               todayValue,
			"avg_value":                 histValue,
			"unsold_products":           float64(unsold),
		},
	}, nil
}
