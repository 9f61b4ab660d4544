/*
stats.go - Usage reporting with decimal precision

PURPOSE:
  Derived, read-only views for dashboards: daily averages, usage
  share, and projected earn rates. The ledger itself is strictly
  integer; these summaries divide and percentage, which is exactly
  where binary floats start lying, so they use decimal.Decimal.
*/
package engine

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// APP SUMMARY
// =============================================================================

// AppSummary is one app's derived usage statistics.
type AppSummary struct {
	LogicalID   LogicalAppID
	DisplayName string
	Category    Category

	TodayMinutes    int64
	LifetimeMinutes int64

	// AvgDailyMinutes averages archived history plus today. Zero-usage
	// days never enter the history, so this is an average over active
	// days.
	AvgDailyMinutes decimal.Decimal

	// UsageShare is this app's fraction of all tracked lifetime
	// seconds, in [0, 1].
	UsageShare decimal.Decimal
}

// UsageReport aggregates summaries plus the balance view.
type UsageReport struct {
	Balance BalanceSnapshot
	Apps    []AppSummary

	// EarnRatePerHour projects points earned per hour of learning
	// time, weighted by each learning app's configured rate and
	// historical share of learning usage.
	EarnRatePerHour decimal.Decimal
}

// Report builds the derived statistics view.
func (e *Engine) Report() UsageReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	records := e.ledger.Records()
	rep := UsageReport{Balance: e.ledger.Balance()}

	var totalSeconds, learnSeconds int64
	weightedRate := decimal.Zero
	for _, r := range records {
		totalSeconds += r.LifetimeSeconds
		if r.Category == CategoryLearning {
			learnSeconds += r.LifetimeSeconds
		}
	}

	for _, r := range records {
		s := AppSummary{
			LogicalID:       r.LogicalID,
			DisplayName:     r.DisplayName,
			Category:        r.Category,
			TodayMinutes:    r.TodaySeconds / 60,
			LifetimeMinutes: r.LifetimeSeconds / 60,
			AvgDailyMinutes: avgDailyMinutes(r),
			UsageShare:      share(r.LifetimeSeconds, totalSeconds),
		}
		rep.Apps = append(rep.Apps, s)

		if r.Category == CategoryLearning && learnSeconds > 0 {
			w := share(r.LifetimeSeconds, learnSeconds)
			weightedRate = weightedRate.Add(w.Mul(decimal.NewFromInt(r.PointsPerMinute)))
		}
	}
	rep.EarnRatePerHour = weightedRate.Mul(decimal.NewFromInt(60))

	sort.Slice(rep.Apps, func(i, j int) bool {
		return rep.Apps[i].LifetimeMinutes > rep.Apps[j].LifetimeMinutes
	})
	return rep
}

func avgDailyMinutes(r *AppRecord) decimal.Decimal {
	days := int64(len(r.DailyHistory))
	total := r.TodaySeconds
	for _, d := range r.DailyHistory {
		total += d.Seconds
	}
	if r.TodaySeconds > 0 || days == 0 {
		days++
	}
	return decimal.NewFromInt(total).
		Div(decimal.NewFromInt(days * 60)).
		Round(2)
}

func share(part, whole int64) decimal.Decimal {
	if whole == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(part).
		Div(decimal.NewFromInt(whole)).
		Round(4)
}
