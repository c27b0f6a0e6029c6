// Package analytics turns a trade list into the statistics shown on the
// dashboard and analytics views. Everything here is a pure function of its
// inputs: no I/O, no caching, recomputed in full on every call.
package analytics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"trade-journal-go/internal/models"

	"github.com/shopspring/decimal"
)

const dayLayout = "2006-01-02"

// Options parameterises a computation. Now and Location default to the
// current instant and UTC.
type Options struct {
	Period   Period
	Filter   models.TradeFilter
	Now      time.Time
	Location *time.Location
}

// Tally counts wins out of a total. WinRate is only set when Total > 0.
type Tally struct {
	Wins    int  `json:"wins"`
	Total   int  `json:"total"`
	WinRate *int `json:"win_rate,omitempty"`
}

// GroupPerformance is the win record of one instrument or timeframe.
type GroupPerformance struct {
	Key     string `json:"key"`
	Wins    int    `json:"wins"`
	Total   int    `json:"total"`
	WinRate int    `json:"win_rate"`
}

// DailyCount is one point of the trades-over-time series.
type DailyCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// DailyProfit is one point of the profit-over-time series.
type DailyProfit struct {
	Day        string          `json:"day"`
	Profit     decimal.Decimal `json:"profit"`
	Cumulative decimal.Decimal `json:"cumulative"`
}

// Insight is a short observation derived from grade performance.
type Insight struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Summary holds every derived metric for one trade collection.
type Summary struct {
	Period             Period                   `json:"period"`
	TotalTrades        int                      `json:"total_trades"`
	WinRate            int                      `json:"win_rate"`
	GradedTrades       int                      `json:"graded_trades"`
	GradeDistribution  map[models.Grade]int     `json:"grade_distribution"`
	AverageGrade       models.Grade             `json:"average_grade"`
	AverageGradeScore  float64                  `json:"average_grade_score"`
	ResultDistribution map[models.Result]int    `json:"result_distribution"`
	SessionPerformance map[models.Session]Tally `json:"session_performance"`
	GradePerformance   map[models.Grade]Tally   `json:"grade_performance"`
	BestInstrument     *GroupPerformance        `json:"best_instrument,omitempty"`
	BestTimeframe      *GroupPerformance        `json:"best_timeframe,omitempty"`
	ThisWeekCount      int                      `json:"this_week_count"`
	TotalProfit        decimal.Decimal          `json:"total_profit"`
	TradesOverTime     []DailyCount             `json:"trades_over_time"`
	ProfitOverTime     []DailyProfit            `json:"profit_over_time"`
	Insights           []Insight                `json:"insights"`
	Degraded           bool                     `json:"degraded,omitempty"`
}

// Compute derives the full Summary from trades after applying the period
// window and filter. It never fails: missing optional fields only exclude a
// trade from the metrics that need them.
func Compute(trades []models.Trade, opts Options) Summary {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	period := ParsePeriod(string(opts.Period))

	selected := Select(trades, period, opts.Filter, now)

	s := Summary{
		Period:             period,
		TotalTrades:        len(selected),
		GradeDistribution:  make(map[models.Grade]int, len(models.Grades)),
		ResultDistribution: make(map[models.Result]int, len(models.Results)),
		SessionPerformance: make(map[models.Session]Tally, len(models.Sessions)),
		GradePerformance:   make(map[models.Grade]Tally, len(models.Grades)),
		TotalProfit:        decimal.Zero,
		TradesOverTime:     []DailyCount{},
		ProfitOverTime:     []DailyProfit{},
		Insights:           []Insight{},
	}
	for _, g := range models.Grades {
		s.GradeDistribution[g] = 0
	}
	for _, r := range models.Results {
		s.ResultDistribution[r] = 0
	}

	sessions := make(map[models.Session]*Tally, len(models.Sessions))
	for _, sess := range models.Sessions {
		sessions[sess] = &Tally{}
	}
	grades := make(map[models.Grade]*Tally, len(models.Grades))
	for _, g := range models.Grades {
		grades[g] = &Tally{}
	}

	weekAgo := now.AddDate(0, 0, -7)
	wins, scoreSum := 0, 0
	for _, t := range selected {
		win := t.IsWin()
		if win {
			wins++
		}
		if t.Result.Valid() {
			s.ResultDistribution[t.Result]++
		}

		if t.SetupGrade.Valid() {
			s.GradedTrades++
			s.GradeDistribution[t.SetupGrade]++
			scoreSum += t.SetupGrade.Score()
			grades[t.SetupGrade].add(win)
		}
		if tally, ok := sessions[t.Session]; ok {
			tally.add(win)
		}
		if !t.OpenTime.Before(weekAgo) {
			s.ThisWeekCount++
		}
		if t.ProfitAmount.Valid {
			s.TotalProfit = s.TotalProfit.Add(t.ProfitAmount.Decimal)
		}
	}

	s.WinRate = percent(wins, s.TotalTrades)
	if s.GradedTrades > 0 {
		s.AverageGradeScore = float64(scoreSum) / float64(s.GradedTrades)
	}
	s.AverageGrade = models.GradeFromScore(s.AverageGradeScore)

	for sess, tally := range sessions {
		s.SessionPerformance[sess] = tally.finish()
	}
	for g, tally := range grades {
		s.GradePerformance[g] = tally.finish()
	}

	s.BestInstrument = bestGroup(selected, func(t models.Trade) string { return t.Instrument })
	s.BestTimeframe = bestGroup(selected, func(t models.Trade) string { return string(t.Timeframe) })
	s.TradesOverTime, s.ProfitOverTime = series(selected, loc)
	s.Insights = insights(s.GradePerformance)

	return s
}

// Select returns the trades inside the period window that match filter,
// preserving input order.
func Select(trades []models.Trade, period Period, filter models.TradeFilter, now time.Time) []models.Trade {
	since := period.Since(now)
	out := make([]models.Trade, 0, len(trades))
	for _, t := range trades {
		if !since.IsZero() && t.OpenTime.Before(since) {
			continue
		}
		if !filter.Matches(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (t *Tally) add(win bool) {
	t.Total++
	if win {
		t.Wins++
	}
}

func (t *Tally) finish() Tally {
	out := Tally{Wins: t.Wins, Total: t.Total}
	if t.Total > 0 {
		rate := percent(t.Wins, t.Total)
		out.WinRate = &rate
	}
	return out
}

// percent is round(100*part/whole), 0 when whole is 0.
func percent(part, whole int) int {
	if whole == 0 {
		return 0
	}
	return int(math.Round(100 * float64(part) / float64(whole)))
}

// bestGroup picks the group with the highest win ratio. Ties go to the group
// that first appears in trades, so the result depends on input order.
func bestGroup(trades []models.Trade, key func(models.Trade) string) *GroupPerformance {
	var order []string
	groups := make(map[string]*GroupPerformance)
	for _, t := range trades {
		k := key(t)
		if k == "" {
			continue
		}
		g, ok := groups[k]
		if !ok {
			g = &GroupPerformance{Key: k}
			groups[k] = g
			order = append(order, k)
		}
		g.Total++
		if t.IsWin() {
			g.Wins++
		}
	}

	var best *GroupPerformance
	for _, k := range order {
		g := groups[k]
		if g.Total == 0 {
			continue
		}
		// compare wins/total without floating point
		if best == nil || g.Wins*best.Total > best.Wins*g.Total {
			best = g
		}
	}
	if best == nil {
		return nil
	}
	best.WinRate = percent(best.Wins, best.Total)
	return best
}

// series buckets trades by calendar day of OpenTime in loc. Profit points only
// include trades with a profit amount and accumulate in open-time order.
func series(trades []models.Trade, loc *time.Location) ([]DailyCount, []DailyProfit) {
	sorted := make([]models.Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OpenTime.Before(sorted[j].OpenTime)
	})

	counts := []DailyCount{}
	profits := []DailyProfit{}
	cumulative := decimal.Zero
	for _, t := range sorted {
		day := t.OpenTime.In(loc).Format(dayLayout)

		if n := len(counts); n > 0 && counts[n-1].Day == day {
			counts[n-1].Count++
		} else {
			counts = append(counts, DailyCount{Day: day, Count: 1})
		}

		if !t.ProfitAmount.Valid {
			continue
		}
		amount := t.ProfitAmount.Decimal
		cumulative = cumulative.Add(amount)
		if n := len(profits); n > 0 && profits[n-1].Day == day {
			profits[n-1].Profit = profits[n-1].Profit.Add(amount)
			profits[n-1].Cumulative = cumulative
		} else {
			profits = append(profits, DailyProfit{Day: day, Profit: amount, Cumulative: cumulative})
		}
	}
	return counts, profits
}

func insights(perf map[models.Grade]Tally) []Insight {
	out := []Insight{}
	if aPlus := perf[models.GradeAPlus]; aPlus.Total > 0 {
		out = append(out, Insight{
			Kind:    "a_plus_performance",
			Message: fmt.Sprintf("%d%% win rate on A+ setups", *aPlus.WinRate),
		})
	}
	if b := perf[models.GradeB]; b.Total > 0 && *b.WinRate < 50 {
		out = append(out, Insight{
			Kind:    "b_grade_underperforming",
			Message: fmt.Sprintf("Only %d%% win rate on B setups, consider taking A-grade setups only", *b.WinRate),
		})
	}
	return out
}
