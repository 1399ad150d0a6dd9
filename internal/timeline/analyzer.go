package timeline

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rawblock/fundflow-engine/internal/stats"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Timeline Analysis Module
//
// Temporal behaviour complements the structural patterns: launderers tend
// to move in bursts, at night, and with very short dwell times between
// receiving and forwarding funds. This module measures
//
//   - the overall time span of the history
//   - activity periods: maximal runs with gaps of at most BurstGap
//   - per-day and per-hour frequency, including the 01:00-05:59 share
//   - inter-transaction intervals and the count of rapid steps
//
// Only transactions with a timestamp take part; the rest are ignored here
// and still count for amount and graph analysis elsewhere. All hours and
// dates are UTC.

const (
	DefaultBurstGap      = time.Hour
	DefaultRapidInterval = 10 * time.Minute
	maxRapidSteps        = 10
	offHoursStart        = 1
	offHoursEnd          = 5 // inclusive
)

// TimeSpan is the first/last instant of the history.
type TimeSpan struct {
	First           time.Time `json:"first"`
	Last            time.Time `json:"last"`
	DurationSeconds float64   `json:"durationSeconds"`
	DurationHours   float64   `json:"durationHours"`
	DurationDays    float64   `json:"durationDays"`
}

// ActivityPeriod is one burst of closely spaced transactions.
type ActivityPeriod struct {
	Start            time.Time       `json:"start"`
	End              time.Time       `json:"end"`
	DurationSeconds  float64         `json:"durationSeconds"`
	TransactionCount int             `json:"transactionCount"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	AverageAmount    decimal.Decimal `json:"averageAmount"`
	Intensity        float64         `json:"intensity"` // tx per minute, the count itself for zero-length periods
}

// Frequency describes how activity is spread over days and hours.
type Frequency struct {
	TotalTransactions  int            `json:"totalTransactions"`
	ActiveDays         int            `json:"activeDays"`
	AverageDaily       float64        `json:"averageDaily"`
	MaxDaily           int            `json:"maxDaily"`
	OffHoursCount      int            `json:"offHoursCount"`
	OffHoursRatio      float64        `json:"offHoursRatio"`
	HourlyDistribution [24]int        `json:"hourlyDistribution"`
	DailyCounts        map[string]int `json:"dailyCounts"`
}

// RapidStep is a pair of consecutive transactions closer than RapidInterval.
type RapidStep struct {
	FromTx          string  `json:"fromTx"`
	ToTx            string  `json:"toTx"`
	IntervalSeconds float64 `json:"intervalSeconds"`
}

// Velocity holds inter-transaction interval statistics.
type Velocity struct {
	AverageIntervalSeconds float64     `json:"averageIntervalSeconds"`
	MedianIntervalSeconds  float64     `json:"medianIntervalSeconds"`
	MinIntervalSeconds     float64     `json:"minIntervalSeconds"`
	RapidCount             int         `json:"rapidCount"`
	RapidSteps             []RapidStep `json:"rapidSteps"`
}

// AverageIntervalMinutes is a convenience for narrative text.
func (v *Velocity) AverageIntervalMinutes() float64 {
	return v.AverageIntervalSeconds / 60
}

// Analysis is the full timeline result. Sections are nil when the history
// has too few timestamped transactions to compute them.
type Analysis struct {
	TransactionCount int              `json:"transactionCount"`
	TimeSpan         *TimeSpan        `json:"timeSpan,omitempty"`
	ActivityPeriods  []ActivityPeriod `json:"activityPeriods"`
	Frequency        *Frequency       `json:"frequency,omitempty"`
	Velocity         *Velocity        `json:"velocity,omitempty"`
}

// Analyzer computes timeline statistics. The zero value is not usable;
// construct it with NewAnalyzer.
type Analyzer struct {
	burstGap      time.Duration
	rapidInterval time.Duration
}

// NewAnalyzer returns an analyzer with the default one-hour burst gap and
// ten-minute rapid interval.
func NewAnalyzer() *Analyzer {
	return &Analyzer{burstGap: DefaultBurstGap, rapidInterval: DefaultRapidInterval}
}

// Chronological returns the timestamped transactions sorted by time.
// Ties keep their input order.
func Chronological(txs []models.Transaction) []models.Transaction {
	out := make([]models.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.HasTimestamp() {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Analyze runs every timeline measurement over txs.
func (a *Analyzer) Analyze(txs []models.Transaction) Analysis {
	sorted := Chronological(txs)
	res := Analysis{
		TransactionCount: len(sorted),
		ActivityPeriods:  []ActivityPeriod{},
	}
	if len(sorted) == 0 {
		return res
	}

	res.TimeSpan = timeSpan(sorted)
	res.ActivityPeriods = a.activityPeriods(sorted)
	res.Frequency = frequency(sorted)
	res.Velocity = a.velocity(sorted)
	return res
}

func timeSpan(sorted []models.Transaction) *TimeSpan {
	first := sorted[0].Timestamp
	last := sorted[len(sorted)-1].Timestamp
	d := last.Sub(first)
	return &TimeSpan{
		First:           first,
		Last:            last,
		DurationSeconds: d.Seconds(),
		DurationHours:   d.Hours(),
		DurationDays:    d.Hours() / 24,
	}
}

func (a *Analyzer) activityPeriods(sorted []models.Transaction) []ActivityPeriod {
	var periods []ActivityPeriod
	start := 0
	for i := 1; i <= len(sorted); i++ {
		if i < len(sorted) && sorted[i].Timestamp.Sub(sorted[i-1].Timestamp) <= a.burstGap {
			continue
		}
		periods = append(periods, summarizePeriod(sorted[start:i]))
		start = i
	}
	return periods
}

func summarizePeriod(txs []models.Transaction) ActivityPeriod {
	p := ActivityPeriod{
		Start:            txs[0].Timestamp,
		End:              txs[len(txs)-1].Timestamp,
		TransactionCount: len(txs),
		TotalAmount:      decimal.Zero,
	}
	for _, tx := range txs {
		p.TotalAmount = p.TotalAmount.Add(tx.Value)
	}
	p.AverageAmount = p.TotalAmount.Div(decimal.NewFromInt(int64(len(txs))))
	p.DurationSeconds = p.End.Sub(p.Start).Seconds()
	if p.DurationSeconds > 0 {
		p.Intensity = float64(p.TransactionCount) / (p.DurationSeconds / 60)
	} else {
		p.Intensity = float64(p.TransactionCount)
	}
	return p
}

func frequency(sorted []models.Transaction) *Frequency {
	f := &Frequency{
		TotalTransactions: len(sorted),
		DailyCounts:       make(map[string]int),
	}
	for _, tx := range sorted {
		f.DailyCounts[tx.Timestamp.Format(time.DateOnly)]++
		h := tx.Timestamp.Hour()
		f.HourlyDistribution[h]++
		if h >= offHoursStart && h <= offHoursEnd {
			f.OffHoursCount++
		}
	}

	f.ActiveDays = len(f.DailyCounts)
	for _, c := range f.DailyCounts {
		if c > f.MaxDaily {
			f.MaxDaily = c
		}
	}
	f.AverageDaily = float64(len(sorted)) / float64(f.ActiveDays)
	f.OffHoursRatio = float64(f.OffHoursCount) / float64(len(sorted))
	return f
}

func (a *Analyzer) velocity(sorted []models.Transaction) *Velocity {
	if len(sorted) < 2 {
		return nil
	}

	intervals := make([]float64, 0, len(sorted)-1)
	v := &Velocity{RapidSteps: []RapidStep{}}
	for i := 1; i < len(sorted); i++ {
		gap := sorted[i].Timestamp.Sub(sorted[i-1].Timestamp)
		intervals = append(intervals, gap.Seconds())
		if gap < a.rapidInterval {
			v.RapidCount++
			if len(v.RapidSteps) < maxRapidSteps {
				v.RapidSteps = append(v.RapidSteps, RapidStep{
					FromTx:          sorted[i-1].Hash,
					ToTx:            sorted[i].Hash,
					IntervalSeconds: gap.Seconds(),
				})
			}
		}
	}

	v.AverageIntervalSeconds = stats.Mean(intervals)
	v.MedianIntervalSeconds = stats.Median(intervals)
	v.MinIntervalSeconds = stats.Min(intervals)
	return v
}
