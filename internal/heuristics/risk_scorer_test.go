package heuristics

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/rawblock/fundflow-engine/internal/catalog"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

func newScorer(t *testing.T, now time.Time) *RiskScorer {
	t.Helper()
	cat, err := catalog.DefaultPatterns()
	if err != nil {
		t.Fatalf("default catalog: %v", err)
	}
	return NewRiskScorer(cat, nil, WithClock(func() time.Time { return now }))
}

func sumContributions(a models.RiskAssessment) float64 {
	total := 0.0
	for _, f := range a.Breakdown {
		total += f.Contribution
	}
	return total
}

func TestFactorWeightsSumToOne(t *testing.T) {
	total := 0.0
	for _, f := range Factors {
		total += FactorWeight(f)
	}
	if math.Abs(total-1.0) > 1e-12 {
		t.Fatalf("weights sum to %v", total)
	}
}

func TestLevelFor_Boundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  models.RiskLevel
	}{
		{100, models.RiskCritical},
		{80, models.RiskCritical},
		{79.99, models.RiskHigh},
		{60, models.RiskHigh},
		{59.99, models.RiskMedium},
		{40, models.RiskMedium},
		{39.99, models.RiskLow},
		{20, models.RiskLow},
		{19.99, models.RiskMinimal},
		{0, models.RiskMinimal},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.score), func(t *testing.T) {
			if got := LevelFor(tc.score); got != tc.want {
				t.Errorf("LevelFor(%v) = %s, want %s", tc.score, got, tc.want)
			}
		})
	}
}

func TestAssess_EmptyHistoryIsNeutral(t *testing.T) {
	a := newScorer(t, t0).Assess(target, nil, nil, nil)

	if a.RiskScore != 50 || a.RiskLevel != models.RiskMedium {
		t.Fatalf("empty history = %v (%s), want 50 (medium)", a.RiskScore, a.RiskLevel)
	}
	if len(a.Breakdown) != 5 {
		t.Fatalf("breakdown has %d factors", len(a.Breakdown))
	}
	for f, s := range a.Breakdown {
		if s.Score != 50 {
			t.Errorf("%s score = %v, want 50", f, s.Score)
		}
	}
	if math.Abs(sumContributions(a)-a.RiskScore) > 1e-9 {
		t.Errorf("contributions %v != score %v", sumContributions(a), a.RiskScore)
	}
	if a.RiskLevelEN != "Medium" || a.RiskLevelJA != "中程度" {
		t.Errorf("translations %q / %q", a.RiskLevelEN, a.RiskLevelJA)
	}
}

func TestAssess_MixingScenario(t *testing.T) {
	txs := []models.Transaction{
		tx("m1", target, mixer, "0.1", t0),
		tx("m2", target, mixer, "0.2", t0.Add(20*time.Minute)),
		tx("m3", target, mixer, "0.3", t0.Add(40*time.Minute)),
	}
	patterns := newMatcher(t).Detect(txs, target)
	anomalies := NewAnomalyDetector(3, nil).Detect(txs, target)

	a := newScorer(t, t0.Add(time.Hour)).Assess(target, txs, patterns, anomalies)

	pf := a.Breakdown[models.FactorPattern]
	if pf.Score != 50 || pf.Contribution < 17.5 {
		t.Errorf("pattern factor = %+v, want contribution >= 17.5", pf)
	}
	if a.RiskScore < 0 || a.RiskScore > 100 {
		t.Errorf("score out of range: %v", a.RiskScore)
	}
	if math.Abs(sumContributions(a)-a.RiskScore) > 0.01 {
		t.Errorf("contributions %v != score %v", sumContributions(a), a.RiskScore)
	}
	if a.RiskLevel != LevelFor(a.RiskScore) {
		t.Errorf("level %s does not match score %v", a.RiskLevel, a.RiskScore)
	}

	found := false
	for _, r := range a.Recommendations.EN {
		if r == "Mixing service usage confirmed - high risk" {
			found = true
		}
	}
	if !found {
		t.Errorf("mixing recommendation missing: %v", a.Recommendations.EN)
	}
}

func TestCounterpartyScore(t *testing.T) {
	txs := []models.Transaction{
		tx("1", target, "0xd90e2f925da726b50c4ed8d0fb90ad053324f31b", "1", t0),
		tx("2", target, "b", "1", t0),
		tx("3", target, "c", "1", t0),
		tx("4", "d", target, "1", t0),
	}
	a := newScorer(t, t0).Assess(target, txs, nil, nil)
	if got := a.Breakdown[models.FactorCounterparty].Score; got != 25 {
		t.Errorf("counterparty score = %v, want 25", got)
	}

	custom := NewRiskScorer(nil, nil, WithWatchlist(NewWatchlist("B", "C")), WithClock(func() time.Time { return t0 }))
	if got := custom.Assess(target, txs, nil, nil).Breakdown[models.FactorCounterparty].Score; got != 50 {
		t.Errorf("custom watchlist score = %v, want 50", got)
	}
}

func TestVolumeScore(t *testing.T) {
	build := func(n int, v string) []models.Transaction {
		txs := make([]models.Transaction, n)
		for i := range txs {
			txs[i] = tx(fmt.Sprint(i), target, "p", v, t0)
		}
		return txs
	}
	cases := []struct {
		name string
		txs  []models.Transaction
		want float64
	}{
		{"tiny", build(1, "0.5"), 10},
		{"exactly one", build(1, "1"), 10},
		{"over one", build(2, "1"), 20},
		{"over ten", build(11, "1"), 40},
		{"busy", build(150, "0.1"), 44},
		{"very busy", build(1001, "1"), 96},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := volumeScore(tc.txs); got != tc.want {
				t.Errorf("volumeScore = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAgeScore(t *testing.T) {
	cases := []struct {
		name  string
		first time.Duration
		last  time.Duration
		want  float64
	}{
		{"brand new and dormant", 0, 0, 100},
		{"brand new and active", 0, 2 * 24 * time.Hour, 80},
		{"two months", 0, 59 * 24 * time.Hour, 40},
		{"old and active", 0, 399 * 24 * time.Hour, 10},
		{"old and dormant", 0, 100 * 24 * time.Hour, 13},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var now time.Time
			switch tc.name {
			case "two months":
				now = t0.Add(60 * 24 * time.Hour)
			case "old and active", "old and dormant":
				now = t0.Add(400 * 24 * time.Hour)
			default:
				now = t0.Add(3 * 24 * time.Hour)
			}
			txs := []models.Transaction{
				tx("a", target, "p", "1", t0.Add(tc.first)),
				tx("b", target, "p", "1", t0.Add(tc.last)),
			}
			if got := ageScore(txs, now); got != tc.want {
				t.Errorf("ageScore = %v, want %v", got, tc.want)
			}
		})
	}

	undated := []models.Transaction{tx("u", target, "p", "1", time.Time{})}
	if got := ageScore(undated, t0); got != 50 {
		t.Errorf("undated history should be neutral, got %v", got)
	}
}

func TestRecommend(t *testing.T) {
	crit := Recommend(models.RiskCritical, []models.PatternMatch{{PatternID: "layering"}, {PatternID: "mixing"}})
	if len(crit.EN) != 5 || len(crit.JA) != 5 {
		t.Fatalf("expected 5 lines, got %v", crit.EN)
	}
	if crit.EN[3] != "Mixing service usage confirmed - high risk" || crit.EN[4] != "Layering pattern detected - enhance source tracking" {
		t.Errorf("pattern lines out of order: %v", crit.EN)
	}
	if got := Recommend(models.RiskLow, nil); len(got.EN) != 0 {
		t.Errorf("low risk has no recommendations, got %v", got.EN)
	}
	if got := Recommend(models.RiskMedium, nil); len(got.EN) != 2 {
		t.Errorf("medium risk has 2 recommendations, got %v", got.EN)
	}
}

func TestWatchlist(t *testing.T) {
	w := NewWatchlist("0xD90E2F925DA726B50C4ED8D0FB90AD053324F31B", "", "0xd90e2f925da726b50c4ed8d0fb90ad053324f31b")
	if w.Len() != 1 {
		t.Fatalf("duplicates and blanks must be dropped, got %d", w.Len())
	}
	if !w.Contains("0xd90e2f925da726b50c4ed8d0fb90ad053324f31b") {
		t.Error("normalized address should be contained")
	}
	if w.CountHits([]models.Transaction{{From: "x", To: "0xd90e2f925da726b50c4ed8d0fb90ad053324f31b"}, {From: "x", To: "y"}}) != 1 {
		t.Error("CountHits mismatch")
	}
}
