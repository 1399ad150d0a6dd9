package heuristics

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rawblock/fundflow-engine/internal/catalog"
	"github.com/rawblock/fundflow-engine/internal/stats"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Composite Risk Scorer
//
// Folds patterns, anomalies and three history-derived signals into one
// 0-100 score:
//
//   factor        weight   score
//   pattern       0.35     min(Σ risk_weight × confidence × 50, 100)
//   anomaly       0.25     min(Σ severity_weight × 30, 100)
//   counterparty  0.20     100 × watchlisted txs / all txs
//   volume        0.10     step on total value, boosted for busy addresses
//   age           0.10     step on days since first tx, boosted if dormant
//
// risk_score = Σ score × weight, and the level is a pure function of the
// score:
//
//   critical ≥80 | high ≥60 | medium ≥40 | low ≥20 | minimal
//
// An empty history scores a neutral 50 on every factor.

const neutralScore = 50.0

// Factors lists the risk factors in breakdown order.
var Factors = []models.RiskFactor{
	models.FactorPattern,
	models.FactorAnomaly,
	models.FactorCounterparty,
	models.FactorVolume,
	models.FactorAge,
}

// FactorWeight is the fixed weight of a factor. The five weights sum to 1.
func FactorWeight(f models.RiskFactor) float64 {
	switch f {
	case models.FactorPattern:
		return 0.35
	case models.FactorAnomaly:
		return 0.25
	case models.FactorCounterparty:
		return 0.20
	case models.FactorVolume, models.FactorAge:
		return 0.10
	}
	return 0
}

var factorDescriptions = map[models.RiskFactor][2]string{
	models.FactorPattern:      {"検出されたマネーロンダリングパターン", "Detected money laundering patterns"},
	models.FactorAnomaly:      {"統計的異常検知", "Statistical anomaly detection"},
	models.FactorCounterparty: {"高リスク取引相手との関連性", "Association with high-risk entities"},
	models.FactorVolume:       {"取引量ベースのリスク", "Volume-based risk assessment"},
	models.FactorAge:          {"アドレス年齢と活動パターン", "Address age and activity pattern"},
}

var riskLevelNames = map[models.RiskLevel][2]string{
	models.RiskCritical: {"極めて高い", "Critical"},
	models.RiskHigh:     {"高い", "High"},
	models.RiskMedium:   {"中程度", "Medium"},
	models.RiskLow:      {"低い", "Low"},
	models.RiskMinimal:  {"極めて低い", "Minimal"},
}

// LevelFor maps a score onto its risk level.
func LevelFor(score float64) models.RiskLevel {
	switch {
	case score >= 80:
		return models.RiskCritical
	case score >= 60:
		return models.RiskHigh
	case score >= 40:
		return models.RiskMedium
	case score >= 20:
		return models.RiskLow
	default:
		return models.RiskMinimal
	}
}

// ScorerOption customizes a RiskScorer.
type ScorerOption func(*RiskScorer)

// WithClock replaces time.Now, which drives address age.
func WithClock(now func() time.Time) ScorerOption {
	return func(s *RiskScorer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithWatchlist overrides the catalog's high-risk addresses.
func WithWatchlist(w *Watchlist) ScorerOption {
	return func(s *RiskScorer) {
		if w != nil {
			s.watchlist = w
		}
	}
}

// RiskScorer computes RiskAssessments. It is safe for concurrent use.
type RiskScorer struct {
	catalog   *catalog.PatternCatalog
	watchlist *Watchlist
	now       func() time.Time
	logger    *zap.Logger
}

// NewRiskScorer builds a scorer. A nil catalog falls back to the built-in
// risk weights and DefaultHighRiskAddresses.
func NewRiskScorer(cat *catalog.PatternCatalog, logger *zap.Logger, opts ...ScorerOption) *RiskScorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &RiskScorer{
		catalog: cat,
		now:     time.Now,
		logger:  logger.Named("risk"),
	}
	if cat != nil && len(cat.HighRiskAddresses) > 0 {
		s.watchlist = NewWatchlist(cat.HighRiskAddresses...)
	} else {
		s.watchlist = NewWatchlist(DefaultHighRiskAddresses...)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Watchlist exposes the high-risk set in use.
func (s *RiskScorer) Watchlist() *Watchlist { return s.watchlist }

// Assess scores address from its history and the detector outputs.
func (s *RiskScorer) Assess(address string, txs []models.Transaction, patterns []models.PatternMatch, anomalies []models.Anomaly) models.RiskAssessment {
	address = models.NormalizeAddress(address)
	now := s.now().UTC()

	scores := map[models.RiskFactor]float64{
		models.FactorPattern:      neutralScore,
		models.FactorAnomaly:      neutralScore,
		models.FactorCounterparty: neutralScore,
		models.FactorVolume:       neutralScore,
		models.FactorAge:          neutralScore,
	}
	if len(txs) > 0 {
		scores[models.FactorPattern] = s.patternScore(patterns)
		scores[models.FactorAnomaly] = anomalyScore(anomalies)
		scores[models.FactorCounterparty] = s.counterpartyScore(txs)
		scores[models.FactorVolume] = volumeScore(txs)
		scores[models.FactorAge] = ageScore(txs, now)
	}

	breakdown := make(map[models.RiskFactor]models.FactorScore, len(Factors))
	total := 0.0
	for _, f := range Factors {
		w := FactorWeight(f)
		contribution := scores[f] * w
		total += contribution
		desc := factorDescriptions[f]
		breakdown[f] = models.FactorScore{
			Score:         scores[f],
			Weight:        w,
			Contribution:  contribution,
			DescriptionJA: desc[0],
			DescriptionEN: desc[1],
		}
	}

	score := stats.Round2(min(max(total, 0), 100))
	level := LevelFor(score)
	names := riskLevelNames[level]

	a := models.RiskAssessment{
		Address:         address,
		RiskScore:       score,
		RiskLevel:       level,
		RiskLevelJA:     names[0],
		RiskLevelEN:     names[1],
		Breakdown:       breakdown,
		PatternCount:    len(patterns),
		AnomalyCount:    len(anomalies),
		Recommendations: Recommend(level, patterns),
		AssessedAt:      now,
	}

	s.logger.Debug("risk assessed",
		zap.String("address", address),
		zap.Float64("score", score),
		zap.String("level", string(level)))
	return a
}

func (s *RiskScorer) riskWeight(level models.RiskLevel) float64 {
	if s.catalog != nil {
		return s.catalog.RiskWeight(level)
	}
	return level.Weight()
}

func (s *RiskScorer) patternScore(patterns []models.PatternMatch) float64 {
	sum := 0.0
	for _, p := range patterns {
		sum += s.riskWeight(p.RiskLevel) * p.Confidence
	}
	return stats.Round2(min(sum*50, 100))
}

func anomalyScore(anomalies []models.Anomaly) float64 {
	sum := 0.0
	for _, a := range anomalies {
		sum += a.Severity.Weight()
	}
	return stats.Round2(min(sum*30, 100))
}

func (s *RiskScorer) counterpartyScore(txs []models.Transaction) float64 {
	hits := s.watchlist.CountHits(txs)
	return stats.Round2(100 * float64(hits) / float64(len(txs)))
}

var (
	volume1000 = decimal.NewFromInt(1000)
	volume100  = decimal.NewFromInt(100)
	volume10   = decimal.NewFromInt(10)
	volume1    = decimal.NewFromInt(1)
)

func volumeScore(txs []models.Transaction) float64 {
	total := sumValues(txs)

	var score float64
	switch {
	case total.GreaterThan(volume1000):
		score = 80
	case total.GreaterThan(volume100):
		score = 60
	case total.GreaterThan(volume10):
		score = 40
	case total.GreaterThan(volume1):
		score = 20
	default:
		score = 10
	}

	switch n := len(txs); {
	case n > 1000:
		score = min(score*1.2, 100)
	case n > 100:
		score = min(score*1.1, 100)
	}
	return stats.Round2(score)
}

func ageScore(txs []models.Transaction, now time.Time) float64 {
	var first, last time.Time
	dated := 0
	for _, tx := range txs {
		if !tx.HasTimestamp() {
			continue
		}
		if dated == 0 || tx.Timestamp.Before(first) {
			first = tx.Timestamp
		}
		if dated == 0 || tx.Timestamp.After(last) {
			last = tx.Timestamp
		}
		dated++
	}
	if dated == 0 {
		return neutralScore
	}

	ageDays := wholeDays(now.Sub(first))
	var score float64
	switch {
	case ageDays < 7:
		score = 80
	case ageDays < 30:
		score = 60
	case ageDays < 90:
		score = 40
	case ageDays < 365:
		score = 20
	default:
		score = 10
	}

	inactive := float64(wholeDays(now.Sub(last))) / float64(max(ageDays, 1))
	if inactive > 0.5 {
		score = min(score*1.3, 100)
	}
	return stats.Round2(score)
}

// wholeDays floors d to whole days, rounding towards negative infinity.
func wholeDays(d time.Duration) int {
	days := int(d / (24 * time.Hour))
	if d < 0 && d%(24*time.Hour) != 0 {
		days--
	}
	return days
}

// ─── Recommendations ──────────────────────────────────────────────────

var levelRecommendations = map[models.RiskLevel]models.Recommendations{
	models.RiskCritical: {
		JA: []string{
			"即座に法執行機関への通報を検討してください",
			"関連する全ての取引を詳細に調査してください",
			"このアドレスとの取引を直ちに停止してください",
		},
		EN: []string{
			"Consider immediate reporting to law enforcement",
			"Conduct detailed investigation of all related transactions",
			"Cease all transactions with this address immediately",
		},
	},
	models.RiskHigh: {
		JA: []string{
			"詳細な調査を実施してください",
			"このアドレスを監視リストに追加してください",
			"上級管理職に報告してください",
		},
		EN: []string{
			"Conduct detailed investigation",
			"Add this address to monitoring watchlist",
			"Report to senior management",
		},
	},
	models.RiskMedium: {
		JA: []string{
			"継続的な監視を推奨します",
			"追加の取引履歴を確認してください",
		},
		EN: []string{
			"Continued monitoring recommended",
			"Review additional transaction history",
		},
	},
}

var patternRecommendations = []struct {
	id     PatternID
	ja, en string
}{
	{PatternMixing, "ミキシングサービスの使用が確認されました - 高リスク", "Mixing service usage confirmed - high risk"},
	{PatternLayering, "レイヤリングパターンが検出されました - 資金源の追跡を強化してください", "Layering pattern detected - enhance source tracking"},
}

// Recommend looks up the advice for a level plus any pattern-specific lines.
func Recommend(level models.RiskLevel, patterns []models.PatternMatch) models.Recommendations {
	base := levelRecommendations[level]
	r := models.Recommendations{
		JA: append([]string{}, base.JA...),
		EN: append([]string{}, base.EN...),
	}
	for _, pr := range patternRecommendations {
		for _, p := range patterns {
			if p.PatternID == string(pr.id) {
				r.JA = append(r.JA, pr.ja)
				r.EN = append(r.EN, pr.en)
				break
			}
		}
	}
	return r
}
