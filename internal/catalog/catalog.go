package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/rawblock/fundflow-engine/pkg/models"
)

// Pattern Catalog
//
// The catalog is the read-only description of every laundering pattern the
// engine knows about: display names in both languages, the risk level a
// match carries, and pattern-specific parameters (known mixer addresses,
// per-currency reporting thresholds). It is parsed once at process start
// and passed by pointer into every component that needs it. Nothing
// mutates it after Load returns.
//
// A malformed catalog is a configuration error and must stop the process,
// so every loader returns ErrInvalidCatalog instead of degrading.

//go:embed patterns.json
var defaultPatternsJSON []byte

// ErrInvalidCatalog wraps every structural problem found while loading.
var ErrInvalidCatalog = errors.New("invalid pattern catalog")

// Pattern is one catalog entry.
type Pattern struct {
	ID                  string             `json:"id"`
	Name                string             `json:"name"`
	NameJA              string             `json:"name_ja"`
	NameEN              string             `json:"name_en"`
	DescriptionJA       string             `json:"description_ja"`
	DescriptionEN       string             `json:"description_en"`
	RiskLevel           models.RiskLevel   `json:"risk_level"`
	KnownMixers         []string           `json:"known_mixers,omitempty"`
	ReportingThresholds map[string]float64 `json:"reporting_thresholds,omitempty"`
}

// PatternCatalog is the parsed patterns.json document.
type PatternCatalog struct {
	Patterns             []Pattern                    `json:"patterns"`
	RiskWeights          map[models.RiskLevel]float64 `json:"risk_weights"`
	ConfidenceThresholds map[string]float64           `json:"confidence_thresholds"`
	HighRiskAddresses    []string                     `json:"high_risk_addresses"`

	byID map[string]int
}

// DefaultPatterns parses the catalog compiled into the binary.
func DefaultPatterns() (*PatternCatalog, error) {
	return ParsePatterns(defaultPatternsJSON)
}

// LoadPatterns reads a catalog from disk, or the embedded one when path is empty.
func LoadPatterns(path string) (*PatternCatalog, error) {
	if path == "" {
		return DefaultPatterns()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidCatalog, path, err)
	}
	return ParsePatterns(data)
}

// ParsePatterns decodes and validates a catalog document. Addresses are
// normalized the same way transactions are so lookups can compare directly.
func ParsePatterns(data []byte) (*PatternCatalog, error) {
	var c PatternCatalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if len(c.Patterns) == 0 {
		return nil, fmt.Errorf("%w: no patterns defined", ErrInvalidCatalog)
	}

	c.byID = make(map[string]int, len(c.Patterns))
	for i := range c.Patterns {
		p := &c.Patterns[i]
		if p.ID == "" {
			return nil, fmt.Errorf("%w: pattern #%d has no id", ErrInvalidCatalog, i)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate pattern id %q", ErrInvalidCatalog, p.ID)
		}
		if p.NameJA == "" || p.NameEN == "" {
			return nil, fmt.Errorf("%w: pattern %q is missing a localized name", ErrInvalidCatalog, p.ID)
		}
		if !p.RiskLevel.Valid() || p.RiskLevel == models.RiskMinimal {
			return nil, fmt.Errorf("%w: pattern %q has risk_level %q", ErrInvalidCatalog, p.ID, p.RiskLevel)
		}
		for cur, v := range p.ReportingThresholds {
			if v <= 0 {
				return nil, fmt.Errorf("%w: pattern %q threshold for %s must be positive", ErrInvalidCatalog, p.ID, cur)
			}
		}
		p.KnownMixers = normalizeAll(p.KnownMixers)
		c.byID[p.ID] = i
	}

	for level, w := range c.RiskWeights {
		if !level.Valid() || w < 0 || w > 1 {
			return nil, fmt.Errorf("%w: risk weight %q=%v", ErrInvalidCatalog, level, w)
		}
	}
	for label, v := range c.ConfidenceThresholds {
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("%w: confidence threshold %q=%v", ErrInvalidCatalog, label, v)
		}
	}
	c.HighRiskAddresses = normalizeAll(c.HighRiskAddresses)

	return &c, nil
}

// Pattern looks up an entry by id.
func (c *PatternCatalog) Pattern(id string) (Pattern, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Pattern{}, false
	}
	return c.Patterns[i], true
}

// RiskWeight returns the catalog weight for a level, falling back to the
// built-in table when the catalog does not override it.
func (c *PatternCatalog) RiskWeight(level models.RiskLevel) float64 {
	if w, ok := c.RiskWeights[level]; ok {
		return w
	}
	return level.Weight()
}

// ConfidenceLabel buckets a confidence into the highest threshold it meets.
// Below every threshold the label is "weak".
func (c *PatternCatalog) ConfidenceLabel(confidence float64) string {
	type bucket struct {
		label string
		min   float64
	}
	buckets := make([]bucket, 0, len(c.ConfidenceThresholds))
	for label, floor := range c.ConfidenceThresholds {
		buckets = append(buckets, bucket{label, floor})
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].min == buckets[j].min {
			return buckets[i].label < buckets[j].label
		}
		return buckets[i].min > buckets[j].min
	})
	for _, b := range buckets {
		if confidence >= b.min {
			return b.label
		}
	}
	return "weak"
}

// KnownMixers returns the union of every pattern's mixer list.
func (c *PatternCatalog) KnownMixers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range c.Patterns {
		for _, m := range p.KnownMixers {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}

func normalizeAll(addrs []string) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if n := models.NormalizeAddress(a); n != "" {
			out = append(out, n)
		}
	}
	return out
}
