package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

//go:embed narrative_templates.json
var defaultTemplatesJSON []byte

// ErrInvalidTemplates wraps every problem found while loading the narrative table.
var ErrInvalidTemplates = errors.New("invalid narrative templates")

const (
	LangJA = "ja"
	LangEN = "en"
)

// Languages lists the narrative languages every table must cover.
var Languages = []string{LangJA, LangEN}

// RequiredSections must exist with at least one phrasing in every language.
var RequiredSections = []string{
	"opening", "overview", "overview_period",
	"patterns_header", "anomalies_header",
	"smurfing", "layering", "mixing", "structuring", "circular",
	"rapid_movement", "dusting", "peel_chain",
	"amount_anomaly", "frequency_anomaly", "time_pattern_anomaly",
	"counterparty_concentration", "one_time_large_transaction",
	"flow", "flow_complex", "flow_moderate",
	"risk_assessment", "conclusion", "no_suspicious_activity", "no_transactions",
	"finding_pattern", "finding_anomalies", "finding_risk", "finding_no_history",
	"event_incoming", "event_outgoing", "event_mixer",
}

var timeframeUnits = []string{"minutes", "hours", "days", "weeks"}

// Templates is the parsed narrative_templates.json document. Placeholders
// inside template strings are written as {name}.
type Templates struct {
	Sections               map[string]map[string][]string `json:"templates"`
	RiskLevelTranslations  map[string]map[string]string   `json:"risk_level_translations"`
	PatternTranslations    map[string]map[string]string   `json:"pattern_translations"`
	TimeframeTranslations  map[string]map[string]string   `json:"timeframe_translations"`
	ConfidenceTranslations map[string]map[string]string   `json:"confidence_translations"`
}

// DefaultTemplates parses the table compiled into the binary.
func DefaultTemplates() (*Templates, error) {
	return ParseTemplates(defaultTemplatesJSON)
}

// LoadTemplates reads the table from disk, or the embedded one when path is empty.
func LoadTemplates(path string) (*Templates, error) {
	if path == "" {
		return DefaultTemplates()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidTemplates, path, err)
	}
	return ParseTemplates(data)
}

// ParseTemplates decodes the table and checks that both languages carry
// every section, risk level and timeframe unit the generator uses.
func ParseTemplates(data []byte) (*Templates, error) {
	var t Templates
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplates, err)
	}

	for _, lang := range Languages {
		sections, ok := t.Sections[lang]
		if !ok {
			return nil, fmt.Errorf("%w: language %q missing", ErrInvalidTemplates, lang)
		}
		for _, name := range RequiredSections {
			if len(sections[name]) == 0 {
				return nil, fmt.Errorf("%w: %s section %q is empty", ErrInvalidTemplates, lang, name)
			}
		}
		for _, level := range []string{"minimal", "low", "medium", "high", "critical"} {
			if t.RiskLevelTranslations[lang][level] == "" {
				return nil, fmt.Errorf("%w: %s risk level %q untranslated", ErrInvalidTemplates, lang, level)
			}
		}
		for _, unit := range timeframeUnits {
			if t.TimeframeTranslations[lang][unit] == "" {
				return nil, fmt.Errorf("%w: %s timeframe unit %q untranslated", ErrInvalidTemplates, lang, unit)
			}
		}
	}
	return &t, nil
}

// Section returns every phrasing of a section. Unknown languages fall back to English.
func (t *Templates) Section(lang, name string) []string {
	if s, ok := t.Sections[lang]; ok {
		return s[name]
	}
	return t.Sections[LangEN][name]
}

// RiskLevel translates a risk level, returning the key itself when untranslated.
func (t *Templates) RiskLevel(lang, level string) string {
	return lookup(t.RiskLevelTranslations, lang, level)
}

// PatternName translates a pattern id.
func (t *Templates) PatternName(lang, id string) string {
	return lookup(t.PatternTranslations, lang, id)
}

// Timeframe returns the unit template (e.g. "{value} hours").
func (t *Templates) Timeframe(lang, unit string) string {
	return lookup(t.TimeframeTranslations, lang, unit)
}

// Confidence translates a confidence label.
func (t *Templates) Confidence(lang, label string) string {
	return lookup(t.ConfidenceTranslations, lang, label)
}

func lookup(table map[string]map[string]string, lang, key string) string {
	if v := table[lang][key]; v != "" {
		return v
	}
	return key
}
