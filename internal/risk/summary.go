// Package risk folds stored interaction reports into the safety overview
// shown above the history list.
package risk

import (
	"math"
	"unicode/utf8"

	"github.com/mediguard/mediguard-platform/internal/records"
)

const (
	High   = "HIGH"
	Medium = "MEDIUM"
	Low    = "LOW"
)

// Summary is the risk distribution across a set of reports.
type Summary struct {
	Total       int     `json:"total"`
	High        int     `json:"high"`
	Medium      int     `json:"medium"`
	Low         int     `json:"low"`
	HighPct     float64 `json:"highPct"`
	MediumPct   float64 `json:"mediumPct"`
	LowPct      float64 `json:"lowPct"`
	SafePercent int     `json:"safePercent"`
}

// Bucket classifies a risk level. Only the exact strings HIGH and MEDIUM
// are risky; everything else, including MODERATE and blanks, counts as low.
func Bucket(level string) string {
	switch level {
	case High, Medium:
		return level
	default:
		return Low
	}
}

// Summarize computes the distribution for reports. ok is false for an
// empty history, in which case nothing should be shown.
func Summarize(reports []records.Report) (Summary, bool) {
	levels := make([]string, len(reports))
	for i, r := range reports {
		levels[i] = r.Analysis.RiskLevel
	}
	return SummarizeLevels(levels)
}

// SummarizeLevels is Summarize over raw risk-level strings.
func SummarizeLevels(levels []string) (Summary, bool) {
	total := len(levels)
	if total == 0 {
		return Summary{}, false
	}
	s := Summary{Total: total}
	for _, level := range levels {
		switch Bucket(level) {
		case High:
			s.High++
		case Medium:
			s.Medium++
		}
	}
	s.Low = total - (s.High + s.Medium)
	s.HighPct = pct(s.High, total)
	s.MediumPct = pct(s.Medium, total)
	s.LowPct = pct(s.Low, total)
	s.SafePercent = int(math.Round(s.LowPct))
	return s, true
}

// Badge is the single-letter marker shown next to a history entry; a
// missing level reads as LOW.
func Badge(level string) string {
	if level == "" {
		level = Low
	}
	_, size := utf8.DecodeRuneInString(level)
	return level[:size]
}

func pct(n, total int) float64 {
	return float64(n) / float64(total) * 100
}
