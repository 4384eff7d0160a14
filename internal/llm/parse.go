package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/lemayian23/code-review-ai/internal/types"
)

// rawFinding mirrors the JSON shape the analysis prompts ask the model to
// emit.
type rawFinding struct {
	File       string  `json:"file"`
	Line       int     `json:"line"`
	Category   string  `json:"category"`
	Severity   string  `json:"severity"`
	Message    string  `json:"message"`
	Suggestion string  `json:"suggestion"`
	Confidence float64 `json:"confidence"`
}

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ParseFindings extracts findings from a model response. It tries strict
// JSON first, then JSON inside a fenced block, then a line-oriented
// fallback for models that ignore the format instructions. Responses that
// yield nothing return an empty slice, never an error.
func ParseFindings(content, model string) []types.Finding {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	if fs := parseJSON(content, model); fs != nil {
		return fs
	}
	if m := fencedBlock.FindStringSubmatch(content); m != nil {
		if fs := parseJSON(strings.TrimSpace(m[1]), model); fs != nil {
			return fs
		}
	}
	return parseText(content, model)
}

func parseJSON(content, model string) []types.Finding {
	var raws []rawFinding
	if err := json.Unmarshal([]byte(content), &raws); err != nil {
		// Some models wrap the array in an object.
		var wrapper struct {
			Findings []rawFinding `json:"findings"`
		}
		if err := json.Unmarshal([]byte(content), &wrapper); err != nil || wrapper.Findings == nil {
			return nil
		}
		raws = wrapper.Findings
	}

	out := make([]types.Finding, 0, len(raws))
	for _, r := range raws {
		if r.Message == "" {
			continue
		}
		out = append(out, types.Finding{
			ID:         uuid.New().String(),
			Origin:     types.FindingFromModel,
			Category:   normalizeCategory(r.Category),
			Severity:   normalizeSeverity(r.Severity),
			FilePath:   r.File,
			Line:       r.Line,
			Message:    strings.TrimSpace(r.Message),
			Suggestion: strings.TrimSpace(r.Suggestion),
			Confidence: clampConfidence(r.Confidence),
			ModelID:    model,
		})
	}
	return out
}

var textFinding = regexp.MustCompile(`^[-*]?\s*(?:\[(\w+)\]\s*)?([\w./-]+\.\w+):(\d+)\s*[-:]\s*(.+)$`)

// parseText recovers findings from bullet-style prose such as
// "- [high] server.go:42 - message". Confidence defaults low because the
// structured channel failed.
func parseText(content, model string) []types.Finding {
	var out []types.Finding
	for _, line := range strings.Split(content, "\n") {
		m := textFinding.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		lineNo := 0
		for _, c := range m[3] {
			lineNo = lineNo*10 + int(c-'0')
		}
		out = append(out, types.Finding{
			ID:         uuid.New().String(),
			Origin:     types.FindingFromModel,
			Category:   "general",
			Severity:   normalizeSeverity(m[1]),
			FilePath:   m[2],
			Line:       lineNo,
			Message:    strings.TrimSpace(m[4]),
			Confidence: 0.4,
			ModelID:    model,
		})
	}
	return out
}

func normalizeSeverity(s string) types.Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "blocker":
		return types.SeverityCritical
	case "high", "major":
		return types.SeverityHigh
	case "low", "minor", "info", "nit":
		return types.SeverityLow
	default:
		return types.SeverityMedium
	}
}

func normalizeCategory(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "general"
	}
	return s
}

func clampConfidence(c float64) float64 {
	if c <= 0 {
		return 0.5
	}
	if c > 1 {
		return 1
	}
	return c
}
