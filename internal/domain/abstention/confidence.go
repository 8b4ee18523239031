package abstention

import (
	"regexp"
	"strconv"
	"strings"
)

// ConfidencePromptSuffix is appended to prompts so that models report a
// self-assessed confidence in a parseable trailer.
const ConfidencePromptSuffix = "\n\nAfter your answer, add a line \"CONFIDENCE: [0-100]\" " +
	"rating how confident you are, followed by a line \"REASONING: <one sentence>\"."

var (
	confidenceLine = regexp.MustCompile(`(?i)^\s*\**confidence\**\s*:\s*\[?\s*(\d{1,3}(?:\.\d+)?)\s*\]?\s*%?\s*$`)
	reasoningLine  = regexp.MustCompile(`(?i)^\s*\**reasoning\**\s*:\s*(.*)$`)
)

// ConfidenceParse is a response split into its answer and its trailer.
type ConfidenceParse struct {
	Found            bool    `json:"found"`
	Confidence       float64 `json:"confidence"`
	Reasoning        string  `json:"reasoning,omitempty"`
	OriginalResponse string  `json:"original_response"`
}

// ParseConfidenceResponse extracts a trailing CONFIDENCE/REASONING block.
// Lines are scanned from the end so a reasoning line after the confidence
// line is stripped from the answer rather than mistaken for it.
func ParseConfidenceResponse(text string) ConfidenceParse {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	for i := len(lines) - 1; i >= 0; i-- {
		m := confidenceLine.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		if v > 100 {
			v = 100
		}

		var reasoning string
		for _, tail := range lines[i+1:] {
			if rm := reasoningLine.FindStringSubmatch(tail); rm != nil {
				reasoning = strings.TrimSpace(rm[1])
				break
			}
		}

		return ConfidenceParse{
			Found:            true,
			Confidence:       v,
			Reasoning:        reasoning,
			OriginalResponse: strings.TrimSpace(strings.Join(lines[:i], "\n")),
		}
	}

	return ConfidenceParse{OriginalResponse: strings.TrimSpace(text)}
}
