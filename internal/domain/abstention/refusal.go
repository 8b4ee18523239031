package abstention

import "regexp"

// RefusalMatch is the outcome of scanning a response for refusal phrasing.
type RefusalMatch struct {
	IsRefusal bool   `json:"is_refusal"`
	Reason    Reason `json:"reason,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
}

// Pattern families, compiled once and never mutated.
var (
	outOfScopePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bas an ai(?: language model| assistant)?\b`),
		regexp.MustCompile(`(?i)\bI (?:cannot|can't|can not|am not able to|am unable to) (?:browse|access|search) (?:the )?(?:internet|web)\b`),
		regexp.MustCompile(`(?i)\bI (?:don't|do not) have (?:access to )?(?:real[- ]time|live|current) (?:data|information)\b`),
		regexp.MustCompile(`(?i)\b(?:outside|beyond) (?:of )?my (?:scope|capabilities|expertise|knowledge)\b`),
		regexp.MustCompile(`(?i)\bI(?:'m| am) not (?:designed|qualified|permitted|allowed) to\b`),
		regexp.MustCompile(`(?i)\bmy (?:training data|knowledge) (?:only goes|is limited|cutoff)\b`),
	}

	missingInformationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:I need|please provide|could you (?:provide|share|specify)) (?:more |additional |some )?(?:information|details|context)\b`),
		regexp.MustCompile(`(?i)\b(?:not enough|insufficient|missing) (?:information|context|data|details)\b`),
		regexp.MustCompile(`(?i)\bwithout (?:more|additional|further) (?:information|context|details)\b`),
		regexp.MustCompile(`(?i)\bcould you (?:please )?clarify\b`),
		regexp.MustCompile(`(?i)\bit depends on (?:what|which|whether|how)\b`),
	}

	hedgingPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bI(?:'m| am) not (?:sure|certain)\b`),
		regexp.MustCompile(`(?i)\bI (?:don't|do not) know\b`),
		regexp.MustCompile(`(?i)\bI(?:'m| am) unable to (?:determine|say|confirm|verify)\b`),
		regexp.MustCompile(`(?i)\bit(?:'s| is) (?:unclear|difficult to say|hard to say)\b`),
		regexp.MustCompile(`(?i)\bI cannot be (?:sure|certain)\b`),
		regexp.MustCompile(`(?i)\bI (?:may|might) be (?:wrong|mistaken)\b`),
	}
)

// DetectRefusalPatterns tests text against the three pattern families.
// Precedence when several fire: out_of_scope, then missing_information,
// then hedging (reported as low_confidence).
func DetectRefusalPatterns(text string) RefusalMatch {
	families := []struct {
		patterns []*regexp.Regexp
		reason   Reason
	}{
		{outOfScopePatterns, ReasonOutOfScope},
		{missingInformationPatterns, ReasonMissingInformation},
		{hedgingPatterns, ReasonLowConfidence},
	}
	for _, f := range families {
		for _, re := range f.patterns {
			if re.MatchString(text) {
				return RefusalMatch{IsRefusal: true, Reason: f.reason, Pattern: re.String()}
			}
		}
	}
	return RefusalMatch{}
}
