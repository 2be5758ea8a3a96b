package policy

import "regexp"

// Finding is one content-scanner hit.
type Finding struct {
	PatternID string `json:"pattern_id"`
	MatchSpan [2]int `json:"match_span"`
}

// scanPattern pairs a pattern identifier with its compiled matcher. Patterns
// are compiled once, at package init, never per evaluation.
type scanPattern struct {
	id string
	re *regexp.Regexp
}

// secretPatterns covers the minimum secret_detection set from the policy
// document: provider-prefixed tokens, high-entropy API-key-shaped tokens,
// and PEM-style private-key blocks.
var secretPatterns = []scanPattern{
	{"openai_api_key", regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`)},
	{"github_token", regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{20,}`)},
	{"aws_access_key_id", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"slack_token", regexp.MustCompile(`xox[baprs]-[A-Za-z0-9-]{10,}`)},
	{"private_key_block", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)},
	{"high_entropy_token", regexp.MustCompile(`\b[A-Za-z0-9_\-]{32,}\b`)},
}

// piiPatterns covers the minimum pii_scanning set: emails and SSN-shaped
// numeric groupings.
var piiPatterns = []scanPattern{
	{"email_address", regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
}

// scanContent runs every pattern registered for scanType, plus any
// operator-supplied extra patterns (an entry's own `patterns` list,
// compiled once at load time — see loader.go's compilePatterns),
// against content and returns every match, in pattern-then-position
// order. Empty content yields no findings.
func scanContent(scanType DataScanType, content string, extra ...scanPattern) []Finding {
	if content == "" {
		return nil
	}

	var patterns []scanPattern
	switch scanType {
	case ScanSecretDetection:
		patterns = secretPatterns
	case ScanPIIScanning:
		patterns = piiPatterns
	default:
		return nil
	}
	if len(extra) > 0 {
		patterns = append(append([]scanPattern(nil), patterns...), extra...)
	}

	var findings []Finding
	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringIndex(content, -1) {
			findings = append(findings, Finding{PatternID: p.id, MatchSpan: [2]int{loc[0], loc[1]}})
		}
	}
	return findings
}
