package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// document is the top-level policy document shape common to both surface
// formats: {version, policies: {category: [entry, ...]}}.
type document struct {
	Version  int                         `json:"version" yaml:"version"`
	Policies map[string][]map[string]any `json:"policies" yaml:"policies"`
}

// policyFileCandidates returns the probe order from the external
// interfaces contract: the curly-brace (JSON) form first, then the
// YAML-subset form. The first that exists wins; gopkg.in/yaml.v3 is used
// for the YAML surface rather than a hand-rolled subset parser, per the
// design notes' stated preference for an established parser.
func policyFileCandidates(projectDir string) []string {
	base := filepath.Join(projectDir, ".loki")
	return []string{
		filepath.Join(base, "policies.json"),
		filepath.Join(base, "policies.yaml"),
	}
}

// loadResult is everything the loader produces from one read: entries per
// category (valid entries only, declaration order preserved) and the full
// validation error/warning list.
type loadResult struct {
	entries map[string][]Entry
	errors  []ValidationError
}

// loadPolicyFile reads and validates the policy file for projectDir. If no
// candidate file exists, it returns an empty, error-free result: operators
// opting out of policies entirely is a supported state, not a failure.
func loadPolicyFile(projectDir string) *loadResult {
	for _, path := range policyFileCandidates(projectDir) {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return &loadResult{
				entries: map[string][]Entry{},
				errors: []ValidationError{
					{Severity: "error", Category: "file", Index: 0, Message: fmt.Sprintf("reading %s: %v", path, err)},
				},
			}
		}
		return parseDocument(path, data)
	}
	return &loadResult{entries: map[string][]Entry{}}
}

// compilePatterns compiles a data entry's operator-supplied `patterns`
// list into scanPatterns, one per raw regex. A pattern that fails to
// compile is dropped with a warning rather than rejecting the whole
// entry — the rest of the entry's built-in scan set still applies.
func compilePatterns(raw []string) (compiled []scanPattern, warnings []string) {
	for i, pattern := range raw {
		re, err := regexp.Compile(pattern)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("patterns[%d] %q did not compile: %v", i, pattern, err))
			continue
		}
		compiled = append(compiled, scanPattern{id: fmt.Sprintf("custom_%d", i), re: re})
	}
	return compiled, warnings
}

func parseDocument(path string, data []byte) *loadResult {
	var doc document
	var err error
	if filepath.Ext(path) == ".json" {
		err = json.Unmarshal(data, &doc)
	} else {
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return &loadResult{
			entries: map[string][]Entry{},
			errors: []ValidationError{
				{Severity: "error", Category: "file", Index: 0, Message: fmt.Sprintf("parsing %s: %v", path, err)},
			},
		}
	}

	if doc.Version != 0 && doc.Version != 1 {
		// Informational only: unknown versions are accepted with a warning,
		// not rejected.
	}

	result := &loadResult{entries: map[string][]Entry{}}
	if doc.Version > 1 {
		result.errors = append(result.errors, ValidationError{
			Severity: "warning", Category: "file", Index: 0,
			Message: fmt.Sprintf("unrecognized document version %d, parsing anyway", doc.Version),
		})
	}

	for _, category := range categories {
		raw, ok := doc.Policies[category]
		if !ok {
			continue
		}
		var valid []Entry
		for i, rawEntry := range raw {
			var e Entry
			if err := mapstructure.Decode(rawEntry, &e); err != nil {
				result.errors = append(result.errors, ValidationError{
					Severity: "error", Category: category, Index: i,
					Message: fmt.Sprintf("decoding entry: %v", err),
				})
				continue
			}

			if msgs := validateEntry(category, e); len(msgs) > 0 {
				for _, m := range msgs {
					result.errors = append(result.errors, ValidationError{
						Severity: "error", Category: category, Index: i, Message: m,
					})
				}
				continue
			}

			if category == string(PreExecution) {
				rule, ok := parseRule(e.Rule)
				if !ok {
					result.errors = append(result.errors, ValidationError{
						Severity: "warning", Category: category, Index: i,
						Message: fmt.Sprintf("entry %q: unrecognized rule %q, entry will always allow", e.Name, e.Rule),
					})
				}
				e.compiledRule = rule
			}

			if category == string(Data) && len(e.Patterns) > 0 {
				compiled, badPatterns := compilePatterns(e.Patterns)
				for _, bad := range badPatterns {
					result.errors = append(result.errors, ValidationError{
						Severity: "warning", Category: category, Index: i,
						Message: fmt.Sprintf("entry %q: %s", e.Name, bad),
					})
				}
				e.compiledPatterns = compiled
			}

			valid = append(valid, e)
		}
		if len(valid) > 0 {
			result.entries[category] = valid
		}
	}
	return result
}
