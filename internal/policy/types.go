// Package policy implements the policy decision engine that gates actions
// in the agent runtime. It evaluates ALLOW/DENY/REQUIRE_APPROVAL decisions
// at a small set of enforcement points from a file-backed, hot-reloadable
// policy set.
package policy

import "fmt"

// Decision is the outcome of evaluating a policy entry or an entire
// evaluation call.
type Decision string

const (
	Allow           Decision = "ALLOW"
	Deny            Decision = "DENY"
	RequireApproval Decision = "REQUIRE_APPROVAL"
)

// EnforcementPoint identifies where evaluation is being requested. Unknown
// points always yield Allow.
type EnforcementPoint string

const (
	PreExecution  EnforcementPoint = "pre_execution"
	PreDeployment EnforcementPoint = "pre_deployment"
	Resource      EnforcementPoint = "resource"
	Data          EnforcementPoint = "data"
)

// CategoryApprovalGates is the configuration-only category holding gate
// definitions. It is never evaluated as an enforcement point.
const CategoryApprovalGates = "approval_gates"

// categories lists every recognized policy document section, in the order
// schema validation error messages should reference them.
var categories = []string{
	string(PreExecution),
	string(PreDeployment),
	string(Resource),
	string(Data),
	CategoryApprovalGates,
}

// EntryAction is the effect an entry applies when its check fails.
type EntryAction string

const (
	ActionDeny            EntryAction = "deny"
	ActionRequireApproval EntryAction = "require_approval"
)

// OnExceed names what a resource budget entry does when the budget is
// exceeded.
type OnExceed string

const (
	OnExceedShutdown        OnExceed = "shutdown"
	OnExceedAlert           OnExceed = "alert"
	OnExceedRequireApproval OnExceed = "require_approval"
)

// DataScanType names a content-scanner type for a data-category entry.
type DataScanType string

const (
	ScanSecretDetection DataScanType = "secret_detection"
	ScanPIIScanning     DataScanType = "pii_scanning"
)

// Entry is a discriminated policy entry. Which fields are meaningful
// depends on the category it was loaded into (see the table in the policy
// document shape description); Entry is intentionally a flat struct
// rather than an interface hierarchy so the loader can decode any surface
// format into it uniformly via mapstructure before validation narrows it.
type Entry struct {
	Name string `mapstructure:"name" validate:"required"`

	// pre_execution
	Rule   string      `mapstructure:"rule"`
	Action EntryAction `mapstructure:"action"`

	// pre_deployment
	Gates []string `mapstructure:"gates"`

	// resource. Providers is a pointer so an explicitly-empty
	// `providers: []` (invalid: an allow-list with nothing on it allows
	// nothing) can be told apart from an omitted field (no allow-list
	// check at all).
	MaxTokens *int      `mapstructure:"max_tokens"`
	Alerts    []int     `mapstructure:"alerts"`
	OnExceed  OnExceed  `mapstructure:"on_exceed"`
	Providers *[]string `mapstructure:"providers"`

	// data
	Type     DataScanType `mapstructure:"type"`
	Patterns []string     `mapstructure:"patterns"`

	// approval_gates. TimeoutMinutes is a pointer so an explicit 0 (immediate
	// expiry, per spec.md's boundary behaviors) can be told apart from an
	// omitted field (defaults to 30).
	Phase                string   `mapstructure:"phase"`
	TimeoutMinutes       *float64 `mapstructure:"timeout_minutes"`
	AutoApproveOnTimeout bool     `mapstructure:"auto_approve_on_timeout"`
	Webhook              string   `mapstructure:"webhook"`

	// compiledRule is the parsed form of Rule, built once at load time by
	// the loader so Evaluate never compiles a rule per call. Nil for
	// entries without a recognized rule (unknown rules allow-and-warn).
	compiledRule compiledRule

	// compiledPatterns holds Patterns (a data entry's operator-supplied,
	// pluggable regexes) compiled once at load time, same reasoning as
	// compiledRule. Empty for entries with no custom patterns.
	compiledPatterns []scanPattern
}

// GateConfig is the approval_gates view of an Entry, returned by
// GetApprovalGates.
type GateConfig struct {
	Name                 string
	Phase                string
	TimeoutMinutes       float64
	AutoApproveOnTimeout bool
	Webhook              string
}

func (e Entry) gateConfig() GateConfig {
	timeout := 30.0
	if e.TimeoutMinutes != nil {
		timeout = *e.TimeoutMinutes
	}
	return GateConfig{
		Name:                 e.Name,
		Phase:                e.Phase,
		TimeoutMinutes:       timeout,
		AutoApproveOnTimeout: e.AutoApproveOnTimeout,
		Webhook:              e.Webhook,
	}
}

// PolicyViolation describes which entry fired and why.
type PolicyViolation struct {
	EntryName string `json:"entry_name"`
	Category  string `json:"category"`
	Details   string `json:"details"`
}

// DecisionRecord is returned by Evaluate.
type DecisionRecord struct {
	Allowed    bool              `json:"allowed"`
	Decision   Decision          `json:"decision"`
	Reason     *string           `json:"reason"`
	Violations []PolicyViolation `json:"violations"`
}

func allowRecord() DecisionRecord {
	return DecisionRecord{Allowed: true, Decision: Allow, Violations: []PolicyViolation{}}
}

// ValidationError is one entry in the loader's error/warning list, exposed
// to the host via Engine.GetValidationErrors as a formatted string but
// kept structured internally for callers that want the fields.
type ValidationError struct {
	Severity string // "error" or "warning"
	Category string
	Index    int
	Message  string
}

func (v ValidationError) String() string {
	return fmt.Sprintf("[%s] %s[%d]: %s", v.Severity, v.Category, v.Index, v.Message)
}

// PolicySet is an immutable, fully-validated snapshot of the policy
// document: an ordered list of entries per category. It is published via
// atomic pointer swap by the loader and never mutated after construction.
type PolicySet struct {
	entries          map[string][]Entry
	validationErrors []ValidationError
}

func emptyPolicySet() *PolicySet {
	return &PolicySet{entries: map[string][]Entry{}}
}

// HasPolicies reports whether at least one category has at least one
// valid entry.
func (p *PolicySet) HasPolicies() bool {
	for _, cat := range categories {
		if len(p.entries[cat]) > 0 {
			return true
		}
	}
	return false
}

// DeniedError is returned by MustAllow when a decision record denies the
// action.
type DeniedError struct {
	Record DecisionRecord
}

func (e *DeniedError) Error() string {
	if e.Record.Reason != nil {
		return "policy denied: " + *e.Record.Reason
	}
	return "policy denied"
}

// ApprovalRequiredError is returned by MustAllow when a decision record
// requires approval.
type ApprovalRequiredError struct {
	Record DecisionRecord
}

func (e *ApprovalRequiredError) Error() string {
	if e.Record.Reason != nil {
		return "approval required: " + *e.Record.Reason
	}
	return "approval required"
}

// MustAllow turns a DecisionRecord into an error unless it allows.
func (d DecisionRecord) MustAllow() error {
	switch d.Decision {
	case Allow:
		return nil
	case RequireApproval:
		return &ApprovalRequiredError{Record: d}
	default:
		return &DeniedError{Record: d}
	}
}

// IsApprovalRequired reports whether err is an ApprovalRequiredError.
func IsApprovalRequired(err error) bool {
	_, ok := err.(*ApprovalRequiredError)
	return ok
}

// IsDenied reports whether err is a DeniedError.
func IsDenied(err error) bool {
	_, ok := err.(*DeniedError)
	return ok
}
