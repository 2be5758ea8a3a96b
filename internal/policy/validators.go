package policy

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// validate is a package-level validator instance; the library recommends
// sharing one instance since it caches struct metadata internally.
var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// validateEntry runs the schema validator matching category against e and
// returns every violation as a human-readable message. An empty slice
// means the entry is valid.
func validateEntry(category string, e Entry) []string {
	switch category {
	case string(PreExecution):
		return validatePreExecution(e)
	case string(PreDeployment):
		return validatePreDeployment(e)
	case string(Resource):
		return validateResource(e)
	case string(Data):
		return validateData(e)
	case CategoryApprovalGates:
		return validateApprovalGate(e)
	default:
		return []string{fmt.Sprintf("unknown category %q", category)}
	}
}

// preExecutionShape mirrors the required fields of a pre_execution entry
// for struct-tag validation; Entry itself stays flat (it backs every
// category), so each validator projects onto a narrow shape before calling
// the shared validator.Validate.
type preExecutionShape struct {
	Name   string      `validate:"required"`
	Rule   string      `validate:"required"`
	Action EntryAction `validate:"required,oneof=deny require_approval"`
}

func validatePreExecution(e Entry) []string {
	shape := preExecutionShape{Name: e.Name, Rule: e.Rule, Action: e.Action}
	return translateErrors(getValidator().Struct(shape))
}

type preDeploymentShape struct {
	Name  string   `validate:"required"`
	Gates []string `validate:"required,min=1"`
}

func validatePreDeployment(e Entry) []string {
	shape := preDeploymentShape{Name: e.Name, Gates: e.Gates}
	return translateErrors(getValidator().Struct(shape))
}

func validateResource(e Entry) []string {
	var errs []string
	if e.Name == "" {
		errs = append(errs, "name is required")
	}

	hasBudget := e.MaxTokens != nil
	hasProviders := e.Providers != nil && len(*e.Providers) > 0
	if !hasBudget && !hasProviders {
		errs = append(errs, "resource entry must set either max_tokens (budget check) or providers (allow-list check)")
	}
	if e.Providers != nil && len(*e.Providers) == 0 {
		errs = append(errs, "providers must not be an empty list; omit it entirely if there is no allow-list")
	}

	if e.MaxTokens != nil && *e.MaxTokens < 0 {
		errs = append(errs, "max_tokens must not be negative")
	}
	for _, a := range e.Alerts {
		if a < 0 || a > 100 {
			errs = append(errs, fmt.Sprintf("alerts value %d is outside 0..100", a))
		}
	}
	if e.OnExceed != "" {
		switch e.OnExceed {
		case OnExceedShutdown, OnExceedAlert, OnExceedRequireApproval:
		default:
			errs = append(errs, fmt.Sprintf("on_exceed %q is not one of shutdown, alert, require_approval", e.OnExceed))
		}
	}
	if e.Action != "" {
		switch e.Action {
		case ActionDeny, ActionRequireApproval:
		default:
			errs = append(errs, fmt.Sprintf("action %q is not one of deny, require_approval", e.Action))
		}
	}
	if hasProviders {
		for _, p := range *e.Providers {
			if strings.TrimSpace(p) == "" {
				errs = append(errs, "providers must not contain empty entries")
				break
			}
		}
	}
	return errs
}

func validateData(e Entry) []string {
	var errs []string
	if e.Name == "" {
		errs = append(errs, "name is required")
	}
	switch e.Type {
	case ScanSecretDetection, ScanPIIScanning:
	default:
		errs = append(errs, fmt.Sprintf("data.type %q is not one of secret_detection, pii_scanning", e.Type))
	}
	return errs
}

func validateApprovalGate(e Entry) []string {
	var errs []string
	if e.Name == "" {
		errs = append(errs, "name is required")
	}
	if e.Phase == "" {
		errs = append(errs, "phase is required")
	}
	if e.TimeoutMinutes != nil && *e.TimeoutMinutes < 0 {
		errs = append(errs, "timeout_minutes must not be negative")
	}
	if e.Webhook != "" {
		if err := validateWebhookURL(e.Webhook); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// validateWebhookURL rejects any scheme other than http/https, and any
// string that doesn't parse as a URL at all. This is the configuration-time
// half of the SSRF defense; the gate manager re-validates the resolved
// address at send time (see internal/approval/webhook.go).
func validateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("webhook %q is not a valid URL: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https":
		return nil
	default:
		return fmt.Errorf("webhook scheme %q is not http or https", u.Scheme)
	}
}

func translateErrors(err error) []string {
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fmt.Sprintf("%s failed validation %q", fe.Field(), fe.Tag()))
	}
	return out
}
