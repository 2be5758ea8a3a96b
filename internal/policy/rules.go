package policy

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// compiledRule is a parsed, ready-to-apply form of a pre_execution rule
// string. It is built once by parseRule at load time and cached on the
// Entry so Evaluate never re-parses or compiles a rule per call.
//
// check returns (violated, detail). A true violated means the entry's
// action should fire.
type compiledRule interface {
	check(ctx map[string]any) (violated bool, detail string)
}

const pathRuleText = "file_path must start with project_dir"

// parseRule recognizes the closed rule grammar from the policy document:
// the path-sandbox rule and the five active_agents comparisons. Any other
// text is unrecognized; callers must record a loader warning and treat
// the entry as always-allow.
func parseRule(text string) (compiledRule, bool) {
	if text == pathRuleText {
		return pathRule{}, true
	}
	if r, ok := parseAgentsRule(text); ok {
		return r, true
	}
	return nil, false
}

// pathRule implements "file_path must start with project_dir": the
// lexically-normalized ctx.file_path must equal, or lie strictly beneath,
// the lexically-normalized ctx.project_dir. Normalization happens before
// comparison so ".." segments and sibling-prefix directories (e.g.
// "/home/project-evil") cannot satisfy the rule.
type pathRule struct{}

func (pathRule) check(ctx map[string]any) (bool, string) {
	filePath, ok1 := stringField(ctx, "file_path")
	projectDir, ok2 := stringField(ctx, "project_dir")
	if !ok1 || !ok2 {
		return true, "file_path or project_dir missing from context"
	}

	file := filepath.Clean(filePath)
	project := filepath.Clean(projectDir)
	if !filepath.IsAbs(file) || !filepath.IsAbs(project) {
		return true, fmt.Sprintf("file_path %q or project_dir %q is not absolute", filePath, projectDir)
	}

	if file == project {
		return false, ""
	}
	if strings.HasPrefix(file, project+string(filepath.Separator)) {
		return false, ""
	}
	return true, fmt.Sprintf("%q is not within %q", file, project)
}

func stringField(ctx map[string]any, key string) (string, bool) {
	v, ok := ctx[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// agentsOp is one of the five comparison operators recognized for
// "active_agents <op> N".
type agentsOp string

const (
	opLE agentsOp = "<="
	opLT agentsOp = "<"
	opEQ agentsOp = "=="
	opGE agentsOp = ">="
	opGT agentsOp = ">"
)

// agentsRule implements "active_agents <op> N" with N parsed once at load
// and cached as an int.
type agentsRule struct {
	op agentsOp
	n  int
}

// parseAgentsRule recognizes "active_agents <= N", "active_agents < N",
// "active_agents == N", "active_agents >= N", "active_agents > N". Longer
// operator tokens (<=, >=, ==) are checked before their single-character
// prefixes so "active_agents <= 5" is never mis-parsed as "< = 5".
func parseAgentsRule(text string) (agentsRule, bool) {
	const prefix = "active_agents "
	if !strings.HasPrefix(text, prefix) {
		return agentsRule{}, false
	}
	rest := strings.TrimSpace(text[len(prefix):])

	for _, op := range []agentsOp{opLE, opGE, opEQ, opLT, opGT} {
		if s, ok := strings.CutPrefix(rest, string(op)); ok {
			n, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				return agentsRule{}, false
			}
			return agentsRule{op: op, n: n}, true
		}
	}
	return agentsRule{}, false
}

func (r agentsRule) check(ctx map[string]any) (bool, string) {
	v, ok := ctx["active_agents"]
	if !ok {
		return true, "active_agents missing from context"
	}
	n, ok := toInt(v)
	if !ok {
		return true, fmt.Sprintf("active_agents %v is not an integer", v)
	}

	var satisfied bool
	switch r.op {
	case opLE:
		satisfied = n <= r.n
	case opLT:
		satisfied = n < r.n
	case opEQ:
		satisfied = n == r.n
	case opGE:
		satisfied = n >= r.n
	case opGT:
		satisfied = n > r.n
	}
	if satisfied {
		return false, ""
	}
	return true, fmt.Sprintf("active_agents=%d violates %s %s %d", n, "active_agents", r.op, r.n)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
