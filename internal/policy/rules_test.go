package policy

import "testing"

func TestPathRule(t *testing.T) {
	rule, ok := parseRule(pathRuleText)
	if !ok {
		t.Fatal("expected pathRuleText to be recognized")
	}

	cases := []struct {
		name       string
		filePath   string
		projectDir string
		wantViol   bool
	}{
		{"exact project dir", "/home/project", "/home/project", false},
		{"file under project dir", "/home/project/file", "/home/project", false},
		{"sibling prefix attack", "/home/project-evil/x", "/home/project", true},
		{"traversal out of project", "/home/project/../etc/passwd", "/home/project", true},
		{"unrelated path", "/etc/passwd", "/home/project", true},
		{"deep traversal", "/home/project/../../../etc/passwd", "/home/project", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			violated, _ := rule.check(map[string]any{"file_path": tc.filePath, "project_dir": tc.projectDir})
			if violated != tc.wantViol {
				t.Fatalf("check(%q, %q) violated = %v, want %v", tc.filePath, tc.projectDir, violated, tc.wantViol)
			}
		})
	}
}

func TestPathRuleMissingFields(t *testing.T) {
	rule, _ := parseRule(pathRuleText)
	violated, _ := rule.check(map[string]any{"file_path": "/home/project/x"})
	if !violated {
		t.Fatal("expected missing project_dir to be treated as a violation")
	}
}

func TestAgentsRule(t *testing.T) {
	rule, ok := parseRule("active_agents <= 5")
	if !ok {
		t.Fatal("expected active_agents rule to be recognized")
	}

	violated, _ := rule.check(map[string]any{"active_agents": 10})
	if !violated {
		t.Fatal("expected active_agents=10 to violate <= 5")
	}

	violated, _ = rule.check(map[string]any{"active_agents": 3})
	if violated {
		t.Fatal("expected active_agents=3 to satisfy <= 5")
	}
}

func TestAgentsRuleOperators(t *testing.T) {
	cases := []struct {
		text    string
		n       int
		wantViolated bool
	}{
		{"active_agents < 5", 5, true},
		{"active_agents < 5", 4, false},
		{"active_agents == 5", 5, false},
		{"active_agents == 5", 6, true},
		{"active_agents >= 5", 4, true},
		{"active_agents >= 5", 5, false},
		{"active_agents > 5", 5, true},
		{"active_agents > 5", 6, false},
	}
	for _, tc := range cases {
		rule, ok := parseRule(tc.text)
		if !ok {
			t.Fatalf("expected %q to be recognized", tc.text)
		}
		violated, _ := rule.check(map[string]any{"active_agents": tc.n})
		if violated != tc.wantViolated {
			t.Fatalf("%s with active_agents=%d: violated = %v, want %v", tc.text, tc.n, violated, tc.wantViolated)
		}
	}
}

func TestUnknownRuleNotRecognized(t *testing.T) {
	if _, ok := parseRule("active_agents ~= 5"); ok {
		t.Fatal("expected garbage operator to be unrecognized")
	}
	if _, ok := parseRule("something_else"); ok {
		t.Fatal("expected arbitrary text to be unrecognized")
	}
}
