package validation

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/user/sessionhub/internal/store"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	v, err := New(context.Background(), st)
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	return v
}

func TestBuiltinRules(t *testing.T) {
	v := newTestValidator(t)

	cases := []struct {
		rule  string
		value string
		valid bool
	}{
		{"EMAIL", "dev@example.com", true},
		{"EMAIL", "not-an-email", false},
		{"USERNAME", "gopher_01", true},
		{"USERNAME", "ab", false},
		{"PATH", "/var/lib/sessionhub", true},
		{"PATH", "relative/path", false},
		{"URL", "https://example.com/docs", true},
		{"URL", "ftp://example.com", false},
		{"IPADDRESS", "192.168.1.1", true},
		{"IPADDRESS", "192.168.1", false},
	}
	for _, tc := range cases {
		result := v.ValidateInput(tc.value, tc.rule)
		if result.Valid != tc.valid {
			t.Errorf("%s(%q) valid = %t, want %t (%s)", tc.rule, tc.value, result.Valid, tc.valid, result.Error)
		}
	}
}

func TestValidateInputEmptyAndUnknown(t *testing.T) {
	v := newTestValidator(t)

	if r := v.ValidateInput("", "EMAIL"); r.Valid {
		t.Errorf("empty input should fail")
	}
	if r := v.ValidateInput("anything", "NO_SUCH_RULE"); r.Valid {
		t.Errorf("unknown rule should fail")
	}
}

func TestFieldRules(t *testing.T) {
	v := newTestValidator(t)
	ctx := context.Background()

	if err := v.RegisterField(ctx, FieldRule{Field: "contact_email", RuleType: "EMAIL", Required: true}); err != nil {
		t.Fatalf("register field: %v", err)
	}
	if err := v.RegisterField(ctx, FieldRule{Field: "homepage", RuleType: "URL", Required: false}); err != nil {
		t.Fatalf("register field: %v", err)
	}

	if r := v.ValidateField("contact_email", "dev@example.com"); !r.Valid {
		t.Errorf("valid email rejected: %s", r.Error)
	}
	if r := v.ValidateField("contact_email", ""); r.Valid {
		t.Errorf("required field accepted empty")
	}
	if r := v.ValidateField("homepage", ""); !r.Valid {
		t.Errorf("optional field rejected empty: %s", r.Error)
	}
	if r := v.ValidateField("unregistered", "x"); r.Valid {
		t.Errorf("unregistered field accepted")
	}
}

func TestValidateObject(t *testing.T) {
	v := newTestValidator(t)
	ctx := context.Background()

	if err := v.RegisterField(ctx, FieldRule{Field: "contact_email", RuleType: "EMAIL", Required: true}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := v.RegisterField(ctx, FieldRule{Field: "homepage", RuleType: "URL"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	failures := v.ValidateObject(map[string]string{
		"homepage": "not a url",
	})
	if len(failures) != 2 {
		t.Fatalf("failures = %v, want bad homepage and missing required email", failures)
	}
	if _, ok := failures["homepage"]; !ok {
		t.Errorf("homepage failure missing")
	}
	if _, ok := failures["contact_email"]; !ok {
		t.Errorf("missing required field not flagged")
	}

	failures = v.ValidateObject(map[string]string{
		"contact_email": "dev@example.com",
		"homepage":      "https://example.com",
	})
	if len(failures) != 0 {
		t.Errorf("unexpected failures: %v", failures)
	}
}

func TestCustomRule(t *testing.T) {
	v := newTestValidator(t)
	ctx := context.Background()

	rule := Rule{Type: "HEXCOLOR", Pattern: `^#[0-9a-fA-F]{6}$`, ErrorMessage: "Invalid hex color"}
	if err := v.Register(ctx, rule); err != nil {
		t.Fatalf("register: %v", err)
	}

	if r := v.ValidateInput("#ff8800", "HEXCOLOR"); !r.Valid {
		t.Errorf("valid color rejected: %s", r.Error)
	}
	if r := v.ValidateInput("#zzz", "HEXCOLOR"); r.Valid {
		t.Errorf("invalid color accepted")
	}

	// Rules survive a reload from the database.
	if err := v.Reload(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if r := v.ValidateInput("#ff8800", "HEXCOLOR"); !r.Valid {
		t.Errorf("custom rule lost on reload")
	}
}

func TestRegisterRejectsInvalidPattern(t *testing.T) {
	v := newTestValidator(t)

	err := v.Register(context.Background(), Rule{Type: "BROKEN", Pattern: `([unclosed`, ErrorMessage: "x"})
	if err == nil {
		t.Fatalf("expected pattern rejection")
	}
	if r := v.ValidateInput("x", "BROKEN"); r.Valid {
		t.Errorf("broken rule should not exist")
	}
}

func TestDeleteRuleGuardedByFieldRefs(t *testing.T) {
	v := newTestValidator(t)
	ctx := context.Background()

	if err := v.RegisterField(ctx, FieldRule{Field: "contact_email", RuleType: "EMAIL"}); err != nil {
		t.Fatalf("register field: %v", err)
	}
	if err := v.DeleteRule(ctx, "EMAIL"); err == nil {
		t.Errorf("delete should fail while a field references the rule")
	}

	if err := v.DeleteField(ctx, "contact_email"); err != nil {
		t.Fatalf("delete field: %v", err)
	}
	if err := v.DeleteRule(ctx, "EMAIL"); err != nil {
		t.Errorf("delete after unbinding: %v", err)
	}
}

func TestExportImport(t *testing.T) {
	src := newTestValidator(t)
	dst := newTestValidator(t)
	ctx := context.Background()

	if err := src.Register(ctx, Rule{Type: "SLUG", Pattern: `^[a-z0-9-]+$`, ErrorMessage: "Invalid slug"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	data, err := src.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if err := dst.Import(ctx, data); err != nil {
		t.Fatalf("import: %v", err)
	}
	if r := dst.ValidateInput("my-slug-1", "SLUG"); !r.Valid {
		t.Errorf("imported rule missing: %s", r.Error)
	}
}
