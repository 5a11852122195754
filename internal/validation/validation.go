// internal/validation/validation.go
package validation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/user/sessionhub/internal/store"
	"github.com/user/sessionhub/internal/types"
)

// Rule is a named regular expression with the message reported when a
// value fails it.
type Rule struct {
	Type         string `json:"rule_type"`
	Pattern      string `json:"pattern"`
	ErrorMessage string `json:"error_message"`
	Description  string `json:"description,omitempty"`
}

// FieldRule binds a named input field to a rule, optionally marking the
// field required.
type FieldRule struct {
	Field       string `json:"field_name"`
	RuleType    string `json:"rule_type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// Result is the outcome of a single validation check.
type Result struct {
	Valid bool
	Error string
}

func ok() Result             { return Result{Valid: true} }
func fail(msg string) Result { return Result{Error: msg} }

// Validator checks values against rules stored in the database. Rules
// and compiled patterns are cached in memory; the cache reloads on every
// write.
type Validator struct {
	store  *store.Store
	logger *slog.Logger

	mu       sync.RWMutex
	rules    map[string]Rule
	compiled map[string]*regexp.Regexp
	fields   map[string]FieldRule
}

// New creates a validator, seeds the built-in rules, and loads the
// cache.
func New(ctx context.Context, st *store.Store) (*Validator, error) {
	v := &Validator{
		store:  st,
		logger: slog.With("component", "validation"),
	}
	if err := v.seedDefaults(ctx); err != nil {
		return nil, fmt.Errorf("seed validation rules: %w", err)
	}
	if err := v.Reload(ctx); err != nil {
		return nil, fmt.Errorf("load validation rules: %w", err)
	}
	return v, nil
}

func builtinRules() []Rule {
	return []Rule{
		{Type: "EMAIL", Pattern: `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`,
			ErrorMessage: "Invalid email format", Description: "Email validation rule"},
		{Type: "USERNAME", Pattern: `^[a-zA-Z0-9_-]{3,16}$`,
			ErrorMessage: "Username must be 3-16 characters and contain only letters, numbers, underscores, and hyphens",
			Description:  "Username validation rule"},
		{Type: "PATH", Pattern: `^(/[^/ ]*)+/?$`,
			ErrorMessage: "Invalid path format", Description: "File path validation rule"},
		{Type: "URL", Pattern: `^(http|https)://[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}(/.*)?$`,
			ErrorMessage: "Invalid URL format", Description: "URL validation rule"},
		{Type: "IPADDRESS", Pattern: `^(?:[0-9]{1,3}\.){3}[0-9]{1,3}$`,
			ErrorMessage: "Invalid IP address format", Description: "IP address validation rule"},
	}
}

func (v *Validator) seedDefaults(ctx context.Context) error {
	for _, r := range builtinRules() {
		_, err := v.store.Exec(ctx,
			`INSERT OR IGNORE INTO validation_rules (rule_type, pattern, error_message, description)
			 VALUES (?, ?, ?, ?)`,
			r.Type, r.Pattern, r.ErrorMessage, r.Description)
		if err != nil {
			return err
		}
	}
	return nil
}

// Reload rebuilds the in-memory rule cache from the database. Rows with
// patterns that no longer compile are skipped with a warning.
func (v *Validator) Reload(ctx context.Context) error {
	rows, err := v.store.Query(ctx,
		`SELECT rule_type, pattern, error_message, description FROM validation_rules`)
	if err != nil {
		return err
	}
	defer rows.Close()

	rules := make(map[string]Rule)
	compiled := make(map[string]*regexp.Regexp)
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.Type, &r.Pattern, &r.ErrorMessage, &r.Description); err != nil {
			return err
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			v.logger.Warn("skipping rule with invalid pattern", "rule_type", r.Type, "error", err)
			continue
		}
		rules[r.Type] = r
		compiled[r.Type] = re
	}
	if err := rows.Err(); err != nil {
		return err
	}

	frows, err := v.store.Query(ctx,
		`SELECT field_name, rule_type, required, description FROM field_rules`)
	if err != nil {
		return err
	}
	defer frows.Close()

	fields := make(map[string]FieldRule)
	for frows.Next() {
		var f FieldRule
		if err := frows.Scan(&f.Field, &f.RuleType, &f.Required, &f.Description); err != nil {
			return err
		}
		fields[f.Field] = f
	}
	if err := frows.Err(); err != nil {
		return err
	}

	v.mu.Lock()
	v.rules = rules
	v.compiled = compiled
	v.fields = fields
	v.mu.Unlock()
	v.logger.Info("validation rules loaded", "rules", len(rules), "field_rules", len(fields))
	return nil
}

// Register upserts a rule. The pattern is compiled before anything is
// written, so an invalid pattern never reaches the database.
func (v *Validator) Register(ctx context.Context, r Rule) error {
	if _, err := regexp.Compile(r.Pattern); err != nil {
		return fmt.Errorf("invalid pattern for rule %s: %w", r.Type, err)
	}
	_, err := v.store.Exec(ctx,
		`INSERT INTO validation_rules (rule_type, pattern, error_message, description)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(rule_type) DO UPDATE SET
			pattern = excluded.pattern,
			error_message = excluded.error_message,
			description = excluded.description`,
		r.Type, r.Pattern, r.ErrorMessage, r.Description)
	if err != nil {
		return fmt.Errorf("register rule %s: %w", r.Type, err)
	}
	return v.Reload(ctx)
}

// RegisterField binds a field name to an existing rule type.
func (v *Validator) RegisterField(ctx context.Context, f FieldRule) error {
	v.mu.RLock()
	_, known := v.rules[f.RuleType]
	v.mu.RUnlock()
	if !known {
		return fmt.Errorf("rule type %s: %w", f.RuleType, types.ErrNotFound)
	}
	_, err := v.store.Exec(ctx,
		`INSERT INTO field_rules (field_name, rule_type, required, description)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(field_name) DO UPDATE SET
			rule_type = excluded.rule_type,
			required = excluded.required,
			description = excluded.description`,
		f.Field, f.RuleType, f.Required, f.Description)
	if err != nil {
		return fmt.Errorf("register field rule %s: %w", f.Field, err)
	}
	return v.Reload(ctx)
}

// DeleteRule removes a rule. Fails if any field rule still references
// it.
func (v *Validator) DeleteRule(ctx context.Context, ruleType string) error {
	var count int64
	err := v.store.QueryRow(ctx,
		`SELECT COUNT(*) FROM field_rules WHERE rule_type = ?`, ruleType).Scan(&count)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if count > 0 {
		return fmt.Errorf("rule %s is referenced by %d field rules", ruleType, count)
	}
	n, err := v.store.Exec(ctx, `DELETE FROM validation_rules WHERE rule_type = ?`, ruleType)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("rule %s: %w", ruleType, types.ErrNotFound)
	}
	return v.Reload(ctx)
}

// DeleteField removes a field rule.
func (v *Validator) DeleteField(ctx context.Context, field string) error {
	n, err := v.store.Exec(ctx, `DELETE FROM field_rules WHERE field_name = ?`, field)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("field rule %s: %w", field, types.ErrNotFound)
	}
	return v.Reload(ctx)
}

// ValidateInput checks a value against a named rule.
func (v *Validator) ValidateInput(value, ruleType string) Result {
	v.mu.RLock()
	rule, known := v.rules[ruleType]
	re := v.compiled[ruleType]
	v.mu.RUnlock()

	if !known {
		v.logger.Warn("unknown validation rule", "rule_type", ruleType)
		return fail(fmt.Sprintf("Unknown validation rule: %s", ruleType))
	}
	if value == "" {
		return fail("Input cannot be empty")
	}
	if re.MatchString(value) {
		return ok()
	}
	return fail(rule.ErrorMessage)
}

// ValidateField checks a value against the rule registered for a field.
// Empty values pass for optional fields and fail for required ones.
func (v *Validator) ValidateField(field, value string) Result {
	v.mu.RLock()
	fr, known := v.fields[field]
	v.mu.RUnlock()

	if !known {
		v.logger.Warn("unregistered field", "field", field)
		return fail(fmt.Sprintf("Unknown field: %s", field))
	}
	if value == "" {
		if fr.Required {
			return fail(fmt.Sprintf("Field '%s' is required", field))
		}
		return ok()
	}
	return v.ValidateInput(value, fr.RuleType)
}

// ValidateObject checks every entry of a field/value map and also flags
// registered required fields the object omits. The returned map is empty
// when everything passed.
func (v *Validator) ValidateObject(object map[string]string) map[string]string {
	failures := make(map[string]string)
	for field, value := range object {
		if r := v.ValidateField(field, value); !r.Valid {
			failures[field] = r.Error
		}
	}

	v.mu.RLock()
	for field, fr := range v.fields {
		if _, present := object[field]; fr.Required && !present {
			failures[field] = fmt.Sprintf("Field '%s' is required", field)
		}
	}
	v.mu.RUnlock()
	return failures
}

// Rules returns the cached rules.
func (v *Validator) Rules() []Rule {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Rule, 0, len(v.rules))
	for _, r := range v.rules {
		out = append(out, r)
	}
	return out
}

// FieldRules returns the cached field bindings.
func (v *Validator) FieldRules() []FieldRule {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]FieldRule, 0, len(v.fields))
	for _, f := range v.fields {
		out = append(out, f)
	}
	return out
}

type ruleExport struct {
	Rules      []Rule      `json:"rules"`
	FieldRules []FieldRule `json:"field_rules"`
}

// Export serializes all rules and field bindings as indented JSON.
func (v *Validator) Export() ([]byte, error) {
	return json.MarshalIndent(ruleExport{
		Rules:      v.Rules(),
		FieldRules: v.FieldRules(),
	}, "", "  ")
}

// Import loads rules from an Export payload in one transaction, then
// reloads the cache.
func (v *Validator) Import(ctx context.Context, data []byte) error {
	var payload ruleExport
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse rules import: %w", err)
	}
	for _, r := range payload.Rules {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("invalid pattern for rule %s: %w", r.Type, err)
		}
	}

	tx, err := v.store.Begin(ctx)
	if err != nil {
		return err
	}
	for _, r := range payload.Rules {
		if _, err := tx.Exec(ctx,
			`INSERT INTO validation_rules (rule_type, pattern, error_message, description)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(rule_type) DO UPDATE SET
				pattern = excluded.pattern,
				error_message = excluded.error_message,
				description = excluded.description`,
			r.Type, r.Pattern, r.ErrorMessage, r.Description); err != nil {
			tx.Rollback()
			return fmt.Errorf("import rule %s: %w", r.Type, err)
		}
	}
	for _, f := range payload.FieldRules {
		if _, err := tx.Exec(ctx,
			`INSERT INTO field_rules (field_name, rule_type, required, description)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(field_name) DO UPDATE SET
				rule_type = excluded.rule_type,
				required = excluded.required,
				description = excluded.description`,
			f.Field, f.RuleType, f.Required, f.Description); err != nil {
			tx.Rollback()
			return fmt.Errorf("import field rule %s: %w", f.Field, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rules import: %w", err)
	}
	return v.Reload(ctx)
}
