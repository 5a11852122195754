package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/sessionhub/internal/validation"
)

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.AddCommand(validateInputCmd, validateFieldCmd, validateRulesCmd,
		validateAddRuleCmd, validateBindCmd)

	validateAddRuleCmd.Flags().String("pattern", "", "regular expression (required)")
	validateAddRuleCmd.Flags().String("message", "", "error message (required)")
	validateAddRuleCmd.Flags().String("description", "", "rule description")
	_ = validateAddRuleCmd.MarkFlagRequired("pattern")
	_ = validateAddRuleCmd.MarkFlagRequired("message")

	validateBindCmd.Flags().Bool("required", false, "mark the field required")
	validateBindCmd.Flags().String("description", "", "field description")
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate values against stored rules",
}

var validateInputCmd = &cobra.Command{
	Use:   "input <rule-type> <value>",
	Short: "Validate a value against a rule",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		result := h.Rules.ValidateInput(args[1], args[0])
		if !result.Valid {
			return fmt.Errorf("invalid: %s", result.Error)
		}
		fmt.Fprintln(os.Stdout, "Valid.")
		return nil
	},
}

var validateFieldCmd = &cobra.Command{
	Use:   "field <field-name> <value>",
	Short: "Validate a value against a field's rule",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		result := h.Rules.ValidateField(args[0], args[1])
		if !result.Valid {
			return fmt.Errorf("invalid: %s", result.Error)
		}
		fmt.Fprintln(os.Stdout, "Valid.")
		return nil
	},
}

var validateRulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List validation rules and field bindings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RULE\tPATTERN\tERROR MESSAGE")
		for _, r := range h.Rules.Rules() {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.Type, r.Pattern, r.ErrorMessage)
		}
		w.Flush()

		fields := h.Rules.FieldRules()
		if len(fields) > 0 {
			fmt.Fprintln(os.Stdout)
			w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FIELD\tRULE\tREQUIRED")
			for _, f := range fields {
				fmt.Fprintf(w, "%s\t%s\t%t\n", f.Field, f.RuleType, f.Required)
			}
			w.Flush()
		}
		return nil
	},
}

var validateAddRuleCmd = &cobra.Command{
	Use:   "add-rule <rule-type>",
	Short: "Register a custom validation rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern, _ := cmd.Flags().GetString("pattern")
		message, _ := cmd.Flags().GetString("message")
		description, _ := cmd.Flags().GetString("description")

		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		rule := validation.Rule{Type: args[0], Pattern: pattern, ErrorMessage: message, Description: description}
		if err := h.Rules.Register(cmd.Context(), rule); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Rule %s registered.\n", args[0])
		return nil
	},
}

var validateBindCmd = &cobra.Command{
	Use:   "bind <field-name> <rule-type>",
	Short: "Bind a field to a validation rule",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		required, _ := cmd.Flags().GetBool("required")
		description, _ := cmd.Flags().GetString("description")

		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		fieldRule := validation.FieldRule{Field: args[0], RuleType: args[1], Required: required, Description: description}
		if err := h.Rules.RegisterField(cmd.Context(), fieldRule); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Field %s bound to rule %s.\n", args[0], args[1])
		return nil
	},
}
