package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/sessionhub/internal/types"
)

func init() {
	rootCmd.AddCommand(contextCmd)
	contextCmd.AddCommand(contextSetCmd, contextGetCmd, contextDeleteCmd,
		contextClearCmd, contextListCmd, contextHistoryCmd, contextTransferCmd)

	contextClearCmd.Flags().String("namespace", "", "only clear this namespace")
	contextListCmd.Flags().String("prefix", "", "only list keys with this prefix")
	contextHistoryCmd.Flags().Int("limit", 20, "max snapshots to walk")
	contextTransferCmd.Flags().Bool("overwrite", false, "overwrite existing keys")
}

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Manage session context",
}

var contextSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a context value",
	Long:  "Set a context value. The value is stored as JSON when it parses, as a string otherwise.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		var value any = args[1]
		if json.Valid([]byte(args[1])) {
			value = json.RawMessage(args[1])
		}
		if err := h.Context.Set(cmd.Context(), args[0], value); err != nil {
			return fmt.Errorf("set context: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Context %s set.\n", args[0])
		return nil
	},
}

var contextGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a context value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		raw, err := h.Context.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(raw))
		return nil
	},
}

var contextDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a context key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		if err := h.Context.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Context %s deleted.\n", args[0])
		return nil
	},
}

var contextClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear context keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		namespace, _ := cmd.Flags().GetString("namespace")

		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		if err := h.Context.Clear(cmd.Context(), namespace); err != nil {
			return err
		}
		if namespace != "" {
			fmt.Fprintf(os.Stdout, "Namespace %s cleared.\n", namespace)
		} else {
			fmt.Fprintln(os.Stdout, "Context cleared.")
		}
		return nil
	},
}

var contextListCmd = &cobra.Command{
	Use:   "list",
	Short: "List context keys and values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix, _ := cmd.Flags().GetString("prefix")

		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		keys, err := h.Context.Keys(cmd.Context(), prefix)
		if err != nil {
			return err
		}
		for _, k := range keys {
			raw, err := h.Context.Get(cmd.Context(), k)
			if err != nil {
				continue
			}
			fmt.Fprintf(os.Stdout, "%s = %s\n", k, string(raw))
		}
		return nil
	},
}

var contextHistoryCmd = &cobra.Command{
	Use:   "history <key>",
	Short: "Show how a context key changed across snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		revisions, err := h.Context.History(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		for _, r := range revisions {
			value := "(absent)"
			if r.Present {
				value = string(r.Value)
			}
			fmt.Fprintf(os.Stdout, "%s  %s\n", r.Timestamp.Format("2006-01-02 15:04:05"), value)
		}
		return nil
	},
}

var contextTransferCmd = &cobra.Command{
	Use:   "transfer <session-id>",
	Short: "Copy another session's context into the current one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		overwrite, _ := cmd.Flags().GetBool("overwrite")

		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		n, err := h.Context.Transfer(cmd.Context(), types.SessionID(args[0]), overwrite)
		if err != nil {
			return fmt.Errorf("transfer context: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Copied %d context keys from %s.\n", n, args[0])
		return nil
	},
}
