package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/sessionhub/internal/types"
)

func init() {
	rootCmd.AddCommand(actionCmd)
	actionCmd.AddCommand(actionRecordCmd, actionCompleteCmd, actionCancelCmd,
		actionRetryCmd, actionPendingCmd, actionListCmd, actionStatsCmd)

	actionRecordCmd.Flags().String("type", "", "action type (required)")
	actionRecordCmd.Flags().String("params", "", "JSON action parameters")
	_ = actionRecordCmd.MarkFlagRequired("type")

	actionCompleteCmd.Flags().String("result", "", "JSON action result")
	actionCompleteCmd.Flags().String("status", string(types.ActionCompleted), "terminal status")

	actionPendingCmd.Flags().String("session", "", "session id (default: current)")
	actionListCmd.Flags().String("session", "", "session id (default: current)")
	actionListCmd.Flags().Int("limit", 20, "max actions to list")
	actionStatsCmd.Flags().String("session", "", "session id (default: current)")
}

var actionCmd = &cobra.Command{
	Use:   "action",
	Short: "Manage tracked actions",
}

// parseJSONFlag validates a JSON flag value before it goes anywhere near
// the store. Empty means no payload.
func parseJSONFlag(value, flag string) (json.RawMessage, error) {
	if value == "" {
		return nil, nil
	}
	if !json.Valid([]byte(value)) {
		return nil, fmt.Errorf("--%s must be valid JSON", flag)
	}
	return json.RawMessage(value), nil
}

var actionRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record the start of an action",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		actionType, _ := cmd.Flags().GetString("type")
		paramsFlag, _ := cmd.Flags().GetString("params")
		params, err := parseJSONFlag(paramsFlag, "params")
		if err != nil {
			return err
		}

		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		id, err := h.Actions.Record(cmd.Context(), actionType, params)
		if err != nil {
			return fmt.Errorf("record action: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Action %s recorded.\n", id)
		return nil
	},
}

var actionCompleteCmd = &cobra.Command{
	Use:   "complete <action-id>",
	Short: "Mark an action complete",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resultFlag, _ := cmd.Flags().GetString("result")
		status, _ := cmd.Flags().GetString("status")
		result, err := parseJSONFlag(resultFlag, "result")
		if err != nil {
			return err
		}

		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		id := types.ActionID(args[0])
		if err := h.Actions.Complete(cmd.Context(), id, result, types.ActionStatus(status)); err != nil {
			return fmt.Errorf("complete action: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Action %s marked %s.\n", id, status)
		return nil
	},
}

var actionCancelCmd = &cobra.Command{
	Use:   "cancel <action-id>",
	Short: "Cancel a pending action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		id := types.ActionID(args[0])
		if err := h.Actions.Cancel(cmd.Context(), id); err != nil {
			return fmt.Errorf("cancel action: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Action %s canceled.\n", id)
		return nil
	},
}

var actionRetryCmd = &cobra.Command{
	Use:   "retry <action-id>",
	Short: "Retry an action as a new one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		newID, err := h.Actions.Retry(cmd.Context(), types.ActionID(args[0]))
		if err != nil {
			return fmt.Errorf("retry action: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Action %s retried as %s.\n", args[0], newID)
		return nil
	},
}

var actionPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List pending actions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionFlag, _ := cmd.Flags().GetString("session")

		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		pending, err := h.Actions.Pending(cmd.Context(), types.SessionID(sessionFlag))
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Fprintln(os.Stdout, "No pending actions.")
			return nil
		}
		printActions(pending)
		return nil
	},
}

var actionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a session's actions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionFlag, _ := cmd.Flags().GetString("session")
		limit, _ := cmd.Flags().GetInt("limit")

		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		actions, err := h.Actions.SessionActions(cmd.Context(), types.SessionID(sessionFlag), limit)
		if err != nil {
			return err
		}
		printActions(actions)
		return nil
	},
}

var actionStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize a session's actions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionFlag, _ := cmd.Flags().GetString("session")

		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		stats, err := h.Actions.Stats(cmd.Context(), types.SessionID(sessionFlag))
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Total: %d\n", stats.Total)
		for status, n := range stats.StatusCounts {
			fmt.Fprintf(os.Stdout, "  %s: %d\n", status, n)
		}
		if len(stats.TypeCounts) > 0 {
			fmt.Fprintln(os.Stdout, "By type:")
			for actionType, n := range stats.TypeCounts {
				fmt.Fprintf(os.Stdout, "  %s: %d\n", actionType, n)
			}
		}
		return nil
	},
}

func printActions(actions []types.Action) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACTION\tTYPE\tSTATUS\tSTARTED\tENDED")
	for _, a := range actions {
		ended := "-"
		if a.EndTime != nil {
			ended = a.EndTime.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Type, a.Status, a.StartTime.Format(time.RFC3339), ended)
	}
	w.Flush()
}
