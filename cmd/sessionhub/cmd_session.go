package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/sessionhub/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionStartCmd, sessionEndCmd, sessionResumeCmd,
		sessionStatusCmd, sessionListCmd, sessionCrashedCmd, sessionSnapshotsCmd,
		sessionSimulateCrashCmd)

	sessionEndCmd.Flags().String("summary", "", "session summary")
	sessionListCmd.Flags().Int("limit", 10, "max sessions to list")
	sessionSnapshotsCmd.Flags().Int("limit", 20, "max snapshots to list")
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
}

var sessionStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		sess, err := h.Sessions.Start(cmd.Context())
		if err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Session %s started.\n", sess.ID)
		return nil
	},
}

var sessionEndCmd = &cobra.Command{
	Use:   "end",
	Short: "End the current session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, _ := cmd.Flags().GetString("summary")

		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		id := h.Sessions.CurrentID()
		if id == "" {
			return types.ErrNoActiveSession
		}
		if _, err := h.Continuity.Generate(cmd.Context(), false); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: continuity document not generated: %v\n", err)
		}
		if err := h.Sessions.End(cmd.Context(), summary); err != nil {
			return fmt.Errorf("end session: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Session %s ended.\n", id)
		return nil
	},
}

var sessionResumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a crashed session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		sess, err := h.Sessions.Resume(cmd.Context(), types.SessionID(args[0]))
		if err != nil {
			return fmt.Errorf("resume session: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Session %s resumed as %s.\n", args[0], sess.ID)

		// In-flight rows stay bound to the crashed session id.
		pending, err := h.Actions.Pending(cmd.Context(), types.SessionID(args[0]))
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			fmt.Fprintf(os.Stdout, "%d pending actions to reconcile:\n", len(pending))
			for _, a := range pending {
				fmt.Fprintf(os.Stdout, "  %s  %s  started %s\n", a.ID, a.Type, a.StartTime.Format(time.RFC3339))
			}
		}
		return nil
	},
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		info, err := h.Sessions.Info(cmd.Context(), "")
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Session:   %s\n", info.ID)
		fmt.Fprintf(os.Stdout, "Status:    %s\n", info.Status)
		fmt.Fprintf(os.Stdout, "Started:   %s\n", info.StartTime.Format(time.RFC3339))
		fmt.Fprintf(os.Stdout, "Messages:  %d\n", info.MessageCount)
		if info.ResumedFrom != "" {
			fmt.Fprintf(os.Stdout, "Resumed:   %s\n", info.ResumedFrom)
		}
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		sessions, err := h.Sessions.History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		printSessions(sessions)
		return nil
	},
}

var sessionCrashedCmd = &cobra.Command{
	Use:   "crashed",
	Short: "List crashed sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		sessions, err := h.Sessions.CrashedSessions(cmd.Context())
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Fprintln(os.Stdout, "No crashed sessions.")
			return nil
		}
		printSessions(sessions)
		return nil
	},
}

var sessionSnapshotsCmd = &cobra.Command{
	Use:   "snapshots [session-id]",
	Short: "List state snapshots for a session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		var id types.SessionID
		if len(args) == 1 {
			id = types.SessionID(args[0])
		}
		snaps, err := h.Sessions.Snapshots(cmd.Context(), id, limit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SNAPSHOT\tSESSION\tTIMESTAMP")
		for _, s := range snaps {
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.SessionID, s.Timestamp.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var sessionSimulateCrashCmd = &cobra.Command{
	Use:   "simulate-crash",
	Short: "Exit without releasing the session lock",
	Long:  "Leaves the lock file in place so the next invocation runs crash recovery. For testing recovery flows.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHub(cmd)
		if err != nil {
			return err
		}

		id := h.Sessions.CurrentID()
		if id == "" {
			h.Close()
			return types.ErrNoActiveSession
		}
		// Close only the store; skipping CleanExit leaves the lock
		// behind, which is exactly what a real crash looks like.
		h.Store.Close()
		fmt.Fprintf(os.Stdout, "Simulated crash of session %s. Run any command to trigger recovery.\n", id)
		return nil
	},
}

func printSessions(sessions []types.Session) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSTATUS\tSTARTED\tENDED\tSUMMARY")
	for _, s := range sessions {
		ended := "-"
		if s.EndTime != nil {
			ended = s.EndTime.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Status, s.StartTime.Format(time.RFC3339), ended, s.Summary)
	}
	w.Flush()
}
