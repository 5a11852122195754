package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/sessionhub/internal/types"
)

func init() {
	rootCmd.AddCommand(continuityCmd, backupCmd)
	continuityCmd.AddCommand(continuityGenerateCmd, continuityCrashReportCmd)

	continuityGenerateCmd.Flags().Bool("final", false, "write into the completed partition")
}

var continuityCmd = &cobra.Command{
	Use:   "continuity",
	Short: "Generate handoff documents",
}

var continuityGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write the continuity document for the current session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		final, _ := cmd.Flags().GetBool("final")

		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		path, err := h.Continuity.Generate(cmd.Context(), final)
		if err != nil {
			return fmt.Errorf("generate continuity document: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Continuity document written to %s.\n", path)
		return nil
	},
}

var continuityCrashReportCmd = &cobra.Command{
	Use:   "crash-report <session-id>",
	Short: "Write a crash report for a crashed session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		path, err := h.Continuity.CrashReport(cmd.Context(), types.SessionID(args[0]))
		if err != nil {
			return fmt.Errorf("generate crash report: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Crash report written to %s.\n", path)
		return nil
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up the database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		path, err := h.Backup(cmd.Context())
		if err != nil {
			return fmt.Errorf("backup: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Database backed up to %s.\n", path)
		return nil
	},
}
