package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/sessionhub/internal/types"
)

func init() {
	rootCmd.AddCommand(messageCmd)
	messageCmd.AddCommand(messageAddCmd, messageListCmd)

	messageListCmd.Flags().String("session", "", "session id (default: current)")
	messageListCmd.Flags().Int("limit", 50, "max messages to list")
}

var messageCmd = &cobra.Command{
	Use:   "message",
	Short: "Record and list conversation messages",
}

var messageAddCmd = &cobra.Command{
	Use:   "add <source> <content>",
	Short: "Record a message in the current session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		id, err := h.Sessions.RecordMessage(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("record message: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Message %s recorded.\n", id)
		return nil
	},
}

var messageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a session's messages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionFlag, _ := cmd.Flags().GetString("session")
		limit, _ := cmd.Flags().GetInt("limit")

		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		messages, err := h.Sessions.Messages(cmd.Context(), types.SessionID(sessionFlag), limit)
		if err != nil {
			return err
		}
		for _, m := range messages {
			fmt.Fprintf(os.Stdout, "[%s] %s: %s\n", m.Timestamp.Format("15:04:05"), m.Source, m.Content)
		}
		return nil
	},
}
