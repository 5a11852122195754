package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/sessionhub/internal/settings"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd,
		configResetCmd, configExportCmd, configImportCmd)

	configSetCmd.Flags().String("type", string(settings.TypeText), "value type (TEXT, INTEGER, FLOAT, BOOLEAN, JSON)")
	configSetCmd.Flags().String("description", "", "setting description")
	configResetCmd.Flags().Bool("all", false, "reset every setting")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage runtime settings",
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		all, err := h.Settings.List(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tVALUE\tTYPE\tDESCRIPTION")
		for _, s := range all {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Key, s.Value, s.Type, s.Description)
		}
		return w.Flush()
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		value, err := h.Settings.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%v\n", value)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		typeFlag, _ := cmd.Flags().GetString("type")
		description, _ := cmd.Flags().GetString("description")

		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		if err := h.Settings.Set(cmd.Context(), args[0], args[1], settings.Type(typeFlag), description); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Setting %s updated.\n", args[0])
		return nil
	},
}

var configResetCmd = &cobra.Command{
	Use:   "reset [key]",
	Short: "Reset settings to defaults",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		switch {
		case all:
			if err := h.Settings.ResetAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "All settings reset.")
		case len(args) == 1:
			if err := h.Settings.Reset(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Setting %s reset.\n", args[0])
		default:
			return fmt.Errorf("specify a key or --all")
		}
		return nil
	},
}

var configExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export settings to a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		data, err := h.Settings.Export(cmd.Context())
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[0], data, 0644); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Settings exported to %s.\n", args[0])
		return nil
	},
}

var configImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import settings from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read import: %w", err)
		}

		h, err := openHub(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		if err := h.Settings.Import(cmd.Context(), data); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Settings imported from %s.\n", args[0])
		return nil
	},
}
