package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hub with scheduled maintenance",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, "sessionhub.pid")
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	h, err := openHub(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	pidPath, err := writePIDFile(h.Config.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx := cmd.Context()
	h.Queue.Start(ctx)

	maintenance, err := h.Maintenance(ctx)
	if err != nil {
		return fmt.Errorf("build maintenance schedule: %w", err)
	}
	if err := maintenance.Start(ctx); err != nil {
		return fmt.Errorf("start maintenance schedule: %w", err)
	}
	defer maintenance.Stop()

	slog.Info("sessionhub started",
		"data_dir", h.Config.DataDir,
		"db_path", h.Config.Database.Path,
		"session", string(h.Sessions.CurrentID()),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down")
	if !h.Queue.WaitIdle(10 * time.Second) {
		slog.Warn("shutting down with actions still in flight")
	}
	return nil
}
