package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// runInit writes settings.json from flags, starting from the current
// configuration so unset flags keep their values.
func runInit(args []string, out io.Writer) error {
	cfg := loadConfig()

	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "database path")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.EdgePolicy, "edge-policy", cfg.EdgePolicy, "multi-edge policy: strict or lowest_id")
	fs.BoolVar(&cfg.Scheduler, "scheduler", cfg.Scheduler, "run scheduled reports while serving")
	fs.StringVar(&cfg.SchedulerInterval, "scheduler-interval", cfg.SchedulerInterval, "how often due schedules are checked")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	dir := carepathDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	path := settingsPath()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	fmt.Fprintf(out, "Config written to %s\n", path)

	if pid, ok := signalRunningServer(); ok {
		fmt.Fprintf(out, "Signaled running server (PID %d) to reload configuration\n", pid)
	}
	return nil
}

// signalRunningServer sends SIGHUP to a running carepath server (via pidfile).
func signalRunningServer() (int, bool) {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	// Check if process is alive.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return 0, false
	}
	return pid, true
}

func dirOf(dbPath string) string {
	return filepath.Dir(strings.TrimPrefix(dbPath, "file:"))
}
