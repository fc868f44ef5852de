package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// runInstall writes settings.json from flags, then reloads a running server
// or starts one.
func runInstall(args []string) error {
	fs := flag.NewFlagSet("install", flag.ContinueOnError)
	listenAddr := fs.String("listen-addr", ":4200", "TCP listen address")
	backendURL := fs.String("backend-url", "http://localhost:8000", "deployment service base URL")
	dbPath := fs.String("db-path", "", "database path (default: ~/.shipyard/shipyard.db)")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	logJSON := fs.Bool("log-json", false, "emit JSON logs")
	pollInterval := fs.String("poll-interval", "2s", "task status poll interval")
	schedulerFlag := fs.Bool("scheduler", false, "enable scheduled publishes")
	noStart := fs.Bool("no-start", false, "only write settings.json")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dir := shipyardDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}

	// Keep fields that have no flag, such as policies.
	cfg := defaultConfig()
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}
	cfg.ListenAddr = *listenAddr
	cfg.BackendURL = *backendURL
	cfg.LogLevel = *logLevel
	cfg.LogJSON = *logJSON
	cfg.PollInterval = *pollInterval
	cfg.Scheduler = *schedulerFlag
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	} else {
		cfg.DBPath = filepath.Join(dir, "shipyard.db")
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	path := settingsPath()
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	fmt.Printf("Config written to %s\n", path)

	if *noStart || signalRunningServer() {
		return nil
	}
	return runServe(loadConfig())
}

// signalRunningServer sends SIGHUP to a running shipyard server found via the
// pidfile. It reports whether a server was signaled.
func signalRunningServer() bool {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return false
	}
	fmt.Printf("Signaled running server (PID %d) to reload configuration\n", pid)
	return true
}
