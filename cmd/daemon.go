// daemon.go: PID file and signal helpers for a running serve process.
//
// Usage:
//
//	tourguide stop    send SIGTERM to the server
//	tourguide reload  send SIGHUP (re-read config, swap LLM provider, reload event rules)
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dayuer/tourguide-go/internal/config"
	"github.com/dayuer/tourguide-go/internal/utils"
)

const pidFileName = "tourguide.pid"

func init() {
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
}

// --- PID file helpers ---

func pidFilePath() string {
	return filepath.Join(config.GetDataDir(), pidFileName)
}

func writePID(pid int) error {
	if _, err := utils.EnsureDir(config.GetDataDir()); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0644)
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePID() {
	os.Remove(pidFilePath())
}

// isRunning checks if a process with the given PID is alive.
func isRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// runningPID returns the live server PID, clearing a stale PID file.
func runningPID() (int, bool) {
	pid, err := readPID()
	if err != nil {
		return 0, false
	}
	if !isRunning(pid) {
		removePID()
		return 0, false
	}
	return pid, true
}

func signalServer(sig syscall.Signal) (int, error) {
	pid, ok := runningPID()
	if !ok {
		return 0, fmt.Errorf("tourguide server is not running")
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, err
	}
	return pid, proc.Signal(sig)
}

// --- Subcommands ---

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running tourguide server",
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := signalServer(syscall.SIGTERM)
		if err != nil {
			return err
		}
		fmt.Printf("🛑 Stopping server (PID %d)...\n", pid)

		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) {
			if !isRunning(pid) {
				fmt.Println("✅ Server stopped")
				return nil
			}
			time.Sleep(500 * time.Millisecond)
		}
		return fmt.Errorf("server (PID %d) did not exit within 10s", pid)
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Send SIGHUP to the server (reload LLM config)",
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := signalServer(syscall.SIGHUP)
		if err != nil {
			return err
		}
		fmt.Printf("✅ Reload signal sent (PID %d)\n", pid)
		return nil
	},
}
