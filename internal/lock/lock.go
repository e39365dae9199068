// Package lock provides single-instance enforcement for a vault: only one
// scheduler process may run against a given vault at a time.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/assadsharif/fte/internal/ferrors"
)

// FileName is the PID guard file kept at the vault root.
const FileName = ".fte.pid"

// Guard prevents two scheduler processes from running against the same
// vault concurrently.
type Guard struct {
	vaultPath string
}

// New returns a Guard for the given vault path.
func New(vaultPath string) *Guard {
	return &Guard{vaultPath: vaultPath}
}

func (g *Guard) path() string {
	return filepath.Join(g.vaultPath, FileName)
}

// Acquire checks for a live competing process and, finding none, claims
// the guard for the current process. A stale guard file (dead PID, or
// unparseable content) is cleaned up and claimed rather than treated as
// an error.
func (g *Guard) Acquire() error {
	path := g.path()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("read pid guard: %w", err)
		}
	} else {
		pid, perr := strconv.Atoi(strings.TrimSpace(string(data)))
		if perr == nil && processAlive(pid) {
			return ferrors.AlreadyRunning(pid)
		}
	}

	if err := os.MkdirAll(g.vaultPath, 0o755); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// Release removes the guard file. Safe to call even if never acquired.
func (g *Guard) Release() {
	_ = os.Remove(g.path())
}

func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
